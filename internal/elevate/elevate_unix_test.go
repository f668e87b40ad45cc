//go:build linux || darwin

package elevate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoted(t *testing.T) {
	assert.Equal(t, `'run'`, quoted("run"))
	assert.Equal(t, `'it'\''s'`, quoted("it's"))
}

func TestEscapeAppleScript(t *testing.T) {
	assert.Equal(t, `say \"hi\" \\ bye`, escapeAppleScript(`say "hi" \ bye`))
}

func TestEnsureWithoutRelaunch(t *testing.T) {
	err := Ensure(false, nil)
	if IsAdmin() {
		assert.NoError(t, err)
	} else {
		assert.ErrorIs(t, err, ErrNotPrivileged)
	}
}
