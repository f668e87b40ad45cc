package ui

import (
	"bytes"
	"encoding/binary"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShieldImage(t *testing.T) {
	img := shieldImage(stateColors["connected"])

	// Centre of the upper body is filled, the keyhole and corners are not.
	assert.NotZero(t, img.RGBAAt(16, 8).A)
	assert.NotZero(t, img.RGBAAt(8, 20).A)
	assert.Zero(t, img.RGBAAt(16, 13).A)
	assert.Zero(t, img.RGBAAt(0, 31).A)
	assert.Zero(t, img.RGBAAt(31, 0).A)
}

func TestGetIconCaches(t *testing.T) {
	a := GetIcon("connected")
	b := GetIcon("connected")
	require.NotEmpty(t, a)
	assert.Same(t, &a[0], &b[0])
	assert.NotEqual(t, GetIcon("error"), a)
	assert.Equal(t, GetIcon("unknown"), GetIcon("disconnected"))
}

func TestPNGToICO(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, shieldImage(idleColor)))
	data := buf.Bytes()

	ico := pngToICO(data, 32)
	require.Len(t, ico, 22+len(data))
	assert.Equal(t, []byte{0, 0, 1, 0, 1, 0}, ico[:6])
	assert.Equal(t, byte(32), ico[6])
	assert.Equal(t, uint32(len(data)), binary.LittleEndian.Uint32(ico[14:18]))
	assert.Equal(t, uint32(22), binary.LittleEndian.Uint32(ico[18:22]))
	assert.Equal(t, data, ico[22:])
}
