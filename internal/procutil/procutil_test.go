//go:build !windows

package procutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRun(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, Run(ctx, "sh", "-c", "exit 0"))

	err := Run(ctx, "sh", "-c", "echo boom >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "sh:")

	assert.Error(t, Run(ctx))
}

func TestCommandRunsInOwnProcessGroup(t *testing.T) {
	cmd := Command(context.Background(), "sleep", "5")
	require.NotNil(t, cmd.SysProcAttr)
	assert.True(t, cmd.SysProcAttr.Setpgid)

	require.NoError(t, cmd.Start())
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	pgid, err := unix.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pgid)
	assert.NotEqual(t, unix.Getpgrp(), pgid)
}
