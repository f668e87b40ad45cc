//go:build linux

package logger

import (
	"os"
	"path/filepath"
)

// getLogDir returns $XDG_STATE_HOME/vpn-orchestrator, falling back to the
// directory of the executable.
func getLogDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "vpn-orchestrator")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "vpn-orchestrator")
	}
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
