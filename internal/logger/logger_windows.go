//go:build windows

package logger

import (
	"os"
	"path/filepath"
)

// getLogDir returns %LOCALAPPDATA%\VPN Orchestrator.
func getLogDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "VPN Orchestrator")
	}
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
