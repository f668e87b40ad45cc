//go:build !linux && !darwin && !windows

package logger

import (
	"os"
	"path/filepath"
)

// getLogDir returns the directory of the executable.
func getLogDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}
