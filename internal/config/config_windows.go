//go:build windows

package config

import (
	"os"
	"path/filepath"
)

// GetConfigPath returns the configuration path next to the executable.
func GetConfigPath() string {
	return configPathNextToExe()
}

func configPathNextToExe() string {
	exe, err := os.Executable()
	if err != nil {
		return "config.yaml" // fallback: current directory
	}
	return filepath.Join(filepath.Dir(exe), "config.yaml")
}

// defaultProfilesDir returns %APPDATA%\VPN Orchestrator\profiles.
func defaultProfilesDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "profiles"
	}
	return filepath.Join(dir, "VPN Orchestrator", "profiles")
}
