//go:build !linux && !darwin && !windows

package config

// GetConfigPath returns config.yaml in the working directory.
func GetConfigPath() string {
	return "config.yaml"
}

func defaultProfilesDir() string {
	return "profiles"
}
