//go:build darwin

package main

import (
	"os"
	"strings"
)

// Processes started by launchd get a minimal PATH without the Homebrew and
// MacPorts directories the tunnel helpers live in.
func init() {
	current := os.Getenv("PATH")
	have := map[string]bool{}
	for _, p := range strings.Split(current, ":") {
		have[p] = true
	}
	dirs := []string{current}
	for _, p := range []string{
		"/opt/homebrew/bin", "/opt/homebrew/sbin",
		"/usr/local/bin", "/usr/local/sbin",
		"/opt/local/bin", "/opt/local/sbin",
	} {
		if !have[p] {
			dirs = append(dirs, p)
		}
	}
	os.Setenv("PATH", strings.Join(dirs, ":"))
}
