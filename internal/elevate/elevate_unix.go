//go:build linux || darwin

package elevate

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sys/unix"
)

// IsAdmin reports whether the process runs as root.
func IsAdmin() bool {
	return unix.Geteuid() == 0
}

func runAsAdmin(args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}

	// Graphical prompt first; it only works if the launcher starts.
	if name, argv := graphicalLauncher(exe, args); name != "" {
		if path, err := exec.LookPath(name); err == nil {
			cmd := exec.Command(path, argv...)
			cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
			if err := cmd.Start(); err == nil {
				os.Exit(0)
			}
		}
	}

	sudo, err := exec.LookPath("sudo")
	if err != nil {
		return fmt.Errorf("%w: no pkexec, osascript or sudo available", ErrNotPrivileged)
	}
	return unix.Exec(sudo, append([]string{"sudo", exe}, args...), os.Environ())
}

func graphicalLauncher(exe string, args []string) (string, []string) {
	switch runtime.GOOS {
	case "darwin":
		parts := []string{quoted(exe)}
		for _, a := range args {
			parts = append(parts, quoted(a))
		}
		script := fmt.Sprintf(`do shell script "%s" with administrator privileges`,
			escapeAppleScript(strings.Join(parts, " ")))
		return "osascript", []string{"-e", script}
	case "linux":
		if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
			return "", nil
		}
		return "pkexec", append([]string{exe}, args...)
	}
	return "", nil
}

// quoted wraps s in single quotes for the shell.
func quoted(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
