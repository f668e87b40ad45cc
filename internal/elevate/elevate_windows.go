//go:build windows

package elevate

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/windows"
)

// IsAdmin reports whether the process token is a member of Administrators.
func IsAdmin() bool {
	var sid *windows.SID
	err := windows.AllocateAndInitializeSid(
		&windows.SECURITY_NT_AUTHORITY,
		2,
		windows.SECURITY_BUILTIN_DOMAIN_RID,
		windows.DOMAIN_ALIAS_RID_ADMINS,
		0, 0, 0, 0, 0, 0,
		&sid,
	)
	if err != nil {
		return false
	}
	defer windows.FreeSid(sid)

	member, err := windows.Token(0).IsMember(sid)
	if err != nil {
		return false
	}
	return member
}

// runAsAdmin relaunches through the UAC prompt. A cancelled prompt is an error.
func runAsAdmin(args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	escaped := make([]string, len(args))
	for i, a := range args {
		escaped[i] = windows.EscapeArg(a)
	}

	verb, _ := windows.UTF16PtrFromString("runas")
	file, _ := windows.UTF16PtrFromString(exe)
	params, _ := windows.UTF16PtrFromString(strings.Join(escaped, " "))

	if err := windows.ShellExecute(0, verb, file, params, nil, windows.SW_NORMAL); err != nil {
		return fmt.Errorf("%w: UAC elevation failed or was cancelled: %v", ErrNotPrivileged, err)
	}
	os.Exit(0)
	return nil
}
