// Package elevate checks for and acquires the privileges the system tunnel
// drivers need.
package elevate

import (
	"errors"

	"github.com/user/vpn-orchestrator/internal/logger"
)

// ErrNotPrivileged is returned when elevation is required but not allowed.
var ErrNotPrivileged = errors.New("administrator privileges required")

// Ensure returns nil when the process already runs privileged. Otherwise it
// either fails with ErrNotPrivileged or, when relaunch is set, restarts the
// executable elevated with args and exits once the new process started.
func Ensure(relaunch bool, args []string) error {
	if IsAdmin() {
		return nil
	}
	if !relaunch {
		return ErrNotPrivileged
	}
	logger.Info("Not running as administrator, requesting elevation...")
	return runAsAdmin(args)
}
