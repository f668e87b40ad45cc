// Package procutil runs helper programs the same way on every platform.
package procutil

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Command builds a helper command detached from the orchestrator's console.
func Command(ctx context.Context, name string, args ...string) *exec.Cmd {
	return detach(exec.CommandContext(ctx, name, args...))
}

// Run executes argv and folds the combined output into the error.
func Run(ctx context.Context, argv ...string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty command")
	}
	out, err := Command(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return fmt.Errorf("%s: %w", argv[0], err)
		}
		return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
	}
	return nil
}
