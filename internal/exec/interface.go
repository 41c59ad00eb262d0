// Package exec runs external commands: one-shot commands for the external
// patch generator and long-running services for dynamic extraction.
package exec

import (
	"context"
)

// CommandRunner runs external commands. Tests substitute a fake.
type CommandRunner interface {
	// RunShell executes a command line through "sh -c" with stdin attached
	// and returns stdout only.
	RunShell(ctx context.Context, workDir string, command string, stdin []byte) (output []byte, err error)
}
