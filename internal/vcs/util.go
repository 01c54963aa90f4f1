package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// ===================
// Command Execution Utilities
// ===================

// ExecOptions configures a command run through Run.
type ExecOptions struct {
	// Dir is the working directory.
	Dir string

	// Env is appended to the current process environment.
	Env []string

	// Stdin is fed to the command when non-nil.
	Stdin io.Reader

	// Timeout bounds the command. Zero means no timeout beyond ctx.
	Timeout time.Duration
}

// Run executes a command and returns its stdout. A non-zero exit is
// returned as an error carrying the trimmed stderr, and stdout is still
// returned so callers that treat some exit codes as results can read it.
//
// Example:
//
//	out, err := Run(ctx, ExecOptions{Dir: root, Env: []string{"GIT_INDEX_FILE=" + idx}},
//	    "git", "write-tree")
func Run(ctx context.Context, opts ExecOptions, name string, args ...string) ([]byte, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return stdout.Bytes(), fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), ErrTimeout)
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", name, ErrVCSNotAvailable)
		}
		if stderr.Len() > 0 {
			return stdout.Bytes(), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return stdout.Bytes(), err
	}

	return stdout.Bytes(), nil
}

// ===================
// Output Parsing Utilities
// ===================

// ParseLines splits command output into non-empty lines.
func ParseLines(output []byte) []string {
	if len(output) == 0 {
		return nil
	}

	lines := strings.Split(string(output), "\n")
	result := make([]string, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}

	return result
}

// TrimOutput trims whitespace and trailing newlines from command output.
func TrimOutput(output []byte) string {
	return strings.TrimSpace(string(output))
}

// ===================
// Error Utilities
// ===================

// GetExitCode returns the exit code from an error, or -1 if not an exit error.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}

	return -1
}
