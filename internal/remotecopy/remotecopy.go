// Package remotecopy pushes and pulls single files across the shell
// channel using an scp-equivalent copy utility. Remote-to-remote
// transfers are not a primitive here; the executor relays them through
// a scratch directory (pull then push).
package remotecopy

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/syncd/filesync/internal/transport"
)

// Error is returned when a push or pull fails. When the copy utility's
// stderr looks like an authentication prompt, Stderr holds
// transport.PromptMessage instead of the raw stderr text.
type Error struct {
	Op      string
	Host    string
	Stderr  string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("remotecopy: %s to %s: %v", e.Op, e.Host, e.Wrapped)
	}
	msg := e.Stderr
	if msg == "" {
		msg = "scp command failed"
	}
	return fmt.Sprintf("remotecopy: %s to %s: %s", e.Op, e.Host, msg)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Options configures the copy utility invocation; the zero value uses
// "scp" with no extra arguments.
type Options struct {
	CopyCommand string
	ExtraArgs   []string
}

func (o Options) copyCommand() string {
	if o.CopyCommand == "" {
		return "scp"
	}
	return o.CopyCommand
}

// Push copies localPath to host:remotePath.
func Push(ctx context.Context, host, localPath, remotePath string, opts Options) error {
	return run(ctx, "push", host, opts, localPath, fmt.Sprintf("%s:%s", host, remotePath))
}

// Pull copies host:remotePath to localPath.
func Pull(ctx context.Context, host, remotePath, localPath string, opts Options) error {
	return run(ctx, "pull", host, opts, fmt.Sprintf("%s:%s", host, remotePath), localPath)
}

func run(ctx context.Context, op, host string, opts Options, source, destination string) error {
	args := append([]string{}, opts.ExtraArgs...)
	args = append(args, source, destination)

	cmd := exec.CommandContext(ctx, opts.copyCommand(), args...)
	cmd.Stdin = nil

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return &Error{Op: op, Host: host, Wrapped: err}
		}
		trimmed := strings.TrimSpace(stderr.String())
		if containsPrompt(trimmed) {
			return &Error{Op: op, Host: host, Stderr: transport.PromptMessage}
		}
		return &Error{Op: op, Host: host, Stderr: trimmed}
	}
	return nil
}

func containsPrompt(stderr string) bool {
	lowered := strings.ToLower(stderr)
	for _, marker := range []string{"password:", "passphrase", "enter pin", "enter passcode"} {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
