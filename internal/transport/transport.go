// Package transport runs commands on a remote endpoint through an opaque
// shell channel (conceptually an ssh(1) wrapper) and detects the failure
// modes that must never be retried: authentication failures and
// interactive prompts.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	shellquote "github.com/kballard/go-shellquote"
)

// TransportError is returned when the child process itself could not be
// launched (not when the remote command merely exits non-zero).
type TransportError struct {
	Command []string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: failed to launch %q: %v", e.Command, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Result is the outcome of one remote command invocation.
type Result struct {
	ExitCode       int
	Stdout         string
	Stderr         string
	AuthFailed     bool
	PromptDetected bool
}

// Endpoint carries the information the transport needs to reach a remote
// host: the host itself, and the shell command used to get there
// (defaults to "ssh").
type Endpoint struct {
	Host         string
	ShellCommand string
	ExtraArgs    []string
	Timeout      time.Duration
}

func (e Endpoint) shellCommand() string {
	if e.ShellCommand == "" {
		return "ssh"
	}
	return e.ShellCommand
}

// Run executes remoteCommand on ep.Host via the configured shell command.
// Every token of remoteCommand is individually shell-quoted and joined
// into a single argument passed to the host side, so the remote shell
// sees exactly the command the caller intended regardless of embedded
// spaces or metacharacters. Run never attaches a tty and never forwards
// stdin: any indication of an interactive prompt is surfaced via
// Result.PromptDetected rather than risking a hang.
func Run(ctx context.Context, ep Endpoint, remoteCommand []string) (Result, error) {
	quoted := shellquote.Join(remoteCommand...)

	args := append([]string{}, ep.ExtraArgs...)
	args = append(args, ep.Host, quoted)

	if ep.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ep.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, ep.shellCommand(), args...)
	cmd.Stdin = nil

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, &TransportError{Command: append([]string{ep.shellCommand()}, args...), Err: err}
	}

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !isExitError(err, &exitErr) {
			return Result{}, &TransportError{Command: append([]string{ep.shellCommand()}, args...), Err: err}
		}
		exitCode = exitErr.ExitCode()
	}

	res := Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	res.AuthFailed = containsAuthFailure(res.Stderr)
	res.PromptDetected = containsPrompt(res.Stderr)
	return res, nil
}

func isExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

func containsAuthFailure(stderr string) bool {
	lowered := strings.ToLower(stderr)
	return strings.Contains(lowered, "permission denied") ||
		strings.Contains(lowered, "authentication failed")
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

// PromptMessage is the canonical message used whenever a transport result
// reports an authentication prompt or failure; it must never be retried.
const PromptMessage = "authentication prompt detected; refusing to block"

// RunShell runs command through the local shell (sh -c) with the given
// environment, rather than through a remote Endpoint. This is the
// coordinator's pre-connect hook, which runs once on the local machine
// (e.g. to prime an ssh-agent) before any remote endpoint is touched.
func RunShell(ctx context.Context, command string, env []string) (Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = env
	cmd.Stdin = nil

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, &TransportError{Command: []string{"sh", "-c", command}, Err: err}
	}

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !isExitError(err, &exitErr) {
			return Result{}, &TransportError{Command: []string{"sh", "-c", command}, Err: err}
		}
		exitCode = exitErr.ExitCode()
	}

	return Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}
