package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// CommandResult carries the outcome of one remote command. Output is the
// combined stdout and stderr of the ssh child.
type CommandResult struct {
	ExitCode int
	Output   string
}

// Stream is a long-running remote command whose output is consumed line by
// line. Interrupt sends SIGINT to the local ssh child so the remote side
// (e.g. tail -F) ends cleanly rather than being killed.
type Stream interface {
	Output() io.Reader
	Interrupt() error
	Wait() int
}

// Runner executes commands on a remote target. The interface exists so
// session, transfer and mirror logic can be driven by a fake in tests.
type Runner interface {
	Run(ctx context.Context, t Target, command string) (CommandResult, error)
	Start(ctx context.Context, t Target, command string) (Stream, error)
}

// ExecRunner runs commands through the system ssh client.
type ExecRunner struct {
	// SSHPath overrides the ssh binary location; empty means $PATH lookup.
	SSHPath string
}

func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) sshBinary() string {
	if r.SSHPath != "" {
		return r.SSHPath
	}
	return "ssh"
}

// Run executes command on t and waits for it. A non-zero remote exit code is
// not an error; err is set only when the ssh process could not run at all.
func (r *ExecRunner) Run(ctx context.Context, t Target, command string) (CommandResult, error) {
	if err := t.Validate(); err != nil {
		return CommandResult{ExitCode: 1}, err
	}
	args := append(t.SSHArgs(), command)
	cmd := exec.CommandContext(ctx, r.sshBinary(), args...)
	out, err := cmd.CombinedOutput()
	res := CommandResult{Output: string(out)}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		res.ExitCode = 1
		return res, fmt.Errorf("ssh %s: %w", t.Addr(), err)
	}
	return res, nil
}

// Start launches command on t and returns a handle for streaming its merged
// output. The caller owns Wait.
func (r *ExecRunner) Start(ctx context.Context, t Target, command string) (Stream, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	args := append(t.SSHArgs(), command)
	cmd := interruptibleCommand(ctx, r.sshBinary(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ssh %s: stdout pipe: %w", t.Addr(), err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ssh %s: %w", t.Addr(), err)
	}
	return &execStream{cmd: cmd, out: stdout}, nil
}

// interruptibleCommand builds a command whose context cancellation delivers
// SIGINT instead of the default SIGKILL, so the remote side of a stream
// (tail -F) ends cleanly. WaitDelay bounds how long a lingering child can
// hold Wait before the hard kill.
func interruptibleCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 5 * time.Second
	return cmd
}

type execStream struct {
	cmd *exec.Cmd
	out io.ReadCloser
}

func (s *execStream) Output() io.Reader { return s.out }

func (s *execStream) Interrupt() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Signal(os.Interrupt)
}

func (s *execStream) Wait() int {
	err := s.cmd.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
