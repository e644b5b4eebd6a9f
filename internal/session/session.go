// Package session manages the named remote tmux session that hosts the job.
// At most one session with a given name is ever running: a launch against a
// live name drains the old session first.
package session

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/user/remoterun/internal/ctxlog"
	"github.com/user/remoterun/internal/remote"
)

// State of a named session on the remote host. Queried live, never cached,
// so operator actions taken outside this tool are always observed.
type State string

const (
	StateAbsent  State = "absent"
	StateRunning State = "running"
	// StateStopped exists only inside a relaunch: a live session is drained
	// through it before the new one starts. Status never observes it.
	StateStopped State = "stopped"
)

// JobSpec describes one launch request.
type JobSpec struct {
	Session string
	Command string
	WorkDir string
	LogFile string
	Env     map[string]string
}

// Validate reports caller errors before any remote call is attempted.
func (s JobSpec) Validate() error {
	switch {
	case s.Session == "":
		return fmt.Errorf("job spec: session name is empty")
	case s.Command == "":
		return fmt.Errorf("job spec: command is empty")
	case s.WorkDir == "":
		return fmt.Errorf("job spec: working directory is empty")
	case s.LogFile == "":
		return fmt.Errorf("job spec: log file path is empty")
	}
	return nil
}

// Launcher starts, detects and stops the remote job session.
type Launcher struct {
	runner remote.Runner
}

func NewLauncher(runner remote.Runner) *Launcher {
	return &Launcher{runner: runner}
}

// Has reports whether a session named name exists on target. Side-effect
// free; a non-zero tmux exit code means absent.
func (l *Launcher) Has(ctx context.Context, target remote.Target, name string) (bool, error) {
	if err := target.Validate(); err != nil {
		return false, err
	}
	if name == "" {
		return false, fmt.Errorf("session name is empty")
	}
	res, err := l.runner.Run(ctx, target, "tmux has-session -t "+remote.Quote(name))
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

// Status maps Has onto the session state enum.
func (l *Launcher) Status(ctx context.Context, target remote.Target, name string) (State, error) {
	exists, err := l.Has(ctx, target, name)
	if err != nil {
		return StateAbsent, err
	}
	if exists {
		return StateRunning, nil
	}
	return StateAbsent, nil
}

// Stop requests termination of the named session and returns tmux's exit
// code. Non-zero commonly means the session did not exist, which callers do
// not treat as fatal.
func (l *Launcher) Stop(ctx context.Context, target remote.Target, name string) (int, error) {
	if err := target.Validate(); err != nil {
		return 1, err
	}
	if name == "" {
		return 1, fmt.Errorf("session name is empty")
	}
	logger := ctxlog.From(ctx)
	res, err := l.runner.Run(ctx, target, "tmux kill-session -t "+remote.Quote(name))
	if err != nil {
		return res.ExitCode, err
	}
	if res.ExitCode == 0 {
		logger.Info("session stopped", "session", name)
	} else {
		logger.Info("session not stopped, it may not exist", "session", name, "exit_code", res.ExitCode)
	}
	return res.ExitCode, nil
}

// Launch starts spec.Command under a detached tmux session on target, with
// output routed through tee into spec.LogFile. The returned code is the
// launch command's own exit status; the job's exit code is recorded in the
// log's END marker, captured from the first pipeline stage so the tee never
// masks it.
func (l *Launcher) Launch(ctx context.Context, target remote.Target, spec JobSpec) (int, error) {
	if err := target.Validate(); err != nil {
		return 1, err
	}
	if err := spec.Validate(); err != nil {
		return 1, err
	}
	logger := ctxlog.From(ctx)

	exists, err := l.Has(ctx, target, spec.Session)
	if err != nil {
		return 1, err
	}
	if exists {
		logger.Info("session already exists, stopping it before relaunch", "session", spec.Session)
		code, err := l.Stop(ctx, target, spec.Session)
		if err != nil {
			return code, err
		}
		if code != 0 {
			return code, fmt.Errorf("stop existing session %q: exit code %d", spec.Session, code)
		}
	}

	if dir := path.Dir(spec.LogFile); dir != "" && dir != "." && dir != "/" {
		mkdir := "bash -lc " + remote.Quote("mkdir -p "+remote.Quote(dir))
		res, err := l.runner.Run(ctx, target, mkdir)
		if err != nil {
			return 1, err
		}
		if res.ExitCode != 0 {
			return res.ExitCode, fmt.Errorf("create remote log directory %q: exit code %d", dir, res.ExitCode)
		}
	}

	body := buildSessionBody(spec, false)
	tmuxCmd := "tmux new-session -d -s " + remote.Quote(spec.Session) + " " +
		remote.Quote("bash -lc "+remote.Quote(body))

	display := "tmux new-session -d -s " + spec.Session + " \"bash -lc " +
		remote.Quote(buildSessionBody(spec, true)) + "\""
	logger.Info("launching job", "session", spec.Session, "command", display)

	res, err := l.runner.Run(ctx, target, tmuxCmd)
	if err != nil {
		return res.ExitCode, err
	}
	if res.ExitCode == 0 {
		logger.Info("session created", "session", spec.Session, "log_file", spec.LogFile)
	} else {
		logger.Error("session creation failed", "session", spec.Session, "exit_code", res.ExitCode, "output", strings.TrimSpace(res.Output))
	}
	return res.ExitCode, nil
}

// buildSessionBody assembles the bash fragment run inside tmux. The job's
// exit status is taken from PIPESTATUS[0], the first stage of the pipe into
// tee, because $? after the pipeline would report tee's status instead.
func buildSessionBody(spec JobSpec, redacted bool) string {
	var withEnv string
	if redacted {
		withEnv = remote.RedactedWithEnv(spec.Command, spec.Env)
	} else {
		withEnv = remote.WithEnv(spec.Command, spec.Env)
	}
	quotedLog := remote.Quote(spec.LogFile)
	escaped := strings.ReplaceAll(withEnv, `"`, `\"`)

	startLine := fmt.Sprintf(`echo "[START] $(date -Is) session=%s cmd=%s" | tee -a %s`,
		spec.Session, escaped, quotedLog)
	pipeline := fmt.Sprintf("%s 2>&1 | tee -a %s", withEnv, quotedLog)
	endLine := fmt.Sprintf(`echo "[END] $(date -Is) exit_code=${exit_code}" | tee -a %s`, quotedLog)

	return fmt.Sprintf("cd %s && { %s; %s; exit_code=${PIPESTATUS[0]}; %s; exit $exit_code; }",
		remote.Quote(spec.WorkDir), startLine, pipeline, endLine)
}
