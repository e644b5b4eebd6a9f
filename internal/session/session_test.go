package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/remoterun/internal/remote"
)

// fakeRunner answers each command from a lookup on its prefix and records
// everything it was asked to run.
type fakeRunner struct {
	calls     []string
	responses map[string]remote.CommandResult
}

func (f *fakeRunner) Run(_ context.Context, _ remote.Target, command string) (remote.CommandResult, error) {
	f.calls = append(f.calls, command)
	for prefix, res := range f.responses {
		if strings.HasPrefix(command, prefix) {
			return res, nil
		}
	}
	return remote.CommandResult{}, nil
}

func (f *fakeRunner) Start(context.Context, remote.Target, string) (remote.Stream, error) {
	panic("not used")
}

func testTarget() remote.Target {
	return remote.Target{Host: "203.0.113.9", User: "ubuntu"}
}

func testSpec() JobSpec {
	return JobSpec{
		Session: "job",
		Command: "python run.py",
		WorkDir: "/opt/job",
		LogFile: "/opt/job/logs/run.log",
	}
}

func callsWithPrefix(calls []string, prefix string) []string {
	var out []string
	for _, c := range calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func TestLaunchFreshSession(t *testing.T) {
	runner := &fakeRunner{responses: map[string]remote.CommandResult{
		"tmux has-session": {ExitCode: 1},
	}}
	launcher := NewLauncher(runner)

	code, err := launcher.Launch(context.Background(), testTarget(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	assert.Empty(t, callsWithPrefix(runner.calls, "tmux kill-session"))
	require.Len(t, callsWithPrefix(runner.calls, "tmux new-session"), 1)
	require.Len(t, callsWithPrefix(runner.calls, "bash -lc"), 1, "log directory mkdir")
}

func TestLaunchStopsExistingSessionFirst(t *testing.T) {
	runner := &fakeRunner{responses: map[string]remote.CommandResult{
		"tmux has-session": {ExitCode: 0},
	}}
	launcher := NewLauncher(runner)

	code, err := launcher.Launch(context.Background(), testTarget(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	var killIdx, newIdx int
	for i, c := range runner.calls {
		if strings.HasPrefix(c, "tmux kill-session") {
			killIdx = i
		}
		if strings.HasPrefix(c, "tmux new-session") {
			newIdx = i
		}
	}
	require.Len(t, callsWithPrefix(runner.calls, "tmux kill-session"), 1)
	assert.Less(t, killIdx, newIdx, "stop must precede relaunch")
}

func TestLaunchAbortsWhenStopFails(t *testing.T) {
	runner := &fakeRunner{responses: map[string]remote.CommandResult{
		"tmux has-session":  {ExitCode: 0},
		"tmux kill-session": {ExitCode: 1},
	}}
	launcher := NewLauncher(runner)

	code, err := launcher.Launch(context.Background(), testTarget(), testSpec())
	require.Error(t, err)
	assert.Equal(t, 1, code)
	assert.Empty(t, callsWithPrefix(runner.calls, "tmux new-session"))
}

func TestLaunchRejectsIncompleteSpec(t *testing.T) {
	launcher := NewLauncher(&fakeRunner{})

	spec := testSpec()
	spec.Command = ""
	_, err := launcher.Launch(context.Background(), testTarget(), spec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command")

	spec = testSpec()
	spec.LogFile = ""
	_, err = launcher.Launch(context.Background(), testTarget(), spec)
	require.Error(t, err)
}

func TestStopMissingSessionIsNotFatal(t *testing.T) {
	runner := &fakeRunner{responses: map[string]remote.CommandResult{
		"tmux kill-session": {ExitCode: 1},
	}}
	launcher := NewLauncher(runner)

	code, err := launcher.Stop(context.Background(), testTarget(), "job")
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestStatus(t *testing.T) {
	runner := &fakeRunner{responses: map[string]remote.CommandResult{
		"tmux has-session": {ExitCode: 0},
	}}
	launcher := NewLauncher(runner)

	state, err := launcher.Status(context.Background(), testTarget(), "job")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, state)

	runner.responses["tmux has-session"] = remote.CommandResult{ExitCode: 1}
	state, err = launcher.Status(context.Background(), testTarget(), "job")
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, state)
}

func TestBuildSessionBody(t *testing.T) {
	spec := testSpec()
	spec.Env = map[string]string{"MODEL": "large-v3"}
	body := buildSessionBody(spec, false)

	assert.True(t, strings.HasPrefix(body, "cd /opt/job && {"), body)
	assert.Contains(t, body, `[START] $(date -Is) session=job`)
	assert.Contains(t, body, "MODEL=large-v3 python run.py 2>&1 | tee -a /opt/job/logs/run.log")
	assert.Contains(t, body, "exit_code=${PIPESTATUS[0]}")
	assert.Contains(t, body, `[END] $(date -Is) exit_code=${exit_code}`)
	assert.True(t, strings.HasSuffix(body, "exit $exit_code; }"), body)
}

func TestBuildSessionBodyRedactsSecrets(t *testing.T) {
	spec := testSpec()
	spec.Env = map[string]string{"HF_TOKEN": "hf_abc123"}

	real := buildSessionBody(spec, false)
	assert.Contains(t, real, "HF_TOKEN=hf_abc123")

	masked := buildSessionBody(spec, true)
	assert.Contains(t, masked, "HF_TOKEN="+remote.RedactedValue)
	assert.NotContains(t, masked, "hf_abc123")
}

func TestLaunchNeverSendsRedactedValues(t *testing.T) {
	spec := testSpec()
	spec.Env = map[string]string{"HF_TOKEN": "hf_abc123"}
	runner := &fakeRunner{responses: map[string]remote.CommandResult{
		"tmux has-session": {ExitCode: 1},
	}}
	launcher := NewLauncher(runner)

	_, err := launcher.Launch(context.Background(), testTarget(), spec)
	require.NoError(t, err)

	launches := callsWithPrefix(runner.calls, "tmux new-session")
	require.Len(t, launches, 1)
	assert.Contains(t, launches[0], "hf_abc123")
	assert.NotContains(t, launches[0], remote.RedactedValue)
}

func TestRotateLogCommandShape(t *testing.T) {
	runner := &fakeRunner{}
	launcher := NewLauncher(runner)

	err := launcher.RotateLog(context.Background(), testTarget(), "/opt/job/logs/run.log", 5)
	require.NoError(t, err)
	require.Len(t, runner.calls, 1)
	cmd := runner.calls[0]
	assert.Contains(t, cmd, "mv /opt/job/logs/run.log /opt/job/logs/run.log.")
	assert.Contains(t, cmd, "tail -n +6")
	assert.Contains(t, cmd, "xargs -r rm -f --")
}

func TestCleanOutputsGuards(t *testing.T) {
	launcher := NewLauncher(&fakeRunner{})

	require.Error(t, launcher.CleanOutputs(context.Background(), testTarget(), ""))
	require.Error(t, launcher.CleanOutputs(context.Background(), testTarget(), "/"))
}

func TestCleanOutputsCommandShape(t *testing.T) {
	runner := &fakeRunner{}
	launcher := NewLauncher(runner)

	err := launcher.CleanOutputs(context.Background(), testTarget(), "/opt/job/output")
	require.NoError(t, err)
	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0], "find /opt/job/output -mindepth 1 -delete")
}
