// Package transfer moves directory trees between the local machine and the
// remote host. rsync is preferred for its resumable delta transfers; scp is
// the universal fallback when rsync is missing on either side. Completeness
// is confirmed against a size/path manifest generated remotely.
package transfer

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/user/remoterun/internal/remote"
)

// Transporter is one way of moving bytes. Exactly two variants exist: the
// high-throughput rsync transport and the scp fallback. Selection happens
// once per top-level operation via a capability probe, never inline.
type Transporter interface {
	Name() string
	// NativeFilter reports whether PullTree can apply a name glob during the
	// transfer itself. Without it the engine sweeps the local tree afterward.
	NativeFilter() bool
	PushTree(ctx context.Context, t remote.Target, localDir, remoteDir string) error
	PullTree(ctx context.Context, t remote.Target, remoteDir, localDir, glob string) error
	PullFile(ctx context.Context, t remote.Target, remotePath, localPath string) error
}

// DetectRsync resolves the rsync binary: an explicit override wins,
// otherwise the local search path is probed.
func DetectRsync(override string) (string, bool) {
	if override != "" {
		if _, err := os.Stat(override); err == nil {
			return override, true
		}
		return "", false
	}
	path, err := exec.LookPath("rsync")
	if err != nil {
		return "", false
	}
	return path, true
}

// rsyncTransporter shells out to the local rsync binary with ssh transport.
type rsyncTransporter struct {
	binary string
}

func NewRsync(binary string) Transporter {
	return &rsyncTransporter{binary: binary}
}

func (r *rsyncTransporter) Name() string       { return "rsync" }
func (r *rsyncTransporter) NativeFilter() bool { return true }

func (r *rsyncTransporter) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("rsync: %s: %w", lastLine(out), err)
	}
	return nil
}

// PushTree copies the contents of localDir into remoteDir (trailing-slash
// semantics: the directory's children land directly in the destination).
func (r *rsyncTransporter) PushTree(ctx context.Context, t remote.Target, localDir, remoteDir string) error {
	args := []string{
		"-az", "--partial",
		"-e", t.SSHTransport(),
		localDir + "/",
		t.Addr() + ":" + remote.Quote(remoteDir),
	}
	return r.run(ctx, args)
}

// PullTree copies the contents of remoteDir into localDir. A non-empty glob
// restricts the transfer to matching files while still descending into every
// directory.
func (r *rsyncTransporter) PullTree(ctx context.Context, t remote.Target, remoteDir, localDir, glob string) error {
	args := []string{"-az", "--partial", "-e", t.SSHTransport()}
	if glob != "" {
		args = append(args, "--include", "*/", "--include", glob, "--exclude", "*")
	}
	args = append(args,
		t.Addr()+":"+remote.Quote(remoteDir)+"/",
		localDir,
	)
	return r.run(ctx, args)
}

func (r *rsyncTransporter) PullFile(ctx context.Context, t remote.Target, remotePath, localPath string) error {
	args := []string{
		"-az", "--partial",
		"-e", t.SSHTransport(),
		t.Addr() + ":" + remote.Quote(remotePath),
		localPath,
	}
	return r.run(ctx, args)
}

// scpTransporter is the single-connection fallback. No delta transfer, no
// resume, no filtering during transfer.
type scpTransporter struct{}

func NewSCP() Transporter {
	return &scpTransporter{}
}

func (s *scpTransporter) Name() string       { return "scp" }
func (s *scpTransporter) NativeFilter() bool { return false }

func (s *scpTransporter) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "scp", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("scp: %s: %w", lastLine(out), err)
	}
	return nil
}

// PushTree copies each immediate child of localDir into remoteDir. scp -r on
// the directory itself would nest it one level too deep.
func (s *scpTransporter) PushTree(ctx context.Context, t remote.Target, localDir, remoteDir string) error {
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("read local dir %q: %w", localDir, err)
	}
	dest := t.Addr() + ":" + remote.Quote(remoteDir) + "/"
	for _, entry := range entries {
		args := append(t.SCPArgs(), "-q", "-r", localDir+"/"+entry.Name(), dest)
		if err := s.run(ctx, args); err != nil {
			return err
		}
	}
	return nil
}

// PullTree copies the full remote tree; the glob is ignored here and applied
// by the engine's local sweep afterward.
func (s *scpTransporter) PullTree(ctx context.Context, t remote.Target, remoteDir, localDir, _ string) error {
	args := append(t.SCPArgs(), "-q", "-r",
		t.Addr()+":"+remote.Quote(remoteDir)+"/.",
		localDir,
	)
	return s.run(ctx, args)
}

func (s *scpTransporter) PullFile(ctx context.Context, t remote.Target, remotePath, localPath string) error {
	args := append(t.SCPArgs(), "-q", "-p",
		t.Addr()+":"+remote.Quote(remotePath),
		localPath,
	)
	return s.run(ctx, args)
}

func lastLine(out []byte) string {
	trimmed := string(out)
	for len(trimmed) > 0 && (trimmed[len(trimmed)-1] == '\n' || trimmed[len(trimmed)-1] == '\r') {
		trimmed = trimmed[:len(trimmed)-1]
	}
	for i := len(trimmed) - 1; i >= 0; i-- {
		if trimmed[i] == '\n' {
			return trimmed[i+1:]
		}
	}
	return trimmed
}
