package transfer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/remoterun/internal/ctxlog"
	"github.com/user/remoterun/internal/remote"
	"github.com/user/remoterun/internal/retry"
)

// Engine moves trees in both directions with graceful degradation and
// post-transfer verification.
type Engine struct {
	runner   remote.Runner
	primary  Transporter // nil when rsync is unavailable locally
	fallback Transporter
	policy   retry.Policy
}

// NewEngine probes for rsync (rsyncPath overrides the search path) and wires
// the retry policy used by downloads.
func NewEngine(runner remote.Runner, rsyncPath string, policy retry.Policy) *Engine {
	e := &Engine{runner: runner, fallback: NewSCP(), policy: policy}
	if bin, ok := DetectRsync(rsyncPath); ok {
		e.primary = NewRsync(bin)
	}
	return e
}

// NewEngineWith wires explicit transporters; tests use it to inject fakes.
func NewEngineWith(runner remote.Runner, primary, fallback Transporter, policy retry.Policy) *Engine {
	return &Engine{runner: runner, primary: primary, fallback: fallback, policy: policy}
}

// active returns the preferred transporter for the current operation.
func (e *Engine) active() Transporter {
	if e.primary != nil {
		return e.primary
	}
	return e.fallback
}

// warnDegraded tells the operator once per top-level call that rsync is
// missing; retry attempts underneath stay quiet about it.
func (e *Engine) warnDegraded(ctx context.Context) {
	if e.primary == nil {
		ctxlog.From(ctx).Warn("rsync not found locally, falling back to scp (no resume, no delta transfer)")
	}
}

// UploadTree copies the contents of localDir into remoteDir. extraDirs are
// additional remote directories created alongside the destination (project
// and output layout). An empty source directory is a no-op.
func (e *Engine) UploadTree(ctx context.Context, target remote.Target, localDir, remoteDir string, extraDirs ...string) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if remoteDir == "" {
		return fmt.Errorf("upload: remote directory is empty")
	}
	info, err := os.Stat(localDir)
	if err != nil {
		return fmt.Errorf("upload: local source %q: %w", localDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("upload: local source %q is not a directory", localDir)
	}
	logger := ctxlog.From(ctx)

	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("upload: read %q: %w", localDir, err)
	}
	if len(entries) == 0 {
		logger.Info("upload source is empty, nothing to do", "local_dir", localDir)
		return nil
	}

	if err := e.ensureRemoteDirs(ctx, target, append([]string{remoteDir}, extraDirs...)); err != nil {
		return err
	}

	e.warnDegraded(ctx)
	if e.primary != nil {
		err := e.primary.PushTree(ctx, target, localDir, remoteDir)
		if err == nil {
			logger.Info("upload complete", "transport", e.primary.Name(), "remote_dir", remoteDir)
			return nil
		}
		logger.Warn("rsync upload failed, retrying with scp", "error", err)
	}
	if err := e.fallback.PushTree(ctx, target, localDir, remoteDir); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	logger.Info("upload complete", "transport", e.fallback.Name(), "remote_dir", remoteDir)
	return nil
}

// ensureRemoteDirs is idempotent: mkdir -p for each non-empty path in one
// round trip.
func (e *Engine) ensureRemoteDirs(ctx context.Context, target remote.Target, dirs []string) error {
	var quoted []string
	for _, d := range dirs {
		if d != "" {
			quoted = append(quoted, remote.Quote(d))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	cmd := "bash -lc " + remote.Quote("mkdir -p "+strings.Join(quoted, " "))
	res, err := e.runner.Run(ctx, target, cmd)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("create remote directories: exit code %d", res.ExitCode)
	}
	return nil
}

// FetchOptions tunes a result download.
type FetchOptions struct {
	// Glob restricts the download to matching file names (e.g. "*.json").
	Glob string
	// VerifyManifest generates and checks the size/path manifest.
	VerifyManifest bool
	// ManifestName defaults to DefaultManifestName.
	ManifestName string
}

// FetchResults downloads remoteDir into localDir, optionally filtered and
// verified. Transfer failures after retry exhaustion are the only fatal
// path; verification problems come back inside the Result.
func (e *Engine) FetchResults(ctx context.Context, target remote.Target, remoteDir, localDir string, opts FetchOptions) (Result, error) {
	res := Result{LocalDir: localDir}
	if err := target.Validate(); err != nil {
		return res, err
	}
	if remoteDir == "" {
		return res, fmt.Errorf("fetch: remote directory is empty")
	}
	if localDir == "" {
		return res, fmt.Errorf("fetch: local directory is empty")
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return res, fmt.Errorf("fetch: create %q: %w", localDir, err)
	}
	logger := ctxlog.From(ctx)
	e.warnDegraded(ctx)

	manifestName := opts.ManifestName
	if manifestName == "" {
		manifestName = DefaultManifestName
	}

	if opts.VerifyManifest {
		if err := e.GenerateManifest(ctx, target, remoteDir, manifestName, opts.Glob); err != nil {
			return res, err
		}
		manifestLocal := filepath.Join(localDir, manifestName)
		manifestRemote := joinRemote(remoteDir, manifestName)
		err := e.policy.Do(ctx, "download manifest", func(ctx context.Context) error {
			return e.active().PullFile(ctx, target, manifestRemote, manifestLocal)
		})
		if err != nil {
			return res, fmt.Errorf("fetch: %w", err)
		}
		res.ManifestPath = manifestLocal
	}

	usedNative, err := e.DownloadWithRetry(ctx, target, remoteDir, localDir, opts.Glob)
	if err != nil {
		return res, fmt.Errorf("fetch: %w", err)
	}

	if opts.Glob != "" && !usedNative {
		protected := map[string]bool{manifestName: true}
		if err := SweepUnmatched(localDir, opts.Glob, protected); err != nil {
			return res, fmt.Errorf("fetch: %w", err)
		}
	}

	if opts.VerifyManifest {
		res = Verify(localDir, res.ManifestPath)
		if res.OK {
			logger.Info("manifest verification passed", "checked", res.Checked)
		} else {
			logger.Warn("manifest verification failed",
				"checked", res.Checked,
				"missing", len(res.Missing),
				"size_mismatch", len(res.SizeMismatch),
				"malformed", len(res.Malformed))
		}
		return res, nil
	}

	res.OK = true
	return res, nil
}

// GenerateManifest walks remoteDir server-side and writes `<size>\t<path>`
// lines, sorted by path, to name inside that directory. The manifest file
// itself is excluded from the walk.
func (e *Engine) GenerateManifest(ctx context.Context, target remote.Target, remoteDir, name, glob string) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if remoteDir == "" || name == "" {
		return fmt.Errorf("manifest: remote directory and name must be set")
	}
	find := "find . -type f ! -name " + remote.Quote(name)
	if glob != "" {
		find += " -name " + remote.Quote(glob)
	}
	// find prints path first so a plain sort orders by path; awk swaps the
	// columns into the size-first wire format.
	script := fmt.Sprintf("cd %s && %s -printf '%%P\\t%%s\\n' | LC_ALL=C sort | awk -F'\\t' '{print $2 \"\\t\" $1}' > %s",
		remote.Quote(remoteDir), find, remote.Quote(name))
	res, err := e.runner.Run(ctx, target, "bash -lc "+remote.Quote(script))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("generate manifest in %q: exit code %d", remoteDir, res.ExitCode)
	}
	return nil
}

// DownloadWithRetry pulls the tree with the preferred transporter, sleeping
// the policy's backoff between failed attempts. It reports whether the
// transporter applied the glob natively.
func (e *Engine) DownloadWithRetry(ctx context.Context, target remote.Target, remoteDir, localDir, glob string) (bool, error) {
	tr := e.active()
	err := e.policy.Do(ctx, "download "+remoteDir, func(ctx context.Context) error {
		return tr.PullTree(ctx, target, remoteDir, localDir, glob)
	})
	if err != nil {
		return tr.NativeFilter(), err
	}
	return tr.NativeFilter(), nil
}

// SweepUnmatched removes downloaded files whose relative path matches the
// glob neither as a full path nor by basename. Protected names survive
// regardless. Directories are left in place.
func SweepUnmatched(localDir, glob string, protected map[string]bool) error {
	return filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		base := d.Name()
		if protected[rel] || protected[base] {
			return nil
		}
		if matchGlob(glob, rel) || matchGlob(glob, base) {
			return nil
		}
		return os.Remove(path)
	})
}

func matchGlob(glob, name string) bool {
	ok, err := filepath.Match(glob, name)
	return err == nil && ok
}

func joinRemote(dir, name string) string {
	return strings.TrimRight(dir, "/") + "/" + name
}
