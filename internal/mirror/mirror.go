// Package mirror gives the operator a live view of the remote job log while
// keeping a durable local copy. A foreground stream follows the log over
// ssh; a background worker replicates the file on an interval; one final
// sync after both stop closes the gap left by interval granularity.
package mirror

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/remoterun/internal/ctxlog"
	"github.com/user/remoterun/internal/remote"
	"github.com/user/remoterun/internal/transfer"
)

// Syncer replicates a single remote file to a local path. Backed by rsync in
// production; tests inject a recorder.
type Syncer interface {
	Sync(ctx context.Context, t remote.Target, remotePath, localPath string) error
}

type rsyncSyncer struct {
	tr transfer.Transporter
}

func (r *rsyncSyncer) Sync(ctx context.Context, t remote.Target, remotePath, localPath string) error {
	return r.tr.PullFile(ctx, t, remotePath, localPath)
}

// Options shapes one watch invocation.
type Options struct {
	// LocalRoot is the directory that holds per-instance log trees.
	LocalRoot string
	// Filename of the local copy, default "run.log".
	Filename string
	// Label keys the local directory; the sanitized host is used when empty.
	Label string
	// Interval between background syncs, default 3s.
	Interval time.Duration
}

// Mirror tails and replicates the remote log.
type Mirror struct {
	runner  remote.Runner
	syncer  Syncer // nil when rsync is unavailable locally
	console io.Writer
}

// New probes for local rsync (rsyncPath overrides the search path). Without
// it the mirror degrades to tail-only.
func New(runner remote.Runner, rsyncPath string) *Mirror {
	m := &Mirror{runner: runner, console: os.Stdout}
	if bin, ok := transfer.DetectRsync(rsyncPath); ok {
		m.syncer = &rsyncSyncer{tr: transfer.NewRsync(bin)}
	}
	return m
}

// NewWith injects the syncer and console writer; used by tests.
func NewWith(runner remote.Runner, syncer Syncer, console io.Writer) *Mirror {
	return &Mirror{runner: runner, syncer: syncer, console: console}
}

// remoteRsyncAvailable probes the remote side; mirroring needs rsync on
// both ends.
func (m *Mirror) remoteRsyncAvailable(ctx context.Context, target remote.Target) bool {
	res, err := m.runner.Run(ctx, target, "command -v rsync >/dev/null 2>&1")
	return err == nil && res.ExitCode == 0
}

// Watch follows remoteLog until ctx is cancelled (the operator's Ctrl-C).
// It returns the tail's exit code with operator interruption normalized to
// zero, since that is the expected way to end an indefinite watch.
func (m *Mirror) Watch(ctx context.Context, target remote.Target, remoteLog string, opts Options) (int, error) {
	if err := target.Validate(); err != nil {
		return 1, err
	}
	if remoteLog == "" {
		return 1, fmt.Errorf("mirror: remote log path is empty")
	}
	logger := ctxlog.From(ctx)

	filename := opts.Filename
	if filename == "" {
		filename = "run.log"
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 3 * time.Second
	}

	sessionDir, err := m.sessionDir(target, opts)
	if err != nil {
		return 1, err
	}
	// The tail owns localPath exclusively; the worker replicates into the
	// sibling sync copy so the two writers never share a file.
	localPath := filepath.Join(sessionDir, filename)
	syncPath := localPath + ".sync"
	logger.Info("local log copy", "path", localPath, "sync_copy", syncPath)

	mirroring := m.syncer != nil
	if !mirroring {
		logger.Warn("rsync not found locally, log mirroring degrades to tail-only")
	} else if !m.remoteRsyncAvailable(ctx, target) {
		logger.Warn("rsync not found on remote host, log mirroring degrades to tail-only")
		mirroring = false
	}

	syncQuiet := func(ctx context.Context, warn bool) {
		if err := m.syncer.Sync(ctx, target, remoteLog, syncPath); err != nil && warn {
			logger.Warn("log sync failed, will retry on next interval", "error", err)
		}
	}

	if mirroring {
		// One blocking sync so the local copy is never empty when the
		// operator starts watching.
		logger.Info("initial log sync")
		syncQuiet(ctx, true)
	}

	var stop chan struct{}
	var workerDone <-chan struct{}
	if mirroring {
		stop = make(chan struct{})
		workerDone = startWorker(stop, interval, func() { syncQuiet(ctx, true) })
	}

	exitCode, tailErr := m.tail(ctx, target, remoteLog, localPath)

	if mirroring {
		close(stop)
		<-workerDone
		logger.Info("final log sync")
		// The operator's Ctrl-C cancels ctx before this point; the
		// reconciliation sync must still run.
		syncQuiet(context.WithoutCancel(ctx), true)
	}

	if ctx.Err() != nil || exitCode == 130 {
		exitCode = 0
		tailErr = nil
	}
	if tailErr != nil {
		return exitCode, tailErr
	}
	logger.Info("log watch finished", "local_copy", localPath)
	return exitCode, nil
}

// tail streams the remote log to the console and the append-opened local
// file, flushed per line so a crash loses at most the line in flight. Only
// this foreground path writes localPath; the worker writes the sibling sync
// copy.
func (m *Mirror) tail(ctx context.Context, target remote.Target, remoteLog, localPath string) (int, error) {
	local, err := os.OpenFile(localPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 1, fmt.Errorf("mirror: open local log: %w", err)
	}
	defer local.Close()

	stream, err := m.runner.Start(ctx, target, "tail -n +1 -F "+remote.Quote(remoteLog))
	if err != nil {
		return 1, err
	}

	interruptOnce := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Interrupt()
		case <-interruptOnce:
		}
	}()

	scanner := bufio.NewScanner(stream.Output())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(m.console, line)
		if _, err := local.WriteString(line + "\n"); err == nil {
			_ = local.Sync()
		}
	}
	scanErr := scanner.Err()
	close(interruptOnce)
	if scanErr != nil {
		// Without the interrupt a read failure would leave the remote tail
		// running and Wait blocked indefinitely.
		_ = stream.Interrupt()
	}
	code := stream.Wait()
	if scanErr != nil {
		return code, fmt.Errorf("mirror: read log stream: %w", scanErr)
	}
	return code, nil
}

// sessionDir is <root>/<label-or-host>/<timestamp>, created on demand.
func (m *Mirror) sessionDir(target remote.Target, opts Options) (string, error) {
	root := opts.LocalRoot
	if root == "" {
		root = "./logs"
	}
	base := opts.Label
	if base == "" {
		base = strings.ReplaceAll(target.Host, ".", "-")
	}
	dir := filepath.Join(root, base, time.Now().Format("20060102-150405"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mirror: create session dir: %w", err)
	}
	return dir, nil
}

// startWorker syncs on every interval tick until stop closes, then signals
// the returned channel. A stop arriving mid-interval wins over the tick, so
// no extra cycle runs after the signal.
func startWorker(stop <-chan struct{}, interval time.Duration, syncFn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				syncFn()
			}
		}
	}()
	return done
}
