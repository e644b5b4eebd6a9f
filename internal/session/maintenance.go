package session

import (
	"context"
	"fmt"
	"time"

	"github.com/user/remoterun/internal/ctxlog"
	"github.com/user/remoterun/internal/remote"
)

// RotateLog moves the remote log aside under a timestamped suffix and prunes
// old backups so at most keep of them remain. A missing log is a no-op.
func (l *Launcher) RotateLog(ctx context.Context, target remote.Target, logPath string, keep int) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if logPath == "" {
		return fmt.Errorf("rotate log: log path is empty")
	}
	if keep < 1 {
		keep = 1
	}
	logger := ctxlog.From(ctx)

	stamp := time.Now().Format("20060102-150405")
	q := remote.Quote(logPath)
	script := fmt.Sprintf(
		"if [ -f %s ]; then mv %s %s.%s; ls -1t %s.* 2>/dev/null | tail -n +%d | xargs -r rm -f --; fi",
		q, q, q, stamp, q, keep+1)

	res, err := l.runner.Run(ctx, target, "bash -lc "+remote.Quote(script))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("rotate remote log %q: exit code %d", logPath, res.ExitCode)
	}
	logger.Info("remote log rotated", "log_file", logPath, "kept_backups", keep)
	return nil
}

// CleanOutputs removes everything under the remote outputs directory. The
// directory itself survives so a following run needs no re-bootstrap.
func (l *Launcher) CleanOutputs(ctx context.Context, target remote.Target, dir string) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if dir == "" || dir == "/" {
		return fmt.Errorf("clean outputs: refusing to clean %q", dir)
	}
	logger := ctxlog.From(ctx)

	script := fmt.Sprintf("if [ -d %s ]; then find %s -mindepth 1 -delete; fi",
		remote.Quote(dir), remote.Quote(dir))
	res, err := l.runner.Run(ctx, target, "bash -lc "+remote.Quote(script))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("clean remote outputs %q: exit code %d", dir, res.ExitCode)
	}
	logger.Info("remote outputs cleaned", "dir", dir)
	return nil
}
