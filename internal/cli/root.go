// Package cli wires the command tree. Every subcommand loads the shared
// yaml config and talks to the remote host through the same runner, so the
// flags resolved here apply uniformly.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/remoterun/internal/config"
	"github.com/user/remoterun/internal/ctxlog"
	"github.com/user/remoterun/internal/remote"
	"github.com/user/remoterun/internal/retry"
	"github.com/user/remoterun/internal/transfer"
)

// ExitCodeError carries a process exit status through cobra's error path so
// remote exit codes survive to the shell.
type ExitCodeError struct {
	Code int
}

func (e ExitCodeError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// app holds flag values and the loaded config shared by all subcommands.
type app struct {
	configPath string
	host       string
	label      string
	logLevel   string
	logFormat  string

	cfg    *config.Config
	runner *remote.ExecRunner
}

func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "remoterun",
		Short:         "Launch, transfer and watch batch jobs on a remote host",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.runner = remote.NewRunner()

			logger, err := a.buildLogger()
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			cmd.SetContext(ctxlog.With(cmd.Context(), logger))
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "config.yaml", "path to the yaml config")
	root.PersistentFlags().StringVar(&a.host, "host", "", "remote host, overrides ssh.host from config")
	root.PersistentFlags().StringVar(&a.label, "label", "", "instance label keying local log/result directories")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		newLaunchCmd(a),
		newStopCmd(a),
		newStatusCmd(a),
		newRunCmd(a),
		newUploadCmd(a),
		newFetchCmd(a),
		newWatchCmd(a),
		newRotateLogCmd(a),
		newCleanOutputsCmd(a),
	)
	return root
}

func (a *app) buildLogger() (*slog.Logger, error) {
	level := a.logLevel
	if level == "" {
		level = a.cfg.Logging.Level
	}
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "", "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	format := a.logFormat
	if format == "" {
		format = a.cfg.Logging.Format
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func (a *app) target() (remote.Target, error) {
	return a.cfg.Target(a.host)
}

// labelOrHost returns the directory key: --label beats config, config beats
// the host name.
func (a *app) labelOrHost(target remote.Target) string {
	if a.label != "" {
		return a.label
	}
	return a.cfg.LabelOr(target.Host)
}

func (a *app) policy() retry.Policy {
	return retry.Policy{
		MaxRetries: a.cfg.Transfer.Retries,
		Backoff:    time.Duration(a.cfg.Transfer.BackoffSec) * time.Second,
	}
}

func (a *app) engine() *transfer.Engine {
	return transfer.NewEngine(a.runner, a.cfg.Transfer.RsyncPath, a.policy())
}
