package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/remoterun/internal/session"
)

func newLaunchCmd(a *app) *cobra.Command {
	var command string

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Start the job in a detached remote tmux session",
		Long: "Starts job.command inside a named tmux session on the remote host.\n" +
			"A live session with the same name is stopped first. Job output is\n" +
			"appended to remote.log_file with START/END markers; the END marker\n" +
			"records the job's own exit code.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := a.target()
			if err != nil {
				return err
			}
			jobCommand := command
			if jobCommand == "" {
				jobCommand = a.cfg.Job.Command
			}
			spec := session.JobSpec{
				Session: a.cfg.Remote.Session,
				Command: jobCommand,
				WorkDir: a.cfg.Remote.ProjectDir,
				LogFile: a.cfg.Remote.LogFile,
				Env:     a.cfg.Job.Env,
			}
			launcher := session.NewLauncher(a.runner)
			code, err := launcher.Launch(cmd.Context(), target, spec)
			if err != nil {
				return err
			}
			if code != 0 {
				return ExitCodeError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "job command, overrides job.command from config")
	return cmd
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the remote job session if it is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := a.target()
			if err != nil {
				return err
			}
			launcher := session.NewLauncher(a.runner)
			// A missing session is fine: the goal is "not running".
			_, err = launcher.Stop(cmd.Context(), target, a.cfg.Remote.Session)
			return err
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether the remote job session is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := a.target()
			if err != nil {
				return err
			}
			launcher := session.NewLauncher(a.runner)
			state, err := launcher.Status(cmd.Context(), target, a.cfg.Remote.Session)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session %s: %s\n", a.cfg.Remote.Session, state)
			return nil
		},
	}
}

func newRotateLogCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-log",
		Short: "Rotate the remote job log, keeping a bounded set of backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := a.target()
			if err != nil {
				return err
			}
			launcher := session.NewLauncher(a.runner)
			return launcher.RotateLog(cmd.Context(), target, a.cfg.Remote.LogFile, a.cfg.Cleanup.KeepLogBackups)
		},
	}
}

func newCleanOutputsCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clean-outputs",
		Short: "Delete everything under the remote outputs directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir := strings.TrimSpace(a.cfg.Remote.OutputsDir)
			if !yes {
				return fmt.Errorf("refusing to delete %q without --yes", dir)
			}
			target, err := a.target()
			if err != nil {
				return err
			}
			launcher := session.NewLauncher(a.runner)
			return launcher.CleanOutputs(cmd.Context(), target, dir)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion of the remote outputs directory")
	return cmd
}
