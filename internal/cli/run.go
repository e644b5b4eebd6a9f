package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/remoterun/internal/diagnose"
)

// sshFailureCode is the exit status ssh itself reports for connection and
// authentication failures, as opposed to the remote command's own status.
const sshFailureCode = 255

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run [command...]",
		Short: "Run a command on the remote host, with connection diagnostics",
		Long: "Runs the given command over ssh and prints its output. Without\n" +
			"arguments the configured ssh.test_command is used. Connection\n" +
			"failures are classified and reported with a remediation hint.",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := a.target()
			if err != nil {
				return err
			}
			command := strings.Join(args, " ")
			if command == "" {
				command = a.cfg.SSH.TestCommand
			}

			res, err := a.runner.Run(cmd.Context(), target, command)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), res.Output)

			if res.ExitCode == sshFailureCode {
				diag := &diagnose.Diagnostics{
					Runner:         a.runner,
					ConnectTimeout: time.Duration(a.cfg.SSH.ConnectTimeoutSec) * time.Second,
					LogDir:         filepath.Join(a.cfg.Logging.LocalRoot, "diagnostics"),
				}
				rep := diag.Explain(cmd.Context(), target, res.Output)
				fmt.Fprintf(cmd.ErrOrStderr(), "connection failed: %s\nhint: %s\n", rep.Class, rep.Hint)
				if rep.LogPath != "" {
					fmt.Fprintf(cmd.ErrOrStderr(), "probe transcript: %s\n", rep.LogPath)
				}
			}
			if res.ExitCode != 0 {
				return ExitCodeError{Code: res.ExitCode}
			}
			return nil
		},
	}
}
