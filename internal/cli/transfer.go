package cli

import (
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/remoterun/internal/ctxlog"
	"github.com/user/remoterun/internal/mirror"
	"github.com/user/remoterun/internal/transfer"
)

func newUploadCmd(a *app) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload input materials to the remote inputs directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := a.target()
			if err != nil {
				return err
			}
			localDir := source
			if localDir == "" {
				localDir = a.cfg.Transfer.UploadDir
			}
			// The outputs and log directories are created in the same pass
			// so a later fetch or launch never races a missing directory.
			extra := []string{a.cfg.Remote.OutputsDir}
			if dir := path.Dir(a.cfg.Remote.LogFile); dir != "" && dir != "." {
				extra = append(extra, dir)
			}
			return a.engine().UploadTree(cmd.Context(), target, localDir, a.cfg.Remote.InputsDir, extra...)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "local directory to upload, overrides transfer.upload_dir")
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		dest   string
		glob   string
		verify bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download remote results, with retries and manifest verification",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := a.target()
			if err != nil {
				return err
			}
			localDir := dest
			if localDir == "" {
				stamp := time.Now().Format("20060102-150405")
				localDir = filepath.Join(a.cfg.Transfer.ResultsRoot, a.labelOrHost(target), stamp)
			}
			if !cmd.Flags().Changed("glob") {
				glob = a.cfg.Transfer.DownloadGlob
			}
			if !cmd.Flags().Changed("verify") {
				verify = a.cfg.VerifyManifest()
			}

			res, err := a.engine().FetchResults(cmd.Context(), target, a.cfg.Remote.OutputsDir, localDir, transfer.FetchOptions{
				Glob:           glob,
				VerifyManifest: verify,
				ManifestName:   a.cfg.Transfer.ManifestName,
			})
			if err != nil {
				return err
			}
			reportFetch(cmd, res)
			if !res.OK {
				return fmt.Errorf("verification failed: %d missing, %d size mismatches, %d malformed manifest lines",
					len(res.Missing), len(res.SizeMismatch), len(res.Malformed))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dest, "dest", "", "local destination directory (default results_root/<label>/<timestamp>)")
	cmd.Flags().StringVar(&glob, "glob", "", "only download files matching this pattern, e.g. '*.json'")
	cmd.Flags().BoolVar(&verify, "verify", true, "verify downloaded files against the remote manifest")
	return cmd
}

func reportFetch(cmd *cobra.Command, res transfer.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "downloaded to %s\n", res.LocalDir)
	if res.ManifestPath == "" {
		return
	}
	fmt.Fprintf(out, "verified %d files against %s\n", res.Checked, filepath.Base(res.ManifestPath))
	for _, p := range res.Missing {
		fmt.Fprintf(out, "  missing: %s\n", p)
	}
	for _, m := range res.SizeMismatch {
		fmt.Fprintf(out, "  size mismatch: %s expected %d got %d\n", m.Path, m.Expected, m.Actual)
	}
	for _, l := range res.Malformed {
		fmt.Fprintf(out, "  malformed manifest line: %s\n", l)
	}
}

func newWatchCmd(a *app) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail the remote job log and mirror it locally until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := a.target()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("interval") {
				interval = time.Duration(a.cfg.Logging.MirrorIntervalSec) * time.Second
			}

			m := mirror.New(a.runner, a.cfg.Transfer.RsyncPath)
			code, err := m.Watch(cmd.Context(), target, a.cfg.Remote.LogFile, mirror.Options{
				LocalRoot: a.cfg.Logging.LocalRoot,
				Filename:  a.cfg.Logging.Filename,
				Label:     a.labelOrHost(target),
				Interval:  interval,
			})
			if err != nil {
				return err
			}
			if code != 0 {
				ctxlog.From(cmd.Context()).Warn("watch ended with non-zero status", "exit_code", code)
				return ExitCodeError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 3*time.Second, "delay between background log syncs")
	return cmd
}
