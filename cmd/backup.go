package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sftp-deploy/internal/backup"
	"sftp-deploy/internal/config"
	"sftp-deploy/internal/deploy"
)

func newBackupCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the remote tree without deploying",
		Long: `Download the current remote tree into the project's backup snapshot.

Only one snapshot is kept per project and environment. It is replaced only
when the download succeeds; an absent remote directory leaves the previous
snapshot untouched.

Examples:
  # Take a snapshot now
  sftp-deploy backup --project website --env production \
                     --host sftp.example.com --user deploy --remote-path /var/www

  # Where snapshots live
  sftp-deploy backup dir --project website --env production

  # Archive the snapshot for off-host storage
  sftp-deploy backup export --project website --env production --compression zstd`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRemote(cmd, "Backup", "Downloading remote tree",
				config.RequireProject|config.RequireRemote,
				func(o *deploy.Orchestrator, cmd *cobra.Command, cfg *config.Config) (*deploy.Result, error) {
					return o.Backup(withOperation(cmd.Context()), cfg.Target(), cfg.DeployProject())
				})
		},
	}

	addProjectFlags(cmd)
	addRemoteFlags(cmd)

	cmd.AddCommand(
		newBackupDirCommand(a),
		newBackupExportCommand(a),
		newBackupImportCommand(a),
	)
	return cmd
}

func newBackupDirCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dir",
		Short: "Print the snapshot directory, creating it if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(config.RequireProject)
			if err != nil {
				return err
			}
			env, err := a.newEnvironment(cfg)
			if err != nil {
				return err
			}

			dir, err := env.store.LocationFor(cfg.Project, cfg.Environment)
			if err != nil {
				return a.fail(env.display, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}

	addProjectFlags(cmd)
	return cmd
}

func newBackupExportCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the snapshot to a compressed tar archive",
		Long: `Write the project's snapshot to a tar archive for off-host storage.

Supported compression: gzip (default), zstd, lz4, none. Without --output the
archive is written to the working directory as
<project>-<env>-<timestamp>.tar.<ext>.

Examples:
  sftp-deploy backup export --project website --env production
  sftp-deploy backup export --project website --env production \
                            --compression lz4 --output /mnt/archive/site.tar.lz4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(config.RequireProject)
			if err != nil {
				return err
			}
			env, err := a.newEnvironment(cfg)
			if err != nil {
				return err
			}

			compression, err := backup.ParseCompression(cfg.Compression)
			if err != nil {
				return a.fail(env.display, err)
			}

			dest := output
			if dest == "" {
				dest = backup.DefaultArchiveName(cfg.Project, cfg.Environment, compression, time.Now())
			}
			if abs, err := filepath.Abs(dest); err == nil {
				dest = abs
			}

			stats, err := env.store.Export(cfg.Project, cfg.Environment, dest, compression)
			if err != nil {
				return a.fail(env.display, err)
			}
			env.logger.WithFields(map[string]interface{}{
				"project":     cfg.Project,
				"environment": cfg.Environment,
				"archive":     stats.Path,
				"compression": string(stats.Compression),
				"files":       stats.Files,
				"bytes":       stats.Bytes,
			}).Info("snapshot exported")

			env.display.PrintResult(fmt.Sprintf("Exported %d files (%s) to %s, %s archived (%.0f%%)",
				stats.Files, humanize.Bytes(uint64(stats.Bytes)), stats.Path,
				humanize.Bytes(uint64(stats.Archived)), stats.Ratio()*100), stats)
			return nil
		},
	}

	addProjectFlags(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "archive path")
	cmd.Flags().String("compression", string(backup.CompressionTypeGzip), "compression (gzip, zstd, lz4, none)")
	return cmd
}

func newBackupImportCommand(a *app) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the snapshot with the contents of an archive",
		Long: `Restore an archive written by "backup export" into the project's
snapshot slot, so the next rollback uses it.

The compression is inferred from the file name unless --compression is
given. The current snapshot is replaced only if the archive extracts
cleanly.

Examples:
  sftp-deploy backup import --project website --env production \
                            --input website-production-20240101T120000Z.tar.gz`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(config.RequireProject)
			if err != nil {
				return err
			}
			env, err := a.newEnvironment(cfg)
			if err != nil {
				return err
			}

			compression, err := backup.ParseCompression(cfg.Compression)
			if err != nil {
				return a.fail(env.display, err)
			}
			if !cmd.Flags().Changed("compression") {
				if inferred, ok := backup.CompressionFromPath(input); ok {
					compression = inferred
				}
			}

			stats, err := env.store.Import(cfg.Project, cfg.Environment, input, compression)
			if err != nil {
				return a.fail(env.display, err)
			}
			env.logger.WithFields(map[string]interface{}{
				"project":     cfg.Project,
				"environment": cfg.Environment,
				"archive":     stats.Path,
				"files":       stats.Files,
			}).Info("snapshot imported")

			env.display.PrintResult(fmt.Sprintf("Imported %d files (%s) from %s into the %s/%s snapshot",
				stats.Files, humanize.Bytes(uint64(stats.Bytes)), stats.Path, cfg.Project, cfg.Environment), stats)
			return nil
		},
	}

	addProjectFlags(cmd)
	cmd.Flags().StringVarP(&input, "input", "i", "", "archive path")
	cmd.Flags().String("compression", "", "compression (gzip, zstd, lz4, none); inferred from the file name when omitted")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
