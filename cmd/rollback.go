package cmd

import (
	"github.com/spf13/cobra"

	"sftp-deploy/internal/config"
	"sftp-deploy/internal/deploy"
)

func newRollbackCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore the remote tree from the last backup",
		Long: `Rollback pushes the project's version marker and then the backup
snapshot to the remote directory.

The local tree must contain a version.json marker and a snapshot must exist
for the project and environment. Files present remotely but absent from the
snapshot are left in place.

Examples:
  sftp-deploy rollback --project website --env staging --local-path ./dist \
                       --host sftp.example.com --user deploy --remote-path /var/www`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRemote(cmd, "Rollback", "",
				config.RequireProject|config.RequireLocalPath|config.RequireRemote,
				func(o *deploy.Orchestrator, cmd *cobra.Command, cfg *config.Config) (*deploy.Result, error) {
					return o.Rollback(withOperation(cmd.Context()), cfg.Target(), cfg.DeployProject())
				})
		},
	}

	addProjectFlags(cmd)
	cmd.Flags().String("local-path", "", "local directory holding version.json")
	addRemoteFlags(cmd)
	return cmd
}
