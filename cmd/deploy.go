package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"sftp-deploy/internal/config"
	"sftp-deploy/internal/deploy"
	"sftp-deploy/internal/display"
	"sftp-deploy/internal/logging"
)

// remoteOperation is one orchestrator entry point
type remoteOperation func(o *deploy.Orchestrator, cmd *cobra.Command, cfg *config.Config) (*deploy.Result, error)

func newDeployCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Back up the remote tree, then upload the local tree",
		Long: `Deploy uploads the local project tree to the remote directory.

The local tree is checked first: it must exist and contain at least one
file. The current remote tree is then downloaded into the project's backup
snapshot, replacing the previous one, and the local tree is uploaded with
per-file progress.

Examples:
  sftp-deploy deploy --project website --env staging --local-path ./dist \
                     --host sftp.example.com --user deploy --remote-path /var/www

  # Everything from the config file, progress as JSON lines
  sftp-deploy deploy --config .sftp-deploy.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRemote(cmd, "Deploy", "",
				config.RequireProject|config.RequireLocalPath|config.RequireRemote,
				func(o *deploy.Orchestrator, cmd *cobra.Command, cfg *config.Config) (*deploy.Result, error) {
					return o.Deploy(withOperation(cmd.Context()), cfg.Target(), cfg.DeployProject())
				})
		},
	}

	addProjectFlags(cmd)
	cmd.Flags().String("local-path", "", "local directory to upload")
	addRemoteFlags(cmd)
	return cmd
}

// runRemote loads the config, connects and runs op, reporting exactly one
// terminal message
func (a *app) runRemote(cmd *cobra.Command, title, spinnerMessage string, req config.Requirement, op remoteOperation) error {
	cfg, err := a.loadConfig(req)
	if err != nil {
		return err
	}

	env, err := a.newEnvironment(cfg)
	if err != nil {
		return err
	}
	ds := env.display

	if err := a.promptPassword(cfg); err != nil {
		return a.fail(ds, err)
	}
	env.logger.WithFields(map[string]interface{}{
		"target":      cfg.Target().String(),
		"password":    logging.RedactPassword(cfg.Remote.Password),
		"timeout":     cfg.Timeout.String(),
		"known_hosts": cfg.Remote.KnownHosts,
	}).Debug("connection settings")

	orchestrator, err := a.newOrchestrator(env)
	if err != nil {
		return a.fail(ds, err)
	}

	ds.PrintHeader(title + " " + cfg.Project + "/" + cfg.Environment)

	var spinner display.SpinnerHandle
	if spinnerMessage != "" {
		spinner = ds.StartSpinner(spinnerMessage)
	}
	result, err := op(orchestrator, cmd, cfg)
	if spinner != nil {
		ds.StopSpinner(spinner, "")
	}
	if err != nil {
		return a.fail(ds, err)
	}

	if result.Operation == deploy.OperationDeploy && !result.BackupCaptured {
		ds.Warning(fmt.Sprintf("Remote path %s not found, previous backup kept", cfg.Remote.Path))
	}
	ds.PrintResult(result.Summary(), result)
	return nil
}
