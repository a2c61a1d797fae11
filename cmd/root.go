package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"sftp-deploy/internal/backup"
	"sftp-deploy/internal/config"
	"sftp-deploy/internal/deploy"
	"sftp-deploy/internal/display"
	apperrors "sftp-deploy/internal/errors"
	"sftp-deploy/internal/logging"
	"sftp-deploy/internal/remote"
)

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// flagKeys maps command line flags onto configuration keys. Flags are bound
// only for the command that actually runs, so commands sharing a flag name
// do not steal each other's bindings.
var flagKeys = map[string]string{
	"app-dir":     "app_dir",
	"dev":         "dev",
	"verbose":     "log.verbose",
	"quiet":       "log.quiet",
	"log-file":    "log.file",
	"log-format":  "log.format",
	"timeout":     "timeout",
	"format":      "display.format",
	"theme":       "display.theme",
	"known-hosts": "remote.known_hosts",
	"project":     "project",
	"env":         "environment",
	"local-path":  "local_path",
	"host":        "remote.host",
	"port":        "remote.port",
	"user":        "remote.username",
	"password":    "remote.password",
	"remote-path": "remote.path",
	"compression": "compression",
}

// invertedFlags are "--no-x" switches that turn a default-on setting off
var invertedFlags = map[string]string{
	"no-color":    "display.color_enabled",
	"no-progress": "display.show_progress",
}

// app carries per-invocation state shared by every command
type app struct {
	v       *viper.Viper
	cfgFile string

	in     *os.File
	out    io.Writer
	errOut io.Writer

	// dial and wait are replaced in tests to avoid real networking delays
	dial remote.DialFunc
	wait apperrors.Waiter
}

// reportedError marks an error that was already shown to the user
type reportedError struct {
	error
}

func (e reportedError) Unwrap() error { return e.error }

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{
		v:      viper.New(),
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
	})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "sftp-deploy",
		Short: "Deploy a local directory to an SFTP server with backup and rollback",
		Long: `sftp-deploy uploads a local project tree to a remote directory over SFTP.

Before every deploy the current remote tree is downloaded into a local
snapshot, one per project and environment. A rollback pushes the project's
version marker and then the snapshot back to the server.

Examples:
  # Deploy the build output to staging
  sftp-deploy deploy --project website --env staging --local-path ./dist \
                     --host sftp.example.com --user deploy --remote-path /var/www

  # Restore the previous remote tree
  sftp-deploy rollback --config .sftp-deploy.yaml

  # Machine-readable progress for a UI
  sftp-deploy deploy --config .sftp-deploy.yaml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.bindFlags(cmd)
		},
	}

	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./.sftp-deploy.yaml or $HOME/.sftp-deploy.yaml)")
	flags.String("app-dir", "", "application directory holding backups (overrides --dev)")
	flags.Bool("dev", false, "development mode: use the working directory as the application directory")
	flags.BoolP("verbose", "v", false, "enable verbose output")
	flags.BoolP("quiet", "q", false, "suppress non-error output")
	flags.String("log-file", "", "also write logs to this file")
	flags.String("log-format", "text", "log format (text, json)")
	flags.Duration("timeout", config.DefaultTimeout, "session I/O timeout")
	flags.String("format", "text", "output format (text, json, yaml)")
	flags.String("theme", "dark", "color theme (dark, light, plain)")
	flags.Bool("no-color", false, "disable color output")
	flags.Bool("no-progress", false, "disable the progress bar")
	flags.String("known-hosts", "", "verify host keys against this known_hosts file")

	root.AddCommand(
		newDeployCommand(a),
		newRollbackCommand(a),
		newBackupCommand(a),
		newAppDirCommand(a),
		newConfigCommand(a),
		newVersionCommand(a),
	)
	return root
}

// Execute runs the CLI and exits non-zero on failure
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()

	if err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", apperrors.FormatUserError(err))
		}
		os.Exit(1)
	}
}

// bindFlags reads the config file and environment, then layers the running
// command's flags on top
func (a *app) bindFlags(cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = a.v.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return apperrors.NewConfigError("failed to bind flags", bindErr)
	}

	if err := config.Setup(a.v, a.cfgFile); err != nil {
		return err
	}

	for name, key := range invertedFlags {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			off, err := cmd.Flags().GetBool(name)
			if err != nil {
				return apperrors.NewConfigError("invalid flag value", err).WithContext("flag", name)
			}
			a.v.Set(key, !off)
		}
	}

	if a.v.GetBool("log.verbose") && a.cfgFileUsed() != "" {
		fmt.Fprintln(a.errOut, "Using config file:", a.cfgFileUsed())
	}
	return nil
}

func (a *app) cfgFileUsed() string {
	return a.v.ConfigFileUsed()
}

// loadConfig unmarshals and validates the configuration for one operation
func (a *app) loadConfig(req config.Requirement) (*config.Config, error) {
	cfg, err := config.Load(a.v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(req); err != nil {
		return nil, err
	}
	return cfg, nil
}

// environment holds the collaborators built from a validated config
type environment struct {
	cfg     *config.Config
	logger  *logging.Logger
	display display.DisplayService
	store   *backup.Store
}

func (a *app) newEnvironment(cfg *config.Config) (*environment, error) {
	logCfg := cfg.LoggerConfig()
	logCfg.Output = a.errOut
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, apperrors.NewConfigError("failed to initialize logging", err)
	}

	appDir, err := cfg.ResolvedAppDir()
	if err != nil {
		return nil, err
	}
	logger.WithField("app_dir", appDir).Debug("resolved application directory")

	return &environment{
		cfg:     cfg,
		logger:  logger,
		display: display.NewDisplayService(cfg.DisplaySettings(a.out)),
		store:   backup.NewStore(appDir),
	}, nil
}

// newOrchestrator wires an SSH-backed orchestrator reporting progress to the display
func (a *app) newOrchestrator(env *environment) (*deploy.Orchestrator, error) {
	cm, err := remote.NewConnectionManager(remote.Options{
		Retry:          apperrors.ConnectRetryConfig(),
		Timeout:        env.cfg.Timeout,
		KnownHostsFile: env.cfg.Remote.KnownHosts,
		Logger:         env.logger,
		Dial:           a.dial,
		Wait:           a.wait,
	})
	if err != nil {
		return nil, err
	}

	return deploy.NewOrchestrator(deploy.Options{
		Connector: deploy.NewSSHConnector(cm),
		Store:     env.store,
		Logger:    env.logger,
		Observer:  env.display.ProgressObserver("Uploading"),
	})
}

// promptPassword asks for the password when none was configured and a
// terminal is available
func (a *app) promptPassword(cfg *config.Config) error {
	if cfg.Remote.Password != "" || !display.IsInteractive(a.in) {
		return nil
	}

	prompt := fmt.Sprintf("Password for %s@%s: ", cfg.Remote.Username, cfg.Target().Address())
	password, err := display.PromptPassword(a.in, a.errOut, prompt)
	if err != nil {
		return apperrors.NewConfigError("failed to read password", err)
	}
	cfg.Remote.Password = password
	return nil
}

// fail shows err as the operation's single terminal message
func (a *app) fail(ds display.DisplayService, err error) error {
	if ds == nil {
		return err
	}
	ds.Error(apperrors.FormatUserError(err))
	return reportedError{err}
}

// withOperation tags ctx with a fresh correlation id for the log
func withOperation(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.ContextWithOperationID(ctx, "")
}

func newAppDirCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "app-dir",
		Short: "Print the application directory",
		Long: `Print the directory backups are stored under.

In development mode (--dev) this is the working directory, otherwise the
directory holding the executable. --app-dir overrides both.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(0)
			if err != nil {
				return err
			}
			dir, err := cfg.ResolvedAppDir()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), dir)
			return nil
		},
	}
}

func newConfigCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Generate a sample configuration file",
		Long: `Generate a sample configuration file that can be used with the --config flag.

The password is never written to the file. Supply it with --password, the
SFTP_DEPLOY_REMOTE_PASSWORD environment variable or the interactive prompt.

Examples:
  sftp-deploy config > .sftp-deploy.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sample, err := config.SampleYAML()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "# sftp-deploy configuration")
			fmt.Fprintf(cmd.OutOrStdout(), "# Every key can be overridden with %s_<KEY>, e.g. %s_REMOTE_HOST\n", config.EnvPrefix, config.EnvPrefix)
			fmt.Fprint(cmd.OutOrStdout(), sample)
			return nil
		},
	}
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sftp-deploy version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

// addProjectFlags registers the flags naming a backup slot
func addProjectFlags(cmd *cobra.Command) {
	cmd.Flags().String("project", "", "project name")
	cmd.Flags().String("env", "", "environment name (e.g. staging, production)")
}

// addRemoteFlags registers the SFTP server flags
func addRemoteFlags(cmd *cobra.Command) {
	cmd.Flags().String("host", "", "SFTP host, optionally with :port")
	cmd.Flags().Int("port", remote.DefaultPort, "SFTP port when --host carries none")
	cmd.Flags().String("user", "", "SFTP username")
	cmd.Flags().String("password", "", "SFTP password (prompted when empty and stdin is a terminal)")
	cmd.Flags().String("remote-path", "", "remote project directory")
}
