package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"sftp-deploy/internal/backup"
	"sftp-deploy/internal/deploy"
	"sftp-deploy/internal/display"
	apperrors "sftp-deploy/internal/errors"
	"sftp-deploy/internal/logging"
	"sftp-deploy/internal/remote"
)

const (
	// EnvPrefix prefixes every environment override, e.g. SFTP_DEPLOY_REMOTE_HOST
	EnvPrefix = "SFTP_DEPLOY"
	// FileName is the config file looked up in the working and home directories
	FileName = ".sftp-deploy"

	DefaultTimeout = 30 * time.Second
)

// Config holds everything one invocation needs
type Config struct {
	Project     string        `mapstructure:"project" yaml:"project"`
	Environment string        `mapstructure:"environment" yaml:"environment"`
	LocalPath   string        `mapstructure:"local_path" yaml:"local_path"`
	Remote      RemoteConfig  `mapstructure:"remote" yaml:"remote"`
	AppDir      string        `mapstructure:"app_dir" yaml:"app_dir,omitempty"`
	Dev         bool          `mapstructure:"dev" yaml:"dev"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Compression string        `mapstructure:"compression" yaml:"compression"`
	Log         LogConfig     `mapstructure:"log" yaml:"log"`
	Display     DisplayConfig `mapstructure:"display" yaml:"display"`
}

// RemoteConfig describes the SFTP server. The password is read from flags,
// the environment or a prompt and is never written back out.
type RemoteConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	Username   string `mapstructure:"username" yaml:"username"`
	Password   string `mapstructure:"password" yaml:"-"`
	Path       string `mapstructure:"path" yaml:"path"`
	KnownHosts string `mapstructure:"known_hosts" yaml:"known_hosts,omitempty"`
}

// LogConfig controls the operational log
type LogConfig struct {
	File    string `mapstructure:"file" yaml:"file,omitempty"`
	Format  string `mapstructure:"format" yaml:"format"`
	Verbose bool   `mapstructure:"verbose" yaml:"verbose"`
	Quiet   bool   `mapstructure:"quiet" yaml:"quiet"`
}

// DisplayConfig controls terminal output
type DisplayConfig struct {
	Format       string `mapstructure:"format" yaml:"format"`
	Theme        string `mapstructure:"theme" yaml:"theme"`
	ColorEnabled bool   `mapstructure:"color_enabled" yaml:"color_enabled"`
	ShowProgress bool   `mapstructure:"show_progress" yaml:"show_progress"`
}

// Requirement selects which settings an operation cannot run without
type Requirement int

const (
	RequireProject Requirement = 1 << iota
	RequireLocalPath
	RequireRemote
)

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Remote:      RemoteConfig{Port: remote.DefaultPort},
		Timeout:     DefaultTimeout,
		Compression: string(backup.CompressionTypeGzip),
		Log:         LogConfig{Format: "text"},
		Display: DisplayConfig{
			Format:       "text",
			Theme:        "dark",
			ColorEnabled: true,
			ShowProgress: true,
		},
	}
}

// SetViperDefaults registers every key so environment overrides reach Unmarshal
func SetViperDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("project", d.Project)
	v.SetDefault("environment", d.Environment)
	v.SetDefault("local_path", d.LocalPath)
	v.SetDefault("remote.host", d.Remote.Host)
	v.SetDefault("remote.port", d.Remote.Port)
	v.SetDefault("remote.username", d.Remote.Username)
	v.SetDefault("remote.password", d.Remote.Password)
	v.SetDefault("remote.path", d.Remote.Path)
	v.SetDefault("remote.known_hosts", d.Remote.KnownHosts)
	v.SetDefault("app_dir", d.AppDir)
	v.SetDefault("dev", d.Dev)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("compression", d.Compression)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.verbose", d.Log.Verbose)
	v.SetDefault("log.quiet", d.Log.Quiet)
	v.SetDefault("display.format", d.Display.Format)
	v.SetDefault("display.theme", d.Display.Theme)
	v.SetDefault("display.color_enabled", d.Display.ColorEnabled)
	v.SetDefault("display.show_progress", d.Display.ShowProgress)
}

// Setup wires defaults, environment overrides and the config file into v.
// A missing config file is not an error unless it was named explicitly.
func Setup(v *viper.Viper, cfgFile string) error {
	SetViperDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return apperrors.NewConfigError("error reading config file", err).
			WithContext("file", cfgFile)
	}
	return nil
}

// Load unmarshals v into a Config and fills in defaults
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to unmarshal configuration", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// SetDefaults fills zero values left by a partial config file
func (c *Config) SetDefaults() {
	d := Default()
	if c.Remote.Port == 0 {
		c.Remote.Port = d.Remote.Port
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
	if c.Compression == "" {
		c.Compression = d.Compression
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Display.Format == "" {
		c.Display.Format = d.Display.Format
	}
	if c.Display.Theme == "" {
		c.Display.Theme = d.Display.Theme
	}
}

// Validate checks the settings the operation needs and reports every problem at once
func (c *Config) Validate(req Requirement) error {
	var errs []string

	if req&RequireProject != 0 {
		if c.Project == "" {
			errs = append(errs, "project is required")
		}
		if c.Environment == "" {
			errs = append(errs, "environment is required")
		}
	}
	if req&RequireLocalPath != 0 && c.LocalPath == "" {
		errs = append(errs, "local path is required")
	}
	if req&RequireRemote != 0 {
		if c.Remote.Host == "" {
			errs = append(errs, "remote host is required")
		}
		if c.Remote.Username == "" {
			errs = append(errs, "remote username is required")
		}
		if c.Remote.Path == "" {
			errs = append(errs, "remote path is required")
		}
	}

	if c.Remote.Port < 0 || c.Remote.Port > 65535 {
		errs = append(errs, fmt.Sprintf("remote port must be between 0 and 65535 (0 selects %d), got %d", remote.DefaultPort, c.Remote.Port))
	}
	if c.Timeout <= 0 {
		errs = append(errs, "timeout must be greater than 0")
	}
	if _, err := backup.ParseCompression(c.Compression); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Sprintf("invalid log format '%s', must be one of: text, json", c.Log.Format))
	}
	if err := c.DisplaySettings(nil).Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return apperrors.NewConfigError(
			fmt.Sprintf("configuration validation failed: %s", strings.Join(errs, "; ")), nil)
	}
	return nil
}

// Target builds the connection target for this invocation
func (c *Config) Target() remote.Target {
	return remote.Target{
		Host:       c.Remote.Host,
		Port:       c.Remote.Port,
		Username:   c.Remote.Username,
		Password:   c.Remote.Password,
		RemotePath: c.Remote.Path,
	}
}

// DeployProject builds the project identity for this invocation
func (c *Config) DeployProject() deploy.Project {
	return deploy.Project{
		Name:        c.Project,
		Environment: c.Environment,
		LocalPath:   c.LocalPath,
	}
}

// DisplaySettings builds the display configuration writing to w
func (c *Config) DisplaySettings(w io.Writer) *display.DisplayConfig {
	return &display.DisplayConfig{
		ColorEnabled: c.Display.ColorEnabled,
		Theme:        c.Display.Theme,
		OutputFormat: c.Display.Format,
		ShowProgress: c.Display.ShowProgress,
		VerboseMode:  c.Log.Verbose,
		QuietMode:    c.Log.Quiet,
		Writer:       w,
	}
}

// LoggerConfig maps verbosity flags onto a logger configuration
func (c *Config) LoggerConfig() logging.Config {
	level := logging.LogLevelNormal
	switch {
	case c.Log.Quiet:
		level = logging.LogLevelQuiet
	case c.Log.Verbose:
		level = logging.LogLevelVerbose
	}
	return logging.Config{
		Level:   level,
		Format:  c.Log.Format,
		LogFile: c.Log.File,
	}
}

// ResolvedAppDir returns the application directory for this invocation
func (c *Config) ResolvedAppDir() (string, error) {
	return ResolveAppDir(c.Dev, c.AppDir)
}

// ResolveAppDir picks the directory backups live under: the override if set,
// the working directory in development mode, otherwise the directory holding
// the executable.
func ResolveAppDir(dev bool, override string) (string, error) {
	if override != "" {
		dir, err := filepath.Abs(override)
		if err != nil {
			return "", apperrors.NewConfigError("invalid app directory", err).WithContext("app_dir", override)
		}
		return dir, nil
	}

	if dev {
		dir, err := os.Getwd()
		if err != nil {
			return "", apperrors.NewPathError("failed to resolve working directory", err)
		}
		return dir, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return "", apperrors.NewPathError("failed to resolve executable path", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// SampleYAML renders a starter config file. The password is never included.
func SampleYAML() (string, error) {
	sample := Default()
	sample.Project = "website"
	sample.Environment = "staging"
	sample.LocalPath = "./dist"
	sample.Remote.Host = "sftp.example.com"
	sample.Remote.Username = "deploy"
	sample.Remote.Path = "/var/www/website"

	data, err := yaml.Marshal(sample)
	if err != nil {
		return "", fmt.Errorf("failed to render sample config: %w", err)
	}
	return string(data), nil
}
