package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sftp-deploy/internal/errors"
	"sftp-deploy/internal/logging"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Project = "website"
	cfg.Environment = "staging"
	cfg.LocalPath = "./dist"
	cfg.Remote.Host = "sftp.example.com"
	cfg.Remote.Username = "deploy"
	cfg.Remote.Path = "/var/www"
	return cfg
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sftp-deploy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestSetupAndLoad_FromFile(t *testing.T) {
	path := writeConfigFile(t, `
project: website
environment: production
local_path: ./build
remote:
  host: files.example.com
  port: 2222
  username: deployer
  path: /srv/site
timeout: 45s
compression: zstd
log:
  format: json
display:
  format: json
`)

	v := viper.New()
	require.NoError(t, Setup(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "website", cfg.Project)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, "./build", cfg.LocalPath)
	assert.Equal(t, "files.example.com", cfg.Remote.Host)
	assert.Equal(t, 2222, cfg.Remote.Port)
	assert.Equal(t, "deployer", cfg.Remote.Username)
	assert.Equal(t, "/srv/site", cfg.Remote.Path)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "json", cfg.Display.Format)
	assert.Equal(t, "dark", cfg.Display.Theme)
	assert.True(t, cfg.Display.ShowProgress)
}

func TestSetup_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "remote:\n  host: from-file\n")
	t.Setenv("SFTP_DEPLOY_REMOTE_HOST", "from-env")
	t.Setenv("SFTP_DEPLOY_REMOTE_PASSWORD", "s3cret")

	v := viper.New()
	require.NoError(t, Setup(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Remote.Host)
	assert.Equal(t, "s3cret", cfg.Remote.Password)
}

func TestSetup_MissingExplicitFile(t *testing.T) {
	v := viper.New()
	err := Setup(v, filepath.Join(t.TempDir(), "absent.yaml"))

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))
}

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetViperDefaults(v)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 22, cfg.Remote.Port)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, "gzip", cfg.Compression)
	assert.Equal(t, "text", cfg.Display.Format)
	assert.True(t, cfg.Display.ColorEnabled)
}

func TestConfig_Validate(t *testing.T) {
	all := RequireProject | RequireLocalPath | RequireRemote

	tests := []struct {
		name    string
		mutate  func(*Config)
		req     Requirement
		wantErr []string
	}{
		{
			name:   "valid deploy",
			mutate: func(*Config) {},
			req:    all,
		},
		{
			name:    "missing everything",
			mutate:  func(c *Config) { *c = *Default() },
			req:     all,
			wantErr: []string{"project is required", "environment is required", "local path is required", "remote host is required", "remote username is required", "remote path is required"},
		},
		{
			name:   "backup dir needs only project",
			mutate: func(c *Config) { c.Remote = RemoteConfig{}; c.LocalPath = "" },
			req:    RequireProject,
		},
		{
			name:    "bad port and timeout",
			mutate:  func(c *Config) { c.Remote.Port = 70000; c.Timeout = 0 },
			req:     all,
			wantErr: []string{"remote port must be between 0 and 65535", "got 70000", "timeout must be greater than 0"},
		},
		{
			name:   "zero port selects the default",
			mutate: func(c *Config) { c.Remote.Port = 0 },
			req:    all,
		},
		{
			name:    "unknown compression",
			mutate:  func(c *Config) { c.Compression = "brotli" },
			req:     all,
			wantErr: []string{"unsupported compression algorithm: brotli"},
		},
		{
			name:    "bad formats",
			mutate:  func(c *Config) { c.Log.Format = "xml"; c.Display.Format = "table" },
			req:     all,
			wantErr: []string{"invalid log format 'xml'", "invalid output format 'table'"},
		},
		{
			name:    "verbose and quiet",
			mutate:  func(c *Config) { c.Log.Verbose = true; c.Log.Quiet = true },
			req:     all,
			wantErr: []string{"mutually exclusive"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate(tt.req)
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))
			for _, want := range tt.wantErr {
				assert.Contains(t, err.Error(), want)
			}
		})
	}
}

func TestConfig_Builders(t *testing.T) {
	cfg := validConfig()
	cfg.Remote.Password = "pw"
	cfg.Log.Verbose = true

	target := cfg.Target()
	assert.Equal(t, "sftp.example.com:22", target.Address())
	assert.Equal(t, "pw", target.Password)
	assert.Equal(t, "/var/www", target.RemotePath)

	project := cfg.DeployProject()
	assert.Equal(t, "website", project.Name)
	assert.Equal(t, "staging", project.Environment)
	assert.Equal(t, "./dist", project.LocalPath)

	assert.Equal(t, logging.LogLevelVerbose, cfg.LoggerConfig().Level)
	cfg.Log.Verbose = false
	cfg.Log.Quiet = true
	assert.Equal(t, logging.LogLevelQuiet, cfg.LoggerConfig().Level)

	ds := cfg.DisplaySettings(os.Stderr)
	assert.True(t, ds.QuietMode)
	assert.Equal(t, "text", ds.OutputFormat)
	assert.Same(t, os.Stderr, ds.Writer)
}

func TestResolveAppDir(t *testing.T) {
	t.Run("override wins", func(t *testing.T) {
		dir := t.TempDir()
		got, err := ResolveAppDir(true, dir)
		require.NoError(t, err)
		assert.Equal(t, dir, got)
	})

	t.Run("development uses working directory", func(t *testing.T) {
		wd, err := os.Getwd()
		require.NoError(t, err)

		got, err := ResolveAppDir(true, "")
		require.NoError(t, err)
		assert.Equal(t, wd, got)
	})

	t.Run("installed uses executable directory", func(t *testing.T) {
		exe, err := os.Executable()
		require.NoError(t, err)
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}

		got, err := ResolveAppDir(false, "")
		require.NoError(t, err)
		assert.Equal(t, filepath.Dir(exe), got)
	})
}

func TestSampleYAML(t *testing.T) {
	sample, err := SampleYAML()
	require.NoError(t, err)

	assert.NotContains(t, sample, "password")
	assert.Contains(t, sample, "timeout: 30s")

	v := viper.New()
	v.SetConfigType("yaml")
	SetViperDefaults(v)
	require.NoError(t, v.ReadConfig(strings.NewReader(sample)))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.NoError(t, cfg.Validate(RequireProject|RequireLocalPath|RequireRemote))
	assert.Equal(t, "sftp.example.com", cfg.Remote.Host)
}
