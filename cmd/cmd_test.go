package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sftp-deploy/internal/errors"
	"sftp-deploy/internal/testutil"
)

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func runCLI(t *testing.T, args ...string) cliResult {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	in, err := os.Create(filepath.Join(t.TempDir(), "stdin"))
	require.NoError(t, err)
	defer in.Close()

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	root := newRootCommand(&app{v: viper.New(), in: in, out: out, errOut: errOut})
	root.SetArgs(args)

	err = root.Execute()
	return cliResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func readFile(t *testing.T, p string) string {
	t.Helper()
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	return string(data)
}

type remoteFixture struct {
	server     *testutil.SSHServer
	appDir     string
	localPath  string
	remotePath string
}

func newRemoteFixture(t *testing.T) *remoteFixture {
	return &remoteFixture{
		server:     testutil.StartSSHServer(t, "deploy", "s3cret"),
		appDir:     t.TempDir(),
		localPath:  t.TempDir(),
		remotePath: t.TempDir(),
	}
}

func (f *remoteFixture) args(command ...string) []string {
	return append(command,
		"--project", "site",
		"--env", "staging",
		"--local-path", f.localPath,
		"--host", f.server.Addr,
		"--user", "deploy",
		"--password", "s3cret",
		"--remote-path", f.remotePath,
		"--app-dir", f.appDir,
		"--no-color",
	)
}

func (f *remoteFixture) snapshot() string {
	return filepath.Join(f.appDir, "backups", "site", "staging")
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "today", "abc123", "go1.25")
	defer SetVersionInfo("dev", "unknown", "unknown", "unknown")

	res := runCLI(t, "version")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "sftp-deploy version 1.2.3")
	assert.Contains(t, res.stdout, "Commit: abc123")
}

func TestConfigCommand(t *testing.T) {
	res := runCLI(t, "config")
	require.NoError(t, res.err)

	assert.Contains(t, res.stdout, "SFTP_DEPLOY_REMOTE_HOST")
	assert.Contains(t, res.stdout, "host: sftp.example.com")
	assert.NotContains(t, res.stdout, "password")
}

func TestAppDirCommand(t *testing.T) {
	t.Run("override", func(t *testing.T) {
		dir := t.TempDir()
		res := runCLI(t, "app-dir", "--app-dir", dir)
		require.NoError(t, res.err)
		assert.Equal(t, dir+"\n", res.stdout)
	})

	t.Run("development mode", func(t *testing.T) {
		wd, err := os.Getwd()
		require.NoError(t, err)

		res := runCLI(t, "app-dir", "--dev")
		require.NoError(t, res.err)
		assert.Equal(t, wd+"\n", res.stdout)
	})
}

func TestBackupDirCommand(t *testing.T) {
	appDir := t.TempDir()

	res := runCLI(t, "backup", "dir", "--project", "site", "--env", "prod", "--app-dir", appDir)
	require.NoError(t, res.err)

	want := filepath.Join(appDir, "backups", "site", "prod")
	assert.Equal(t, want+"\n", res.stdout)
	assert.DirExists(t, want)
}

func TestBackupDirCommand_FromEnvironmentAndConfigFile(t *testing.T) {
	appDir := t.TempDir()
	cfgFile := filepath.Join(t.TempDir(), "deploy.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("environment: qa\napp_dir: "+appDir+"\n"), 0644))
	t.Setenv("SFTP_DEPLOY_PROJECT", "from-env")

	res := runCLI(t, "backup", "dir", "--config", cfgFile)
	require.NoError(t, res.err)
	assert.Equal(t, filepath.Join(appDir, "backups", "from-env", "qa")+"\n", res.stdout)
}

func TestDeployCommand_MissingSettings(t *testing.T) {
	res := runCLI(t, "deploy", "--project", "site")

	require.Error(t, res.err)
	assert.True(t, apperrors.IsType(res.err, apperrors.ErrorTypeConfig))
	assert.Contains(t, res.err.Error(), "environment is required")
	assert.Contains(t, res.err.Error(), "remote host is required")
	assert.NotContains(t, res.err.Error(), "project is required")
}

func TestDeployCommand_RejectsVerboseAndQuiet(t *testing.T) {
	f := newRemoteFixture(t)
	res := runCLI(t, append(f.args("deploy"), "-v", "-q")...)

	require.Error(t, res.err)
	assert.Contains(t, res.err.Error(), "mutually exclusive")
	assert.Equal(t, 0, f.server.AuthAttempts())
}

func TestDeployAndRollback_EndToEnd(t *testing.T) {
	f := newRemoteFixture(t)
	writeTree(t, f.remotePath, map[string]string{"index.html": "v1", "old.txt": "legacy"})
	writeTree(t, f.localPath, map[string]string{
		"index.html":   "v2",
		"version.json": `{"version":"2"}`,
		"css/site.css": "body{}",
	})

	res := runCLI(t, append(f.args("deploy"), "--format", "json")...)
	require.NoError(t, res.err, res.stderr)

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 4)
	for i, line := range lines[:3] {
		var event map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		assert.Equal(t, "deploy-progress", event["event"])
		assert.EqualValues(t, i+1, event["current"])
		assert.EqualValues(t, 3, event["total"])
	}
	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[3]), &result))
	assert.Equal(t, "result", result["event"])
	assert.Contains(t, result["summary"], "Deployed site/staging: uploaded 3 files")

	assert.Equal(t, "v2", readFile(t, filepath.Join(f.remotePath, "index.html")))
	assert.Equal(t, "body{}", readFile(t, filepath.Join(f.remotePath, "css", "site.css")))
	assert.Equal(t, "v1", readFile(t, filepath.Join(f.snapshot(), "index.html")))
	assert.Equal(t, "legacy", readFile(t, filepath.Join(f.snapshot(), "old.txt")))

	res = runCLI(t, f.args("rollback")...)
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "[SUCCESS] Rolled back site/staging: restored 2 files")

	assert.Equal(t, "v1", readFile(t, filepath.Join(f.remotePath, "index.html")))
	assert.Equal(t, `{"version":"2"}`, readFile(t, filepath.Join(f.remotePath, "version.json")))
	assert.FileExists(t, filepath.Join(f.remotePath, "css", "site.css"))
}

func TestDeployCommand_FreshRemoteWarnsBeforeResult(t *testing.T) {
	f := newRemoteFixture(t)
	f.remotePath = filepath.Join(f.remotePath, "fresh")
	writeTree(t, f.localPath, map[string]string{"index.html": "v1"})

	res := runCLI(t, append(f.args("deploy"), "--no-progress")...)
	require.NoError(t, res.err, res.stderr)

	warning := "[WARNING] Remote path " + f.remotePath + " not found, previous backup kept\n"
	require.Contains(t, res.stdout, warning)
	assert.Contains(t, res.stdout[strings.Index(res.stdout, warning):], "[SUCCESS] Deployed site/staging")
	assert.Equal(t, "v1", readFile(t, filepath.Join(f.remotePath, "index.html")))
}

func TestRollbackCommand_NoBackup(t *testing.T) {
	f := newRemoteFixture(t)
	writeTree(t, f.localPath, map[string]string{"version.json": "{}"})

	res := runCLI(t, f.args("rollback")...)

	require.Error(t, res.err)
	assert.True(t, apperrors.IsType(res.err, apperrors.ErrorTypeBackupMissing))
	var reported reportedError
	assert.True(t, errors.As(res.err, &reported))
	assert.True(t, strings.HasSuffix(res.stdout, "[ERROR] no backup available for project \"site\" environment \"staging\"\n"), res.stdout)
	assert.Equal(t, 1, f.server.Sessions())
}

func TestBackupCommand_Standalone(t *testing.T) {
	f := newRemoteFixture(t)
	writeTree(t, f.remotePath, map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"})

	args := []string{
		"backup",
		"--project", "site",
		"--env", "staging",
		"--host", f.server.Addr,
		"--user", "deploy",
		"--password", "s3cret",
		"--remote-path", f.remotePath,
		"--app-dir", f.appDir,
		"--no-color",
		"--quiet",
	}
	res := runCLI(t, args...)
	require.NoError(t, res.err, res.stderr)

	assert.Equal(t, "alpha", readFile(t, filepath.Join(f.snapshot(), "a.txt")))
	assert.Equal(t, "beta", readFile(t, filepath.Join(f.snapshot(), "sub", "b.txt")))
	assert.Empty(t, res.stdout)
}

func TestBackupExportImport(t *testing.T) {
	appDir := t.TempDir()
	snapshot := filepath.Join(appDir, "backups", "site", "prod")
	writeTree(t, snapshot, map[string]string{"index.html": "hello", "img/logo.svg": "<svg/>"})

	archive := filepath.Join(t.TempDir(), "site.tar.zst")
	res := runCLI(t, "backup", "export", "--project", "site", "--env", "prod",
		"--app-dir", appDir, "--compression", "zstd", "--output", archive, "--no-color")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "[SUCCESS] Exported 2 files")
	assert.FileExists(t, archive)

	require.NoError(t, os.RemoveAll(snapshot))

	res = runCLI(t, "backup", "import", "--project", "site", "--env", "prod",
		"--app-dir", appDir, "--input", archive, "--no-color")
	require.NoError(t, res.err, res.stderr)
	assert.Contains(t, res.stdout, "[SUCCESS] Imported 2 files")

	assert.Equal(t, "hello", readFile(t, filepath.Join(snapshot, "index.html")))
	assert.Equal(t, "<svg/>", readFile(t, filepath.Join(snapshot, "img", "logo.svg")))
}

func TestBackupExport_NoSnapshot(t *testing.T) {
	res := runCLI(t, "backup", "export", "--project", "site", "--env", "prod",
		"--app-dir", t.TempDir(), "--output", filepath.Join(t.TempDir(), "x.tar.gz"), "--no-color")

	require.Error(t, res.err)
	assert.True(t, apperrors.IsType(res.err, apperrors.ErrorTypeBackupMissing))
	assert.True(t, strings.HasPrefix(res.stdout, "[ERROR] "))
}
