package remote

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "sftp-deploy/internal/errors"
	"sftp-deploy/internal/testutil"
)

type recordingWaiter struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (w *recordingWaiter) wait(ctx context.Context, d time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.waits = append(w.waits, d)
	return ctx.Err()
}

// flakyDialer refuses the first failures calls, then dials for real
type flakyDialer struct {
	failures int
	calls    int
}

func (d *flakyDialer) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	d.calls++
	if d.calls <= d.failures {
		return nil, &net.OpError{Op: "dial", Net: network, Err: errors.New("connection refused")}
	}
	var dialer net.Dialer
	return dialer.DialContext(ctx, network, addr)
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
		want string
	}{
		{"hostname without port", "example.com", 22, "example.com:22"},
		{"hostname with port", "example.com:2222", 22, "example.com:2222"},
		{"default port", "10.0.0.5", 0, "10.0.0.5:22"},
		{"custom port", "10.0.0.5", 2200, "10.0.0.5:2200"},
		{"bare ipv6", "::1", 22, "[::1]:22"},
		{"bracketed ipv6", "[fe80::1]", 22, "[fe80::1]:22"},
		{"bracketed ipv6 with port", "[::1]:2200", 22, "[::1]:2200"},
		{"surrounding whitespace", "  example.com ", 22, "example.com:22"},
		{"empty port", "example.com:", 2200, "example.com:2200"},
		{"bracketed ipv6 with empty port", "[::1]:", 22, "[::1]:22"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAddress(tt.host, tt.port))
		})
	}
}

func TestTarget_Validate(t *testing.T) {
	err := Target{Host: "example.com"}.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "username")
	assert.Contains(t, err.Error(), "remote path")

	err = Target{Host: "h", Username: "u", RemotePath: "/srv", Port: 70000}.Validate()
	assert.Error(t, err)

	assert.NoError(t, Target{Host: "h", Username: "u", RemotePath: "/srv"}.Validate())
}

func TestTarget_StringOmitsPassword(t *testing.T) {
	target := Target{Host: "example.com", Username: "deploy", Password: "hunter2", RemotePath: "/var/www"}
	assert.Equal(t, "deploy@example.com:22:/var/www", target.String())
	assert.NotContains(t, target.String(), "hunter2")
}

func TestConnectionManager_Connect(t *testing.T) {
	server := testutil.StartSSHServer(t, "deploy", "secret")
	remoteDir := t.TempDir()

	cm, err := NewConnectionManager(Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	client, err := cm.Connect(context.Background(), Target{
		Host:       server.Addr,
		Username:   "deploy",
		Password:   "secret",
		RemotePath: remoteDir,
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, server.Addr, client.Address())

	require.NoError(t, os.WriteFile(filepath.Join(remoteDir, "index.html"), []byte("hi"), 0o644))
	info, err := client.Stat(filepath.Join(remoteDir, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.Size())
	assert.Equal(t, 1, server.Sessions())
}

func TestConnectionManager_IdleSessionStaysOpen(t *testing.T) {
	server := testutil.StartSSHServer(t, "deploy", "secret")
	remoteDir := t.TempDir()

	cm, err := NewConnectionManager(Options{Timeout: 300 * time.Millisecond})
	require.NoError(t, err)

	client, err := cm.Connect(context.Background(), Target{
		Host:       server.Addr,
		Username:   "deploy",
		Password:   "secret",
		RemotePath: remoteDir,
	})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Stat(remoteDir)
	require.NoError(t, err)

	time.Sleep(time.Second)

	_, err = client.Stat(remoteDir)
	assert.NoError(t, err, "session dropped while idle")
}

func TestClient_CloseStopsKeepAlive(t *testing.T) {
	server := testutil.StartSSHServer(t, "deploy", "secret")

	cm, err := NewConnectionManager(Options{Timeout: 300 * time.Millisecond})
	require.NoError(t, err)

	client, err := cm.Connect(context.Background(), Target{
		Host:       server.Addr,
		Username:   "deploy",
		Password:   "secret",
		RemotePath: t.TempDir(),
	})
	require.NoError(t, err)

	assert.NoError(t, client.Close())
	select {
	case <-client.stop:
	default:
		t.Fatal("keepalive channel still open after Close")
	}
	assert.NotPanics(t, func() { _ = client.Close() })
}

func TestConnectionManager_RetriesDialFailures(t *testing.T) {
	server := testutil.StartSSHServer(t, "deploy", "secret")
	dialer := &flakyDialer{failures: 2}
	waiter := &recordingWaiter{}

	cm, err := NewConnectionManager(Options{
		Timeout: 5 * time.Second,
		Dial:    dialer.dial,
		Wait:    waiter.wait,
	})
	require.NoError(t, err)

	client, err := cm.Connect(context.Background(), Target{
		Host:       server.Addr,
		Username:   "deploy",
		Password:   "secret",
		RemotePath: t.TempDir(),
	})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, 3, dialer.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, waiter.waits)
}

func TestConnectionManager_GivesUpAfterThreeAttempts(t *testing.T) {
	dialer := &flakyDialer{failures: 10}
	waiter := &recordingWaiter{}

	cm, err := NewConnectionManager(Options{Dial: dialer.dial, Wait: waiter.wait})
	require.NoError(t, err)

	client, err := cm.Connect(context.Background(), Target{
		Host:       "192.0.2.10",
		Username:   "deploy",
		Password:   "secret",
		RemotePath: "/srv/app",
	})
	require.Error(t, err)
	assert.Nil(t, client)

	assert.Equal(t, 3, dialer.calls)
	assert.Len(t, waiter.waits, 2)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConnection))
	assert.Contains(t, err.Error(), "connection refused")

	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, 3, appErr.Context["attempts"])
}

func TestConnectionManager_AuthFailureIsNotRetried(t *testing.T) {
	server := testutil.StartSSHServer(t, "deploy", "secret")
	dialer := &flakyDialer{}
	waiter := &recordingWaiter{}

	cm, err := NewConnectionManager(Options{
		Timeout: 5 * time.Second,
		Dial:    dialer.dial,
		Wait:    waiter.wait,
	})
	require.NoError(t, err)

	_, err = cm.Connect(context.Background(), Target{
		Host:       server.Addr,
		Username:   "deploy",
		Password:   "wrong",
		RemotePath: "/srv/app",
	})
	require.Error(t, err)

	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeAuth))
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.False(t, appErr.IsRecoverable())
	assert.Equal(t, 1, dialer.calls)
	assert.Empty(t, waiter.waits)
	assert.Contains(t, apperrors.FormatUserError(err), "authentication failed")
}

func TestConnectionManager_CanceledContext(t *testing.T) {
	dialer := &flakyDialer{failures: 10}
	cm, err := NewConnectionManager(Options{Dial: dialer.dial})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = cm.Connect(ctx, Target{Host: "192.0.2.10", Username: "u", RemotePath: "/srv"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeInterruption))
	assert.Equal(t, 0, dialer.calls)
}

func TestConnectionManager_InvalidTargetSkipsDial(t *testing.T) {
	dialer := &flakyDialer{}
	cm, err := NewConnectionManager(Options{Dial: dialer.dial})
	require.NoError(t, err)

	_, err = cm.Connect(context.Background(), Target{Host: "example.com"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))
	assert.Equal(t, 0, dialer.calls)
}

func TestNewConnectionManager_MissingKnownHosts(t *testing.T) {
	_, err := NewConnectionManager(Options{KnownHostsFile: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfig))
}

func TestNewConnectionManager_Defaults(t *testing.T) {
	cm, err := NewConnectionManager(Options{})
	require.NoError(t, err)

	assert.Equal(t, DefaultTimeout, cm.timeout)
	assert.Equal(t, apperrors.ConnectRetryConfig(), cm.retry)
	assert.NotNil(t, cm.dial)
	assert.NotNil(t, cm.hostKeyCallback)
}

func TestIdleTimeoutConn(t *testing.T) {
	local, peer := net.Pipe()
	defer peer.Close()

	conn := withIdleTimeout(local, 50*time.Millisecond)
	defer conn.Close()

	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrDeadlineExceeded))

	assert.Same(t, local, withIdleTimeout(local, 0))
}

func TestPasswordCredential(t *testing.T) {
	methods := PasswordCredential{Password: "secret"}.AuthMethods()
	assert.Len(t, methods, 2)
}
