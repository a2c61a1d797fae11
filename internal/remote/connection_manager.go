// Package remote opens authenticated SFTP sessions over SSH.
package remote

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	apperrors "sftp-deploy/internal/errors"
	"sftp-deploy/internal/logging"
)

// DefaultTimeout bounds each dial attempt and every blocking read or write on
// an established session. Keepalives go out every third of it, so only a
// peer that stops answering trips the deadline.
const DefaultTimeout = 30 * time.Second

// DialFunc opens the raw TCP connection
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Options configures a ConnectionManager. Zero values fall back to defaults.
type Options struct {
	Retry          apperrors.RetryConfig
	Timeout        time.Duration
	KnownHostsFile string
	Logger         *logging.Logger
	Dial           DialFunc
	Wait           apperrors.Waiter
}

// ConnectionManager establishes sessions with retry on the dial phase only
type ConnectionManager struct {
	retry           apperrors.RetryConfig
	timeout         time.Duration
	hostKeyCallback ssh.HostKeyCallback
	logger          *logging.Logger
	dial            DialFunc
	wait            apperrors.Waiter
}

// NewConnectionManager creates a connection manager
func NewConnectionManager(opts Options) (*ConnectionManager, error) {
	cm := &ConnectionManager{
		retry:   opts.Retry,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		dial:    opts.Dial,
		wait:    opts.Wait,
	}

	if cm.retry.MaxAttempts == 0 {
		cm.retry = apperrors.ConnectRetryConfig()
	}
	if cm.timeout <= 0 {
		cm.timeout = DefaultTimeout
	}
	if cm.logger == nil {
		cm.logger = logging.NewDiscardLogger()
	}
	if cm.dial == nil {
		dialer := &net.Dialer{Timeout: cm.timeout}
		cm.dial = dialer.DialContext
	}

	cm.hostKeyCallback = ssh.InsecureIgnoreHostKey()
	if opts.KnownHostsFile != "" {
		cb, err := knownhosts.New(opts.KnownHostsFile)
		if err != nil {
			return nil, apperrors.NewConfigError(fmt.Sprintf("failed to load known hosts file %s", opts.KnownHostsFile), err)
		}
		cm.hostKeyCallback = cb
	}

	return cm, nil
}

// Connect dials the target, authenticates, and opens the SFTP subsystem.
// Only TCP dial failures are retried; ctx bounds the dial and retry phase.
func (cm *ConnectionManager) Connect(ctx context.Context, target Target) (*Client, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	addr := target.Address()
	start := time.Now()

	conn, err := cm.dialWithRetry(ctx, addr)
	if err != nil {
		return nil, err
	}
	conn = withIdleTimeout(conn, cm.timeout)

	config := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            target.Credential().AuthMethods(),
		HostKeyCallback: cm.hostKeyCallback,
		Timeout:         cm.timeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, apperrors.NewAuthError(fmt.Sprintf("authentication failed for %s@%s", target.Username, addr), err).
				WithUserMessage("authentication failed")
		}
		return nil, apperrors.NewAuthError(fmt.Sprintf("SSH handshake with %s failed", addr), err).
			WithUserMessage("SSH handshake failed")
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, apperrors.NewTransferError(fmt.Sprintf("failed to open SFTP subsystem on %s", addr), err).
			WithUserMessage("failed to open SFTP session")
	}

	cm.logger.LogSessionEstablished(ctx, addr, target.Username, time.Since(start))

	client := &Client{
		SFTPFS: NewSFTPFS(sftpClient),
		ssh:    sshClient,
		sftp:   sftpClient,
		addr:   addr,
		stop:   make(chan struct{}),
	}
	interval := cm.timeout / 3
	if interval <= 0 {
		interval = cm.timeout
	}
	go client.keepAlive(interval)
	return client, nil
}

func (cm *ConnectionManager) dialWithRetry(ctx context.Context, addr string) (net.Conn, error) {
	handler := apperrors.NewRetryHandler(cm.retry).OnRetry(func(attempt int, delay time.Duration, err error) {
		cm.logger.WithContext(ctx).WithField("address", addr).
			Infof("Retrying connection in %s (attempt %d of %d)", delay, attempt+1, cm.retry.MaxAttempts)
	})
	if cm.wait != nil {
		handler = handler.WithWaiter(cm.wait)
	}

	var conn net.Conn
	attempt := 0
	err := handler.Retry(ctx, func() error {
		attempt++
		attemptStart := time.Now()
		c, err := cm.dial(ctx, "tcp", addr)
		cm.logger.LogConnectionAttempt(ctx, addr, attempt, time.Since(attemptStart), err)
		if err != nil {
			return apperrors.NewConnectionError(fmt.Sprintf("failed to connect to %s", addr), err).
				WithUserMessage("connection failed")
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}
