package remote

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPFS adapts an sftp.Client to the file operations used by tree transfers
type SFTPFS struct {
	client *sftp.Client
}

// NewSFTPFS wraps an existing sftp client
func NewSFTPFS(client *sftp.Client) *SFTPFS {
	return &SFTPFS{client: client}
}

func (f *SFTPFS) Mkdir(p string) error {
	return f.client.Mkdir(p)
}

func (f *SFTPFS) Stat(p string) (os.FileInfo, error) {
	return f.client.Stat(p)
}

func (f *SFTPFS) ReadDir(p string) ([]os.FileInfo, error) {
	return f.client.ReadDir(p)
}

func (f *SFTPFS) Create(p string) (io.WriteCloser, error) {
	return f.client.Create(p)
}

func (f *SFTPFS) Open(p string) (io.ReadCloser, error) {
	return f.client.Open(p)
}

// Client is a live SSH connection with an open SFTP subsystem. The caller
// owns it and must Close it on every exit path.
type Client struct {
	*SFTPFS
	ssh  *ssh.Client
	sftp *sftp.Client
	addr string

	stop     chan struct{}
	stopOnce sync.Once
}

// keepAliveRequest is answered by OpenSSH and by any server that replies to
// unknown global requests
const keepAliveRequest = "keepalive@openssh.com"

// keepAlive sends a global request every interval so the session's read
// deadline keeps moving while the caller is busy locally. It returns when
// Close is called or a request fails.
func (c *Client) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if _, _, err := c.ssh.SendRequest(keepAliveRequest, true, nil); err != nil {
				return
			}
		}
	}
}

// Address returns the host:port the client is connected to
func (c *Client) Address() string {
	return c.addr
}

// Close shuts down the SFTP subsystem and then the SSH connection
func (c *Client) Close() error {
	if c.stop != nil {
		c.stopOnce.Do(func() { close(c.stop) })
	}

	var sftpErr, sshErr error
	if c.sftp != nil {
		sftpErr = c.sftp.Close()
	}
	if c.ssh != nil {
		sshErr = c.ssh.Close()
	}
	if sshErr != nil {
		return fmt.Errorf("failed to close ssh connection: %w", sshErr)
	}
	if sftpErr != nil {
		return fmt.Errorf("failed to close sftp session: %w", sftpErr)
	}
	return nil
}
