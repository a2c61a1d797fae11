// Package testutil provides in-process SSH and SFTP servers for tests.
package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// SSHServer is a password-authenticated SSH server on a loopback port that
// serves the sftp subsystem against the real local filesystem.
type SSHServer struct {
	Addr     string
	User     string
	Password string

	listener     net.Listener
	config       *ssh.ServerConfig
	authAttempts atomic.Int32
	sessions     atomic.Int32
	wg           sync.WaitGroup
	closeOnce    sync.Once
}

// StartSSHServer starts a server accepting user/password and stops it when
// the test finishes
func StartSSHServer(t testing.TB, user, password string) *SSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	s := &SSHServer{User: user, Password: password}
	s.config = &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			s.authAttempts.Add(1)
			if c.User() == s.User && string(pass) == s.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	s.config.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = ln
	s.Addr = ln.Addr().String()

	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// AuthAttempts returns how many password checks the server performed
func (s *SSHServer) AuthAttempts() int {
	return int(s.authAttempts.Load())
}

// Sessions returns how many sftp subsystems were started
func (s *SSHServer) Sessions() int {
	return int(s.sessions.Load())
}

// Close stops accepting connections
func (s *SSHServer) Close() {
	s.closeOnce.Do(func() {
		s.listener.Close()
		s.wg.Wait()
	})
}

func (s *SSHServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *SSHServer) handleConn(nConn net.Conn) {
	defer nConn.Close()

	sconn, chans, reqs, err := ssh.NewServerConn(nConn, s.config)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}
		go s.handleSession(channel, requests)
	}
}

func (s *SSHServer) handleSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		ok := req.Type == "subsystem" && subsystemName(req.Payload) == "sftp"
		req.Reply(ok, nil)
		if !ok {
			continue
		}

		s.sessions.Add(1)
		go func() {
			defer channel.Close()
			server, err := sftp.NewServer(channel)
			if err != nil {
				return
			}
			server.Serve()
			server.Close()
		}()
	}
}

func subsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload[:4])
	if int(n) > len(payload)-4 {
		return ""
	}
	return string(payload[4 : 4+n])
}

// NewPipeClient returns an sftp client talking to an in-memory server over
// pipes, with no SSH layer in between
func NewPipeClient(t testing.TB) *sftp.Client {
	t.Helper()

	clientRead, serverWrite := io.Pipe()
	serverRead, clientWrite := io.Pipe()

	server, err := sftp.NewServer(struct {
		io.Reader
		io.WriteCloser
	}{serverRead, serverWrite})
	require.NoError(t, err)
	go server.Serve()

	client, err := sftp.NewClientPipe(clientRead, clientWrite)
	require.NoError(t, err)

	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return client
}
