package remote

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	apperrors "sftp-deploy/internal/errors"
)

// DefaultPort is used when the host string carries no port
const DefaultPort = 22

// Target describes one remote deployment destination. It is built per
// invocation and never persisted.
type Target struct {
	Host       string
	Port       int
	Username   string
	Password   string
	RemotePath string
}

// Address returns host:port, appending the port only when Host has none
func (t Target) Address() string {
	return NormalizeAddress(t.Host, t.Port)
}

// Credential returns the authentication material for the target
func (t Target) Credential() Credential {
	return PasswordCredential{Password: t.Password}
}

// String renders the target without the password
func (t Target) String() string {
	return fmt.Sprintf("%s@%s:%s", t.Username, t.Address(), t.RemotePath)
}

// Validate checks the fields needed to open a session
func (t Target) Validate() error {
	var missing []string
	if strings.TrimSpace(t.Host) == "" {
		missing = append(missing, "host")
	}
	if t.Username == "" {
		missing = append(missing, "username")
	}
	if t.RemotePath == "" {
		missing = append(missing, "remote path")
	}
	if len(missing) > 0 {
		return apperrors.NewConfigError(fmt.Sprintf("missing required target fields: %s", strings.Join(missing, ", ")), nil)
	}
	if t.Port < 0 || t.Port > 65535 {
		return apperrors.NewConfigError(fmt.Sprintf("invalid port %d", t.Port), nil)
	}
	return nil
}

// NormalizeAddress turns a host string into host:port. A port already present
// in host wins over port; port <= 0 means DefaultPort.
func NormalizeAddress(host string, port int) string {
	host = strings.TrimSpace(host)
	if port <= 0 {
		port = DefaultPort
	}

	if h, p, err := net.SplitHostPort(host); err == nil {
		if p != "" {
			return net.JoinHostPort(h, p)
		}
		// "host:" carries an empty port
		host = h
	}

	// bare IPv6 literal, possibly bracketed
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(port))
}
