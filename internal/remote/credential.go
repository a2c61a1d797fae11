package remote

import (
	"golang.org/x/crypto/ssh"
)

// Credential produces SSH authentication methods. Orchestrators never see
// the concrete kind.
type Credential interface {
	AuthMethods() []ssh.AuthMethod
}

// PasswordCredential authenticates with a password. Servers that only
// offer keyboard-interactive get the same password for every prompt.
type PasswordCredential struct {
	Password string
}

// AuthMethods implements Credential
func (c PasswordCredential) AuthMethods() []ssh.AuthMethod {
	return []ssh.AuthMethod{
		ssh.Password(c.Password),
		ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
			answers := make([]string, len(questions))
			for i := range questions {
				answers[i] = c.Password
			}
			return answers, nil
		}),
	}
}
