// internal/auth/gate.go
package auth

import (
	"crypto/subtle"

	appErrors "github.com/unclebandit/reminder-mailer/internal/errors"
)

// Gate compares submitted credentials with the two configured secrets.
type Gate struct {
	username string
	password string
}

func NewGate(username, password string) *Gate {
	return &Gate{username: username, password: password}
}

// Check returns nil iff both values match exactly.
func (g *Gate) Check(username, password string) error {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(g.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(g.password)) == 1
	if !userOK || !passOK {
		return appErrors.ErrAuthDenied
	}
	return nil
}
