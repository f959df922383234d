package hashpolicy

import (
	"strings"
	"time"
)

type SetPasswordInput struct {
	Subject  string
	Realm    string
	Password string
}

type PasswordInput struct {
	Subject  string
	Realm    string
	Password string
}

// Result describes the credential a call left in storage. It never carries
// the secret.
type Result struct {
	CredentialID string
	Subject      string
	Algorithm    string
	Cost         int
	Rehashed     bool
	At           time.Time
}

// Normalize trims identifiers. Passwords are compared byte for byte and are
// left untouched.
func (i SetPasswordInput) Normalize() SetPasswordInput {
	return SetPasswordInput{
		Subject:  strings.TrimSpace(i.Subject),
		Realm:    strings.TrimSpace(i.Realm),
		Password: i.Password,
	}
}

func (i PasswordInput) Normalize() PasswordInput {
	return PasswordInput{
		Subject:  strings.TrimSpace(i.Subject),
		Realm:    strings.TrimSpace(i.Realm),
		Password: i.Password,
	}
}
