// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/mailmerge-lite/internal/email"
)

// Provider is the interface that email delivery backends must implement.
type Provider interface {
	// Send delivers one merged email.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}

// Verifier is implemented by providers that can check their connection and
// credentials without sending anything.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Account holds the SMTP account settings submitted with a request.
type Account struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Factory returns the Provider that serves one request.
type Factory interface {
	Name() string

	// UsesAccount reports whether For needs the request's SMTP account.
	UsesAccount() bool

	For(acct Account) (Provider, error)
}

// Static returns a Factory that always serves p and ignores request accounts.
func Static(p Provider) Factory {
	return staticFactory{p: p}
}

type staticFactory struct {
	p Provider
}

func (f staticFactory) Name() string                  { return f.p.Name() }
func (f staticFactory) UsesAccount() bool             { return false }
func (f staticFactory) For(Account) (Provider, error) { return f.p, nil }
