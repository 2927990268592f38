// Package smtp implements a Provider that delivers emails through an SMTP
// submission server using the sender's own account.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/mailmerge-lite/internal/email"
	"github.com/shineum/mailmerge-lite/internal/provider"
)

// TLS modes.
const (
	TLSModeStartTLS = "starttls"
	TLSModeImplicit = "tls"
	TLSModeNone     = "none"
)

// defaultTimeout bounds dialing and every SMTP command.
const defaultTimeout = 30 * time.Second

// Config holds the settings for one SMTP account.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// TLSMode is starttls (default), tls or none.
	TLSMode            string
	InsecureSkipVerify bool
	Timeout            time.Duration
	// LocalName is sent in EHLO; defaults to localhost.
	LocalName string
}

// Provider sends emails over SMTP, opening one connection per message.
type Provider struct {
	cfg Config
}

// New creates a new SMTP Provider.
func New(cfg Config) *Provider {
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSModeStartTLS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.LocalName == "" {
		cfg.LocalName = "localhost"
	}
	return &Provider{cfg: cfg}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

// Send delivers msg to every To, Cc and Bcc recipient.
func (p *Provider) Send(ctx context.Context, msg *email.Email) error {
	raw, err := email.BuildMIME(msg)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	c, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.SendMail(msg.From, msg.Recipients(), bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("SMTP send failed: %w", err)
	}

	if err := c.Quit(); err != nil {
		slog.Debug("SMTP QUIT failed after delivery", "error", err)
	}
	return nil
}

// Verify dials the server, negotiates TLS, authenticates and quits.
func (p *Provider) Verify(ctx context.Context) error {
	c, err := p.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Quit(); err != nil {
		return fmt.Errorf("SMTP QUIT failed: %w", err)
	}
	return nil
}

// connect returns an authenticated client ready for MAIL FROM.
func (p *Provider) connect(ctx context.Context) (*gosmtp.Client, error) {
	addr := net.JoinHostPort(p.cfg.Host, strconv.Itoa(p.cfg.Port))
	tlsConfig := &tls.Config{
		ServerName:         p.cfg.Host,
		InsecureSkipVerify: p.cfg.InsecureSkipVerify,
	}

	dialer := &net.Dialer{Timeout: p.cfg.Timeout}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLSMode == TLSModeImplicit {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	c := gosmtp.NewClient(conn)
	c.CommandTimeout = p.cfg.Timeout
	c.SubmissionTimeout = p.cfg.Timeout

	if err := c.Hello(p.cfg.LocalName); err != nil {
		c.Close()
		return nil, fmt.Errorf("SMTP EHLO failed: %w", err)
	}

	if p.cfg.TLSMode == TLSModeStartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			c.Close()
			return nil, errors.New("server does not support STARTTLS")
		}
		if err := c.StartTLS(tlsConfig); err != nil {
			c.Close()
			return nil, fmt.Errorf("SMTP STARTTLS failed: %w", err)
		}
	}

	if p.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", p.cfg.Username, p.cfg.Password)); err != nil {
			c.Close()
			return nil, fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	slog.Debug("SMTP session established",
		"addr", addr,
		"tls_mode", p.cfg.TLSMode,
	)
	return c, nil
}

// Factory builds a Provider per request from the submitted account,
// filling the transport settings from a base Config.
type Factory struct {
	Base Config
}

// Name returns the provider name.
func (f Factory) Name() string {
	return "smtp"
}

// UsesAccount reports that SMTP delivery needs the request's account.
func (f Factory) UsesAccount() bool {
	return true
}

// For returns a Provider for acct. Empty account fields fall back to Base.
func (f Factory) For(acct provider.Account) (provider.Provider, error) {
	cfg := f.Base
	if acct.Host != "" {
		cfg.Host = acct.Host
	}
	if acct.Port != 0 {
		cfg.Port = acct.Port
	}
	if acct.Username != "" {
		cfg.Username = acct.Username
		cfg.Password = acct.Password
	}
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, errors.New("SMTP host and port are required")
	}
	return New(cfg), nil
}
