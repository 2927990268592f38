// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mail merge server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultMaxBodyBytes is 64 MiB, enough for a batch carrying several
// 10 MiB attachments as data URLs.
const defaultMaxBodyBytes = 64 << 20

// Providers lists the accepted provider names.
var Providers = []string{"smtp", "ses", "graph", "resend", "sendgrid", "stdout"}

// Config holds the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Provider string         `yaml:"provider"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	SES      SESConfig      `yaml:"ses"`
	Graph    GraphConfig    `yaml:"graph"`
	Resend   ResendConfig   `yaml:"resend"`
	SendGrid SendGridConfig `yaml:"sendgrid"`
	TLS      TLSConfig      `yaml:"tls"`
	Logging  LoggingConfig  `yaml:"logging"`
	Client   ClientConfig   `yaml:"client"`
}

// ServerConfig holds the HTTP send service settings.
type ServerConfig struct {
	Listen       string `yaml:"listen"`
	DemoMode     bool   `yaml:"demo_mode"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
	// SendRate is the number of emails delivered per second; zero disables
	// rate limiting.
	SendRate  float64 `yaml:"send_rate"`
	SendBurst int     `yaml:"send_burst"`
}

// SMTPConfig holds the outbound SMTP defaults. Host, port and credentials are
// normally supplied per request.
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Username           string        `yaml:"username"`
	Password           string        `yaml:"password"`
	TLSMode            string        `yaml:"tls_mode"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	Timeout            time.Duration `yaml:"timeout"`
	LocalName          string        `yaml:"local_name"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	Sender           string `yaml:"sender"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID        string `yaml:"tenant_id"`
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	Sender          string `yaml:"sender"`
	SaveToSentItems bool   `yaml:"save_to_sent_items"`
}

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
	Sender string `yaml:"sender"`
}

// SendGridConfig holds SendGrid API configuration.
type SendGridConfig struct {
	APIKey  string `yaml:"api_key"`
	Sender  string `yaml:"sender"`
	Sandbox bool   `yaml:"sandbox"`
}

// TLSConfig holds HTTPS serving settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ClientConfig holds the CLI settings.
type ClientConfig struct {
	ServerURL   string        `yaml:"server_url"`
	SessionFile string        `yaml:"session_file"`
	Timeout     time.Duration `yaml:"timeout"`
	Preflight   bool          `yaml:"preflight"`
	FromName    string        `yaml:"from_name"`
	Subject     string        `yaml:"subject"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvVars()

	return cfg, nil
}

// Validate checks that the selected provider is known and fully configured.
func (c *Config) Validate() error {
	switch c.Provider {
	case "smtp", "stdout":
		return nil
	case "ses":
		if !c.SESConfigured() {
			return errors.New("ses provider requires SES_REGION")
		}
	case "graph":
		if !c.GraphConfigured() {
			return errors.New("graph provider requires GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and GRAPH_SENDER")
		}
	case "resend":
		if c.Resend.APIKey == "" {
			return errors.New("resend provider requires RESEND_API_KEY")
		}
	case "sendgrid":
		if c.SendGrid.APIKey == "" {
			return errors.New("sendgrid provider requires SENDGRID_API_KEY")
		}
	default:
		return fmt.Errorf("unknown provider %q (want one of %s)", c.Provider, strings.Join(Providers, ", "))
	}
	return nil
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if an SES region is set. Credentials may come
// from the default AWS chain.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Server.Listen = ":8000"
	c.Server.MaxBodyBytes = defaultMaxBodyBytes
	c.Server.SendBurst = 1
	c.Provider = "smtp"
	c.SMTP.Host = "smtp.gmail.com"
	c.SMTP.Port = 587
	c.SMTP.TLSMode = "starttls"
	c.SMTP.Timeout = 30 * time.Second
	c.Logging.Level = "info"
	c.Client.ServerURL = "http://localhost:8000"
	c.Client.SessionFile = "mailmerge-session.yaml"
	c.Client.Timeout = 5 * time.Minute
	c.Client.Preflight = true
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	envString("LISTEN_ADDR", &c.Server.Listen)
	envBool("DEMO_MODE", &c.Server.DemoMode)
	envInt64("MAX_BODY_BYTES", &c.Server.MaxBodyBytes)
	envFloat("SEND_RATE", &c.Server.SendRate)
	envInt("SEND_BURST", &c.Server.SendBurst)

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	envString("SMTP_HOST", &c.SMTP.Host)
	envInt("SMTP_PORT", &c.SMTP.Port)
	envString("SMTP_USERNAME", &c.SMTP.Username)
	envString("SMTP_PASSWORD", &c.SMTP.Password)
	envString("SMTP_TLS_MODE", &c.SMTP.TLSMode)
	envBool("SMTP_INSECURE_SKIP_VERIFY", &c.SMTP.InsecureSkipVerify)
	envDuration("SMTP_TIMEOUT", &c.SMTP.Timeout)
	envString("SMTP_LOCAL_NAME", &c.SMTP.LocalName)

	envString("SES_REGION", &c.SES.Region)
	envString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	envString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	envString("SES_SENDER", &c.SES.Sender)
	envString("SES_CONFIGURATION_SET", &c.SES.ConfigurationSet)

	envString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	envString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	envString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	envString("GRAPH_SENDER", &c.Graph.Sender)
	envBool("GRAPH_SAVE_TO_SENT_ITEMS", &c.Graph.SaveToSentItems)

	envString("RESEND_API_KEY", &c.Resend.APIKey)
	envString("RESEND_SENDER", &c.Resend.Sender)

	envString("SENDGRID_API_KEY", &c.SendGrid.APIKey)
	envString("SENDGRID_SENDER", &c.SendGrid.Sender)
	envBool("SENDGRID_SANDBOX", &c.SendGrid.Sandbox)

	envBool("TLS_ENABLED", &c.TLS.Enabled)
	envString("TLS_CERT_FILE", &c.TLS.CertFile)
	envString("TLS_KEY_FILE", &c.TLS.KeyFile)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	envString("MAILMERGE_SERVER_URL", &c.Client.ServerURL)
	envString("MAILMERGE_SESSION", &c.Client.SessionFile)
	envDuration("MAILMERGE_CLIENT_TIMEOUT", &c.Client.Timeout)
	envBool("MAILMERGE_PREFLIGHT", &c.Client.Preflight)
	envString("MAILMERGE_FROM_NAME", &c.Client.FromName)
	envString("MAILMERGE_SUBJECT", &c.Client.Subject)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Unparseable numeric and boolean values are ignored.

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
