// Package main is the entry point for the mail merge send service.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/mailmerge-lite/internal/config"
	"github.com/shineum/mailmerge-lite/internal/metrics"
	"github.com/shineum/mailmerge-lite/internal/provider"
	"github.com/shineum/mailmerge-lite/internal/provider/graph"
	"github.com/shineum/mailmerge-lite/internal/provider/resend"
	"github.com/shineum/mailmerge-lite/internal/provider/sendgrid"
	"github.com/shineum/mailmerge-lite/internal/provider/ses"
	"github.com/shineum/mailmerge-lite/internal/provider/smtp"
	"github.com/shineum/mailmerge-lite/internal/provider/stdout"
	"github.com/shineum/mailmerge-lite/internal/server"
	mmtls "github.com/shineum/mailmerge-lite/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	factory, err := buildFactory(ctx, cfg)
	if err != nil {
		slog.Error("failed to create provider", "error", err)
		os.Exit(1)
	}

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled {
		tlsConfig, err = mmtls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			slog.Error("failed to setup TLS", "error", err)
			os.Exit(1)
		}
		slog.Info("serving HTTPS", "tls_mode", mmtls.Mode(cfg.TLS.CertFile, cfg.TLS.KeyFile))
	}

	srv := server.New(server.Config{
		DemoMode:     cfg.Server.DemoMode,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		SendRate:     cfg.Server.SendRate,
		SendBurst:    cfg.Server.SendBurst,
	}, factory, metrics.New())

	slog.Info("starting mailmerge-server",
		"listen", cfg.Server.Listen,
		"provider", factory.Name(),
		"demo_mode", cfg.Server.DemoMode,
		"send_rate", cfg.Server.SendRate,
	)

	// Start the server (blocks until context is cancelled)
	if err := srv.ListenAndServe(ctx, cfg.Server.Listen, tlsConfig); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("mailmerge-server stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildFactory chooses the email delivery backend. SMTP builds a provider
// per request from the submitted account; every other backend is shared.
func buildFactory(ctx context.Context, cfg *config.Config) (provider.Factory, error) {
	switch cfg.Provider {
	case "smtp":
		slog.Info("using SMTP provider",
			"default_host", cfg.SMTP.Host,
			"tls_mode", cfg.SMTP.TLSMode,
		)
		return smtp.Factory{Base: smtp.Config{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			TLSMode:            cfg.SMTP.TLSMode,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
			Timeout:            cfg.SMTP.Timeout,
			LocalName:          cfg.SMTP.LocalName,
		}}, nil

	case "ses":
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.Config{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			Sender:           cfg.SES.Sender,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return provider.Static(p), nil

	case "graph":
		slog.Info("using Microsoft Graph provider", "sender", cfg.Graph.Sender)
		return provider.Static(graph.New(graph.Config{
			TenantID:        cfg.Graph.TenantID,
			ClientID:        cfg.Graph.ClientID,
			ClientSecret:    cfg.Graph.ClientSecret,
			Sender:          cfg.Graph.Sender,
			SaveToSentItems: cfg.Graph.SaveToSentItems,
		})), nil

	case "resend":
		slog.Info("using Resend provider", "sender", cfg.Resend.Sender)
		return provider.Static(resend.New(resend.Config{
			APIKey: cfg.Resend.APIKey,
			Sender: cfg.Resend.Sender,
		})), nil

	case "sendgrid":
		slog.Info("using SendGrid provider",
			"sender", cfg.SendGrid.Sender,
			"sandbox", cfg.SendGrid.Sandbox,
		)
		return provider.Static(sendgrid.New(sendgrid.Config{
			APIKey:  cfg.SendGrid.APIKey,
			Sender:  cfg.SendGrid.Sender,
			Sandbox: cfg.SendGrid.Sandbox,
		})), nil

	case "stdout":
		slog.Info("using stdout provider")
		return provider.Static(stdout.New()), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
