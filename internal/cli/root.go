/*
Package cli provides the mailmerge command line interface. Every command
loads the session file, applies one change or action, and saves it back.
*/
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/shineum/mailmerge-lite/internal/config"
	"github.com/shineum/mailmerge-lite/internal/preview"
	"github.com/shineum/mailmerge-lite/internal/send"
	"github.com/shineum/mailmerge-lite/internal/session"
)

// app is the state shared by the commands of one invocation.
type app struct {
	cfgFile     string
	sessionPath string
	serverURL   string
	verbose     bool
	debug       bool

	cfg  *config.Config
	sess *session.Session
}

// Execute runs the CLI with the process arguments.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "mailmerge",
		Short: "Personalized bulk email from a template and a CSV",
		Long: `mailmerge merges a subject/body template with the rows of a CSV,
lets you review, edit and exclude the generated emails, and hands the batch
to a mailmerge-server for delivery.

Example:
  mailmerge recipients import people.csv
  mailmerge template set --to '{{email}}' --subject 'Hi {{name}}' --body-file body.html
  mailmerge attachments add terms.pdf --consistent
  mailmerge preview list
  mailmerge send`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (optional)")
	root.PersistentFlags().StringVarP(&a.sessionPath, "session", "s", "", "session file (default from config)")
	root.PersistentFlags().StringVar(&a.serverURL, "server", "", "send service URL (default from config)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug output")

	root.AddCommand(
		a.templateCmd(),
		a.recipientsCmd(),
		a.previewCmd(),
		a.editCmd(),
		a.resetCmd(),
		a.excludeCmd(),
		a.attachmentsCmd(),
		a.accountCmd(),
		a.sendCmd(),
		a.testSMTPCmd(),
		a.statusCmd(),
	)
	return root
}

// setup installs the logger, loads configuration and opens the session.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	setupLogger(cmd.ErrOrStderr(), a.verbose, a.debug)

	var err error
	if a.cfgFile != "" {
		if _, statErr := os.Stat(a.cfgFile); os.IsNotExist(statErr) {
			return fmt.Errorf("config file not found: %s", a.cfgFile)
		}
		a.cfg, err = config.LoadFromFile(a.cfgFile)
	} else {
		a.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if a.sessionPath != "" {
		a.cfg.Client.SessionFile = a.sessionPath
	}
	if a.serverURL != "" {
		a.cfg.Client.ServerURL = a.serverURL
	}

	a.sess, err = session.Load(a.cfg.Client.SessionFile, a.defaults())
	if err != nil {
		return err
	}
	slog.Debug("session loaded",
		"path", a.cfg.Client.SessionFile,
		"previews", a.sess.Previews.Len(),
		"attachments", a.sess.Attachments.Len(),
	)
	return nil
}

func (a *app) defaults() session.Defaults {
	return session.Defaults{
		Template: preview.Template{
			FromName: a.cfg.Client.FromName,
			Subject:  a.cfg.Client.Subject,
		},
		SMTP: send.SMTPSettings{
			Server: a.cfg.SMTP.Host,
			Port:   send.Port(a.cfg.SMTP.Port),
		},
	}
}

func (a *app) save() error {
	return a.sess.Save(a.cfg.Client.SessionFile)
}

// orchestrator checks the SMTP account only when the send service delivers
// through it. An unreachable service keeps the check on.
func (a *app) orchestrator(ctx context.Context) *send.Orchestrator {
	client := a.client()
	opts := []send.Option{send.WithPreflight(a.cfg.Client.Preflight)}
	if status, err := client.Status(ctx); err == nil && !status.UsesAccount {
		slog.Debug("send service ignores the SMTP account", "provider", status.Provider)
		opts = append(opts, send.WithSMTPValidation(false))
	}
	return send.NewOrchestrator(client, opts...)
}

func (a *app) client() *send.Client {
	return send.NewClient(a.cfg.Client.ServerURL, a.cfg.Client.Timeout)
}

func (a *app) context(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// setupLogger routes slog through a charm logger on w.
func setupLogger(w io.Writer, verbose, debug bool) {
	level := log.WarnLevel
	if debug {
		level = log.DebugLevel
	} else if verbose {
		level = log.InfoLevel
	}
	logger := log.NewWithOptions(w, log.Options{Level: level})
	slog.SetDefault(slog.New(logger))
}
