package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shineum/mailmerge-lite/internal/send"
)

func (a *app) accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show or change the SMTP account",
	}

	var settings send.SMTPSettings
	var port int
	set := &cobra.Command{
		Use:   "set",
		Short: "Set SMTP account fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			next := a.sess.SMTP
			flags := cmd.Flags()
			if flags.Changed("server") {
				next.Server = settings.Server
			}
			if flags.Changed("port") {
				next.Port = send.Port(port)
			}
			if flags.Changed("user") {
				next.User = settings.User
			}
			if flags.Changed("password") {
				next.Password = settings.Password
			}
			if err := a.sess.SetAccount(next); err != nil {
				return err
			}
			return a.save()
		},
	}
	set.Flags().StringVar(&settings.Server, "server", "", "SMTP host")
	set.Flags().IntVar(&port, "port", 0, "SMTP port")
	set.Flags().StringVar(&settings.User, "user", "", "SMTP user")
	set.Flags().StringVar(&settings.Password, "password", "", "SMTP password")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the account settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.sess.SMTP
			w := cmd.OutOrStdout()
			printField(w, "Server", s.Address())
			printField(w, "User", s.User)
			if s.Password != "" {
				printField(w, "Password", "********")
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Restore the default account settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.sess.ClearAccount()
			return a.save()
		},
	}

	cmd.AddCommand(set, show, clearCmd)
	return cmd
}

func (a *app) sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send",
		Short: "Send every included email",
		Long: `Send every email not excluded. Attachments are re-resolved against the
current pool. Per-recipient outcomes are recorded in the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.context(cmd)
			report, err := a.sess.Send(ctx, a.orchestrator(ctx))
			if err != nil {
				var ve *send.ValidationError
				if errors.As(err, &ve) {
					for _, f := range ve.Fields {
						fmt.Fprintf(cmd.ErrOrStderr(), "  - %s\n", f.Message)
					}
				}
				return err
			}
			if err := a.save(); err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			for _, r := range report.Results {
				if r.Success {
					fmt.Fprintf(w, "✓ %s\n", r.Email)
				} else {
					fmt.Fprintf(w, "✗ %s (line %d): %s\n", r.Email, r.RowNumber, r.Error)
				}
			}
			for _, d := range report.Diagnostics {
				fmt.Fprintf(w, "! %s\n", d)
			}
			fmt.Fprintln(w, report.Summary)

			if counts := report.Counts(); counts.Failed > 0 {
				return fmt.Errorf("%d of %d emails failed", counts.Failed, counts.Total())
			}
			return nil
		},
	}
}

func (a *app) testSMTPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-smtp",
		Short: "Ask the send service to check the SMTP account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := a.context(cmd)
			res, err := a.orchestrator(ctx).TestConnection(ctx, a.sess.SMTP)
			if err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Error)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s\n", res.Message)
			return nil
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session and the send service state",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			store := a.sess.Previews
			fmt.Fprintf(w, "Session:     %s\n", a.cfg.Client.SessionFile)
			fmt.Fprintf(w, "Emails:      %d (selected: %s)\n", store.Len(), store.RangeSummary())
			fmt.Fprintf(w, "Attachments: %d\n", a.sess.Attachments.Len())

			status, err := a.client().Status(a.context(cmd))
			if err != nil {
				fmt.Fprintf(w, "Server:      %s (unreachable: %v)\n", a.cfg.Client.ServerURL, err)
				return nil
			}
			mode := ""
			if status.DemoMode {
				mode = ", demo mode"
			}
			fmt.Fprintf(w, "Server:      %s (%s%s)\n", a.cfg.Client.ServerURL, status.Provider, mode)
			return nil
		},
	}
}
