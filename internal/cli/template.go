package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shineum/mailmerge-lite/internal/draft"
	"github.com/shineum/mailmerge-lite/internal/preview"
)

func (a *app) templateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Show or change the email template",
	}

	var (
		t        preview.Template
		bodyFile string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Set template fields",
		Long: `Set one or more template fields. Fields may contain {{column}}
placeholders, matched case-insensitively against the CSV header.
Only the flags given are changed. Previews are regenerated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			next := a.sess.Template
			flags := cmd.Flags()
			apply := func(name string, dst *string, v string) {
				if flags.Changed(name) {
					*dst = v
				}
			}
			apply("from-name", &next.FromName, t.FromName)
			apply("from-email", &next.FromEmail, t.FromEmail)
			apply("to", &next.To, t.To)
			apply("cc", &next.Cc, t.Cc)
			apply("bcc", &next.Bcc, t.Bcc)
			apply("subject", &next.Subject, t.Subject)
			apply("body", &next.Body, t.Body)
			apply("attachments", &next.VariableAttachments, t.VariableAttachments)
			apply("delimiter", &next.AttachmentDelimiter, t.AttachmentDelimiter)
			if bodyFile != "" {
				body, err := readInput(cmd.InOrStdin(), bodyFile)
				if err != nil {
					return err
				}
				next.Body = body
			}

			if err := a.sess.SetTemplate(next); err != nil {
				return err
			}
			if err := a.save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Template updated (%d previews)\n", a.sess.Previews.Len())
			return nil
		},
	}
	set.Flags().StringVar(&t.FromName, "from-name", "", "sender display name")
	set.Flags().StringVar(&t.FromEmail, "from-email", "", "sender address")
	set.Flags().StringVar(&t.To, "to", "", "recipient address(es)")
	set.Flags().StringVar(&t.Cc, "cc", "", "cc address(es)")
	set.Flags().StringVar(&t.Bcc, "bcc", "", "bcc address(es)")
	set.Flags().StringVar(&t.Subject, "subject", "", "subject line")
	set.Flags().StringVar(&t.Body, "body", "", "body text or HTML")
	set.Flags().StringVar(&bodyFile, "body-file", "", "read the body from a file (- for stdin)")
	set.Flags().StringVar(&t.VariableAttachments, "attachments", "", "per-recipient attachment expression, e.g. {{invoice}}")
	set.Flags().StringVar(&t.AttachmentDelimiter, "delimiter", "", "separator of multiple attachment names")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the template",
		RunE: func(cmd *cobra.Command, args []string) error {
			t := a.sess.Template
			w := cmd.OutOrStdout()
			printField(w, "From name", t.FromName)
			printField(w, "From email", t.FromEmail)
			printField(w, "To", t.To)
			printField(w, "Cc", t.Cc)
			printField(w, "Bcc", t.Bcc)
			printField(w, "Subject", t.Subject)
			printField(w, "Attachments", t.VariableAttachments)
			printField(w, "Delimiter", t.AttachmentDelimiter)
			fmt.Fprintf(w, "\n%s\n", t.Body)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Reset the template, recipients and previews",
		RunE: func(cmd *cobra.Command, args []string) error {
			a.sess.ClearTemplate()
			if err := a.save(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Template cleared")
			return nil
		},
	}

	var consistent bool
	importCmd := &cobra.Command{
		Use:   "import <file.eml|->",
		Short: "Use a saved email message as the template",
		Long: `Use a saved email message (.eml) as the template. Its sender, address
headers, subject and body replace the template fields, and its attachments
are added to the pool.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			d, err := draft.Parse([]byte(raw))
			if err != nil {
				return err
			}
			if err := a.sess.ImportDraft(d, consistent); err != nil {
				return err
			}
			if err := a.save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Template imported (%d attachments)\n", len(d.Attachments))
			return nil
		},
	}
	importCmd.Flags().BoolVar(&consistent, "consistent", false, "attach the message attachments to every email")

	cmd.AddCommand(set, show, importCmd, clearCmd)
	return cmd
}

func (a *app) recipientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipients",
		Short: "Load or show recipient data",
	}

	var pasted bool
	imp := &cobra.Command{
		Use:   "import <file|->",
		Short: "Load recipients from a CSV file",
		Long: `Load recipients from a comma separated file. With --paste the input
may be tab, semicolon or comma separated, as copied from a spreadsheet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			if pasted {
				err = a.sess.ImportPasted(text)
			} else {
				err = a.sess.SetCSV(text)
			}
			if err != nil {
				return err
			}
			if err := a.save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Loaded %d recipients\n", a.sess.Previews.Len())
			return nil
		},
	}
	imp.Flags().BoolVar(&pasted, "paste", false, "detect the delimiter of pasted spreadsheet data")

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the parsed recipients",
		RunE: func(cmd *cobra.Command, args []string) error {
			recs, err := a.sess.Recipients()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, rec := range recs {
				var cells []string
				rec.Each(func(key, value string) {
					cells = append(cells, fmt.Sprintf("%s=%s", key, value))
				})
				fmt.Fprintf(w, "line %d: %s\n", rec.RowNumber, strings.Join(cells, ", "))
			}
			return nil
		},
	}

	cmd.AddCommand(imp, show)
	return cmd
}

// readInput reads a file, or in when name is "-".
func readInput(in io.Reader, name string) (string, error) {
	var (
		data []byte
		err  error
	)
	if name == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	return string(data), nil
}

func printField(w io.Writer, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(w, "%-12s %s\n", label+":", value)
}
