package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/shineum/mailmerge-lite/internal/preview"
)

func (a *app) previewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show and navigate the generated emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showCurrent(cmd.OutOrStdout())
		},
	}

	move := func(use, short string, delta int) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			RunE: func(cmd *cobra.Command, args []string) error {
				if !a.sess.Previews.Navigate(delta) {
					fmt.Fprintln(cmd.ErrOrStderr(), "already at the edge of the batch")
				}
				if err := a.save(); err != nil {
					return err
				}
				return a.showCurrent(cmd.OutOrStdout())
			},
		}
	}

	gotoCmd := &cobra.Command{
		Use:   "goto <n>",
		Short: "Show email n (1-based)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := previewIndex(args[0], a.sess.Previews.Len())
			if err != nil {
				return err
			}
			a.sess.Previews.Navigate(i - a.sess.Previews.Cursor())
			if err := a.save(); err != nil {
				return err
			}
			return a.showCurrent(cmd.OutOrStdout())
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List every email with its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			store := a.sess.Previews
			for i, p := range store.Previews() {
				marker := " "
				if i == store.Cursor() {
					marker = ">"
				}
				state := string(p.SendStatus)
				if store.IsExcluded(i) {
					state = "excluded"
				}
				fmt.Fprintf(w, "%s %3d  %-9s %-30s %s\n", marker, i+1, state, p.To, p.Subject)
			}
			fmt.Fprintf(w, "\nSelected: %s\n", store.RangeSummary())
			return nil
		},
	}

	cmd.AddCommand(
		move("next", "Show the next email", 1),
		move("prev", "Show the previous email", -1),
		gotoCmd,
		list,
	)
	return cmd
}

func (a *app) showCurrent(w io.Writer) error {
	store := a.sess.Previews
	p, err := store.Current()
	if err != nil {
		return err
	}

	fmt.Fprintln(w, store.Counter())
	if store.IsExcluded(store.Cursor()) {
		fmt.Fprintln(w, "(excluded from sending)")
	}
	if p.SendError != "" {
		fmt.Fprintf(w, "Error: %s\n", p.SendError)
	}
	fmt.Fprintln(w)
	printField(w, "From", p.From)
	printField(w, "To", p.To)
	printField(w, "Cc", p.Cc)
	printField(w, "Bcc", p.Bcc)
	printField(w, "Subject", p.Subject)
	if len(p.Attachments) > 0 {
		names := make([]string, len(p.Attachments))
		for i, ref := range p.Attachments {
			names[i] = fmt.Sprintf("%s (%s)", ref.Filename, humanize.IBytes(uint64(ref.Size)))
		}
		printField(w, "Attachments", strings.Join(names, ", "))
	}
	fmt.Fprintf(w, "\n%s\n", p.Body)

	for _, d := range store.Diagnostics() {
		fmt.Fprintf(w, "! %s\n", d)
	}
	return nil
}

func (a *app) editCmd() *cobra.Command {
	fields := make([]string, len(preview.Fields))
	for i, f := range preview.Fields {
		fields[i] = string(f)
	}

	return &cobra.Command{
		Use:       "edit <field> <value>",
		Short:     "Overwrite a field of the current email",
		Long:      "Overwrite a field of the current email. Fields: " + strings.Join(fields, ", ") + ".",
		Args:      cobra.ExactArgs(2),
		ValidArgs: fields,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.sess.Edit(preview.Field(args[0]), args[1]); err != nil {
				return err
			}
			if err := a.save(); err != nil {
				return err
			}
			return a.showCurrent(cmd.OutOrStdout())
		},
	}
}

func (a *app) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard edits of the current email",
		Long: `Re-merge the current email from the template, discarding its edits and
attachment changes. All exclusions are cleared as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.sess.ResetCurrent(); err != nil {
				return err
			}
			if err := a.save(); err != nil {
				return err
			}
			return a.showCurrent(cmd.OutOrStdout())
		},
	}
}

func (a *app) excludeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exclude [n...]",
		Short: "Toggle whether emails are sent",
		Long: `Toggle the exclusion of the given emails (1-based), or of the current
email when none is given, and print the selected range.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := a.sess.Previews
			if len(args) == 0 {
				if err := store.ToggleExcludeCurrent(); err != nil {
					return err
				}
			}
			for _, arg := range args {
				i, err := previewIndex(arg, store.Len())
				if err != nil {
					return err
				}
				if err := store.ToggleExclude(i); err != nil {
					return err
				}
			}
			if err := a.save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Selected: %s\n", store.RangeSummary())
			return nil
		},
	}
}

// previewIndex converts a 1-based argument into an index below n.
func previewIndex(arg string, n int) (int, error) {
	v, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid email number %q", arg)
	}
	if v < 1 || v > n {
		return 0, fmt.Errorf("email number %d out of range 1-%d", v, n)
	}
	return v - 1, nil
}
