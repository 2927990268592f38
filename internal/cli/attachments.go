package cli

import (
	"fmt"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func (a *app) attachmentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "attachments",
		Aliases: []string{"att"},
		Short:   "Manage the attachment pool",
	}

	var consistent bool
	add := &cobra.Command{
		Use:   "add <file...>",
		Short: "Upload files to the pool",
		Long: `Upload files to the pool (10 MiB max each). A file that fails is
reported and the rest are still added. With --consistent the files are also
attached to every email.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, uploadErr := a.sess.Upload(args...)
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s (%s, %s)\n", e.Filename, e.MimeType, humanize.IBytes(uint64(e.Size)))
			}
			if consistent && len(entries) > 0 {
				selected := slices.Clone(a.sess.Consistent)
				for _, e := range entries {
					if !slices.Contains(selected, e.Filename) {
						selected = append(selected, e.Filename)
					}
				}
				if err := a.sess.SetConsistent(selected); err != nil {
					return err
				}
			}
			if err := a.save(); err != nil {
				return err
			}
			return uploadErr
		},
	}
	add.Flags().BoolVar(&consistent, "consistent", false, "attach the files to every email")

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a file from the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.sess.RemoveAttachment(args[0]); err != nil {
				return err
			}
			return a.save()
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			for _, e := range a.sess.Attachments.Entries() {
				mark := " "
				if slices.Contains(a.sess.Consistent, e.Filename) {
					mark = "*"
				}
				fmt.Fprintf(w, "%s %-30s %-24s %8s  %s\n", mark, e.Filename, e.MimeType,
					humanize.IBytes(uint64(e.Size)), humanize.Time(e.UploadedAt))
			}
			if len(a.sess.Consistent) > 0 {
				fmt.Fprintln(w, "\n* attached to every email")
			}
			return nil
		},
	}

	consistentCmd := &cobra.Command{
		Use:   "consistent [name...]",
		Short: "Choose the files attached to every email",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.sess.SetConsistent(args); err != nil {
				return err
			}
			return a.save()
		},
	}

	attach := &cobra.Command{
		Use:   "attach [name]",
		Short: "Attach a pool file to the current email",
		Long:  "Attach a pool file to the current email. Without a name, list the files that can be attached.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				for _, opt := range a.sess.Previews.PickerOptions() {
					fmt.Fprintln(cmd.OutOrStdout(), opt)
				}
				return nil
			}
			if err := a.sess.Previews.AddAttachmentOverride(args[0]); err != nil {
				return err
			}
			return a.save()
		},
	}

	detach := &cobra.Command{
		Use:   "detach <name>",
		Short: "Remove a file from the current email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.sess.Previews.RemoveAttachmentOverride(args[0]); err != nil {
				return err
			}
			return a.save()
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.sess.ClearAttachments(); err != nil {
				return err
			}
			return a.save()
		},
	}

	cmd.AddCommand(add, remove, list, consistentCmd, attach, detach, clearCmd)
	return cmd
}
