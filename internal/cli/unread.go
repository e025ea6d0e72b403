package cli

import (
	"github.com/spf13/cobra"
)

// NewUnreadCommand creates the unread command.
func NewUnreadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unread",
		Short: "Print the total unread count",
		Long: `Print the number of unread messages across all conversations.

The count comes straight from the backend; nothing is polled or cached.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnread(rootOpts, cmd)
		},
	}
}

func runUnread(opts *RootOptions, cmd *cobra.Command) error {
	ctx := cmdContext(cmd)
	f := newFormatter(opts, cmd)

	s, err := openSession(ctx, opts, online)
	if err != nil {
		return err
	}
	defer s.Close()

	n, err := s.newEngine().UnreadTotal(ctx)
	if err != nil {
		return f.Fail("failed to fetch unread count", err)
	}
	if opts.Format == "json" {
		return f.Success(map[string]int{"unread": n})
	}
	return f.Success(n)
}
