package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/inbox/internal/notify"
)

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "read <conversation-id>",
		Short:         "Mark a conversation as read",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(rootOpts, cmd, args[0])
		},
	}
}

func runRead(opts *RootOptions, cmd *cobra.Command, conversationID string) error {
	ctx := cmdContext(cmd)
	f := newFormatter(opts, cmd)

	s, err := openSession(ctx, opts, online)
	if err != nil {
		return err
	}
	defer s.Close()

	eng := s.newEngine()
	_, stop, err := start(ctx, eng)
	if err != nil {
		return f.Fail("failed to load conversations", err)
	}
	defer stop()

	if err := eng.MarkRead(ctx, conversationID); err != nil {
		return f.Fail("failed to mark conversation read", err)
	}
	s.relay(ctx, notify.ReasonConversationRead)

	if opts.Format == "json" {
		return f.Success(map[string]string{"conversation_id": conversationID})
	}
	return f.Success(fmt.Sprintf("Marked %s read", conversationID))
}
