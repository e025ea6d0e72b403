package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/inbox/internal/notify"
)

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send <conversation-id> <text...>",
		Short: "Send a message",
		Long: `Send a message to an existing conversation.

The remaining arguments are joined with spaces. The command exits once the
backend has confirmed or rejected the message.

Examples:
  inbox send C1 "See you at nine"
  inbox send C1 See you at nine`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(rootOpts, cmd, args[0], strings.Join(args[1:], " "))
		},
	}
}

func runSend(opts *RootOptions, cmd *cobra.Command, conversationID, content string) error {
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

	msg, err := eng.Send(ctx, conversationID, content)
	if err != nil {
		return f.Fail("failed to send message", err)
	}
	s.relay(ctx, notify.ReasonMessageSent)

	if opts.Format == "json" {
		return f.Success(msg)
	}
	return f.Success(fmt.Sprintf("Sent %s to %s", msg.ID, conversationID))
}
