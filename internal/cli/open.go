package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/inbox/internal/engine"
	"github.com/roach88/inbox/internal/model"
	"github.com/roach88/inbox/internal/notify"
)

// OpenOptions holds flags for the open command.
type OpenOptions struct {
	*RootOptions
	VenueID   string
	VenueType string
}

// OpenOutput is the JSON payload of the open command.
type OpenOutput struct {
	Conversation model.Conversation `json:"conversation"`
	Messages     []model.Message    `json:"messages"`
	Started      bool               `json:"started"`
}

// NewOpenCommand creates the open command.
func NewOpenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OpenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "open <participant-id>",
		Short: "Open the conversation with a participant",
		Long: `Find the conversation with a participant and print its thread.

If no conversation exists yet, one is started. With --venue the lookup is
scoped to that venue, and a started conversation is attached to it.

Examples:
  inbox open O2
  inbox open O2 --venue V9 --venue-type reading_room`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOpen(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.VenueID, "venue", "", "venue the conversation is about")
	cmd.Flags().StringVar(&opts.VenueType, "venue-type", "", "venue type (reading_room|accommodation)")

	return cmd
}

func runOpen(opts *OpenOptions, cmd *cobra.Command, participantID string) error {
	ctx := cmdContext(cmd)
	f := newFormatter(opts.RootOptions, cmd)

	if opts.VenueType != "" && opts.VenueID == "" {
		return NewExitError(ExitCommandError, "--venue-type requires --venue")
	}

	s, err := openSession(ctx, opts.RootOptions, online)
	if err != nil {
		return err
	}
	defer s.Close()

	eng := s.newEngine()
	before, stop, err := start(ctx, eng)
	if err != nil {
		return f.Fail("failed to load conversations", err)
	}
	defer stop()

	conv, err := eng.Resolve(ctx, engine.Target{
		ParticipantID: participantID,
		VenueID:       opts.VenueID,
		VenueType:     opts.VenueType,
	})
	if err != nil {
		return f.Fail("failed to open conversation", err)
	}
	_, known := before.Conversation(conv.ID)
	if !known {
		f.VerboseLog("started conversation %s with %s", conv.ID, participantID)
		s.relay(ctx, notify.ReasonConversationStarted)
	}

	snap, err := eng.Refresh(ctx)
	if err != nil {
		return f.Fail("failed to load thread", err)
	}
	if current, ok := snap.Conversation(conv.ID); ok {
		conv = current
	}

	if opts.Format == "json" {
		msgs := snap.Messages
		if msgs == nil {
			msgs = []model.Message{}
		}
		return f.Success(OpenOutput{Conversation: conv, Messages: msgs, Started: !known})
	}
	return f.Success(renderThread(conv, snap.Messages, s.cfg.UserID))
}
