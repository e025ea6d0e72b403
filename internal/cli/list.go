package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/inbox/internal/model"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Offline bool
}

// ListOutput is the JSON payload of the list command.
type ListOutput struct {
	UserID        string               `json:"user_id,omitempty"`
	Offline       bool                 `json:"offline"`
	Unread        int                  `json:"unread"`
	Conversations []model.Conversation `json:"conversations"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Long: `List your conversations, most recently active first.

With --offline the list is read from the local cache written by the last
successful refresh, without contacting the backend.

Examples:
  inbox list
  inbox list --offline --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "read the local cache instead of the backend")

	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	ctx := cmdContext(cmd)
	f := newFormatter(opts.RootOptions, cmd)

	mode := online
	if opts.Offline {
		mode = offline
	}
	s, err := openSession(ctx, opts.RootOptions, mode)
	if err != nil {
		return err
	}
	defer s.Close()

	var convs []model.Conversation
	if opts.Offline {
		convs, err = s.cache.LoadConversations(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read cache", err)
		}
		f.VerboseLog("read %d conversations from %s", len(convs), s.cfg.CachePath)
	} else {
		snap, stop, err := start(ctx, s.newEngine())
		if err != nil {
			return f.Fail("failed to load conversations", err)
		}
		defer stop()
		convs = snap.Conversations
	}

	if opts.Format == "json" {
		out := ListOutput{
			UserID:        s.cfg.UserID,
			Offline:       opts.Offline,
			Conversations: convs,
		}
		if out.Conversations == nil {
			out.Conversations = []model.Conversation{}
		}
		for _, c := range convs {
			out.Unread += c.UnreadCount
		}
		return f.Success(out)
	}
	return f.Success(renderConversations(convs, s.cfg.UserID))
}
