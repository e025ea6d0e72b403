package cli

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/inbox/internal/model"
)

const previewWidth = 48

// cmdContext returns the command's context, or Background when it has none.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// renderConversations renders the list as aligned columns.
func renderConversations(convs []model.Conversation, userID string) string {
	if len(convs) == 0 {
		return "No conversations."
	}
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWITH\tVENUE\tUNREAD\tLAST")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			c.ID, participantLabel(c.Counterparty(userID)), venueLabel(c.Venue), c.UnreadCount, preview(c.LastMessage, userID))
	}
	_ = w.Flush()
	return strings.TrimRight(buf.String(), "\n")
}

// renderThread renders messages oldest first. Unconfirmed messages are
// marked with "…".
func renderThread(conv model.Conversation, msgs []model.Message, userID string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s with %s", conv.ID, participantLabel(conv.Counterparty(userID)))
	if conv.Venue != nil {
		fmt.Fprintf(&b, " at %s", venueLabel(conv.Venue))
	}
	if len(msgs) == 0 {
		b.WriteString("\n  (no messages)")
		return b.String()
	}
	for _, m := range msgs {
		who := m.SenderID
		if who == userID {
			who = "you"
		}
		marker := ""
		if m.IsProvisional() {
			marker = " …"
		}
		fmt.Fprintf(&b, "\n  [%s] %s: %s%s", m.Timestamp.Format("2006-01-02 15:04"), who, m.Content, marker)
	}
	return b.String()
}

func participantLabel(p model.Participant) string {
	if p.Name == "" || p.Name == p.ID {
		return p.ID
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.ID)
}

func venueLabel(v *model.VenueContext) string {
	if v == nil {
		return "-"
	}
	if v.Name != "" {
		return v.Name
	}
	return v.ID
}

func preview(m *model.Message, userID string) string {
	if m == nil {
		return ""
	}
	text := strings.Join(strings.Fields(m.Content), " ")
	if r := []rune(text); len(r) > previewWidth {
		text = string(r[:previewWidth-1]) + "…"
	}
	if m.SenderID == userID {
		return "you: " + text
	}
	return text
}
