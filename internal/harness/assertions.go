package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	State    State  // Final state for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nConversations:\n")
	for _, c := range e.State.Conversations {
		marker := " "
		if c.ID == e.State.Selected {
			marker = "*"
		}
		fmt.Fprintf(&buf, "  %s %s with=%s unread=%d last=%q\n", marker, c.ID, c.With, c.Unread, c.LastMessage)
	}
	return buf.String()
}

func assertCount(state State, a Assertion, what string, actual int) error {
	if actual == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d %s", *a.Count, what),
		Actual:   fmt.Sprintf("%d %s", actual, what),
		State:    state,
	}
}

// assertMessageCount checks the length of the open thread. When a
// conversation is named it must be the open one.
func assertMessageCount(state State, a Assertion) error {
	if a.Conversation != "" && a.Conversation != state.Selected {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("conversation %s open", a.Conversation),
			Actual:   fmt.Sprintf("selected %q", state.Selected),
			State:    state,
		}
	}
	return assertCount(state, a, "messages", len(state.Messages))
}

func assertProvisionalCount(state State, a Assertion) error {
	n := 0
	for _, m := range state.Messages {
		if m.Provisional {
			n++
		}
	}
	return assertCount(state, a, "provisional messages", n)
}

// assertUnread checks one conversation's unread count, or the total when no
// conversation is named.
func assertUnread(state State, a Assertion) error {
	if a.Conversation == "" {
		total := 0
		for _, c := range state.Conversations {
			total += c.Unread
		}
		return assertCount(state, a, "unread in total", total)
	}
	c, ok := state.Conversation(a.Conversation)
	if !ok {
		return missingConversation(state, a)
	}
	return assertCount(state, a, "unread in "+a.Conversation, c.Unread)
}

func assertLastMessage(state State, a Assertion) error {
	c, ok := state.Conversation(a.Conversation)
	if !ok {
		return missingConversation(state, a)
	}
	if c.LastMessage == a.Content {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s last message %q", a.Conversation, a.Content),
		Actual:   fmt.Sprintf("%q", c.LastMessage),
		State:    state,
	}
}

func assertDraft(state State, a Assertion) error {
	actual := state.Drafts[a.Conversation]
	if actual == a.Text {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("draft %q for %s", a.Text, a.Conversation),
		Actual:   fmt.Sprintf("%q", actual),
		State:    state,
	}
}

func assertSelected(state State, a Assertion) error {
	if state.Selected == a.Conversation {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("selected %q", a.Conversation),
		Actual:   fmt.Sprintf("selected %q", state.Selected),
		State:    state,
	}
}

func missingConversation(state State, a Assertion) error {
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("conversation %s listed", a.Conversation),
		Actual:   "not found in directory",
		State:    state,
	}
}

// EvaluateAssertions evaluates all assertions against the final state.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(state State, assertions []Assertion) []string {
	var errors []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertConversationCount:
			err = assertCount(state, a, "conversations", len(state.Conversations))
		case AssertMessageCount:
			err = assertMessageCount(state, a)
		case AssertProvisionalCount:
			err = assertProvisionalCount(state, a)
		case AssertUnread:
			err = assertUnread(state, a)
		case AssertLastMessage:
			err = assertLastMessage(state, a)
		case AssertCallCount:
			err = assertCount(state, a, a.Op+" calls", state.Calls[a.Op])
		case AssertDraft:
			err = assertDraft(state, a)
		case AssertSelected:
			err = assertSelected(state, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
