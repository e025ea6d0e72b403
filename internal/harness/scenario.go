package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Step actions understood by Run.
const (
	ActionSelect         = "select"
	ActionClearSelection = "clear_selection"
	ActionRefresh        = "refresh"
	ActionSend           = "send"
	ActionResolve        = "resolve"
	ActionMarkRead       = "mark_read"
	ActionSetDraft       = "set_draft"
	ActionDeliver        = "deliver"
	ActionFailNext       = "fail_next"
	ActionCorruptNext    = "corrupt_next"
)

// Assertion types evaluated against the final state.
const (
	AssertConversationCount = "conversation_count"
	AssertMessageCount      = "message_count"
	AssertLastMessage       = "last_message"
	AssertUnread            = "unread"
	AssertCallCount         = "call_count"
	AssertDraft             = "draft"
	AssertProvisionalCount  = "provisional_count"
	AssertSelected          = "selected"
)

// DefaultUser is the signed-in user when a scenario names none.
const DefaultUser = "u1"

// Scenario is a scripted session against a real engine and a scripted
// backend.
type Scenario struct {
	// Name identifies the scenario; it also names the golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// User is the signed-in user id. Defaults to DefaultUser.
	User string `yaml:"user,omitempty"`

	// Conversations preload the backend, oldest first.
	Conversations []Seed `yaml:"conversations"`

	// ServerIDs are handed out by the backend, in order, before generated
	// ids once seeding is done.
	ServerIDs []string `yaml:"server_ids,omitempty"`

	// Steps run in order; each waits for the engine to settle.
	Steps []Step `yaml:"steps"`

	// Assertions are checked against the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Seed is a preloaded conversation.
type Seed struct {
	ID        string        `yaml:"id"`
	With      string        `yaml:"with"`
	WithName  string        `yaml:"with_name,omitempty"`
	WithRole  string        `yaml:"with_role,omitempty"`
	Venue     string        `yaml:"venue,omitempty"`
	VenueName string        `yaml:"venue_name,omitempty"`
	VenueType string        `yaml:"venue_type,omitempty"`
	Messages  []SeedMessage `yaml:"messages,omitempty"`
}

// SeedMessage is a preloaded message. An empty From means the counterparty.
type SeedMessage struct {
	From    string `yaml:"from,omitempty"`
	Content string `yaml:"content"`
}

// Step is one user or backend action.
type Step struct {
	Action       string `yaml:"action"`
	Conversation string `yaml:"conversation,omitempty"`
	Content      string `yaml:"content,omitempty"`
	Participant  string `yaml:"participant,omitempty"`
	Venue        string `yaml:"venue,omitempty"`
	VenueType    string `yaml:"venue_type,omitempty"`

	// Op names the backend operation for fail_next and corrupt_next.
	Op string `yaml:"op,omitempty"`

	// ExpectError is the engine error code the step must fail with.
	// Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion checks one property of the final state.
type Assertion struct {
	Type         string `yaml:"type"`
	Conversation string `yaml:"conversation,omitempty"`
	Op           string `yaml:"op,omitempty"`
	Content      string `yaml:"content,omitempty"`
	Text         string `yaml:"text,omitempty"`
	Count        *int   `yaml:"count,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML. Unknown fields are
// rejected so typos fail loudly.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.User == "" {
		scenario.User = DefaultUser
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(s.Conversations))
	for i, seed := range s.Conversations {
		if seed.ID == "" {
			return fmt.Errorf("conversations[%d]: id is required", i)
		}
		if seed.With == "" {
			return fmt.Errorf("conversations[%d]: with is required", i)
		}
		if seen[seed.ID] {
			return fmt.Errorf("conversations[%d]: duplicate id %q", i, seed.ID)
		}
		seen[seed.ID] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	switch st.Action {
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	case ActionSelect, ActionMarkRead, ActionSetDraft:
		if st.Conversation == "" {
			return fmt.Errorf("steps[%d]: conversation is required for %s", index, st.Action)
		}
	case ActionSend, ActionDeliver:
		if st.Conversation == "" {
			return fmt.Errorf("steps[%d]: conversation is required for %s", index, st.Action)
		}
		if st.Action == ActionDeliver && st.Content == "" {
			return fmt.Errorf("steps[%d]: content is required for deliver", index)
		}
	case ActionResolve:
		// An empty participant is allowed; the engine rejects it.
	case ActionFailNext, ActionCorruptNext:
		if st.Op == "" {
			return fmt.Errorf("steps[%d]: op is required for %s", index, st.Action)
		}
	case ActionClearSelection, ActionRefresh:
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	needCount := func() error {
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertConversationCount, AssertMessageCount, AssertProvisionalCount, AssertUnread:
		return needCount()
	case AssertCallCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for call_count", index)
		}
		return needCount()
	case AssertLastMessage, AssertDraft:
		if a.Conversation == "" {
			return fmt.Errorf("assertions[%d]: conversation is required for %s", index, a.Type)
		}
	case AssertSelected:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
