package harness

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step behaved as expected and every assertion
	// held.
	Pass bool `json:"pass"`

	// Steps records what each step did, in order.
	Steps []StepResult `json:"steps"`

	// State is the final state after the last step.
	State State `json:"state"`

	// Errors explains each failure. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// StepResult is the observable outcome of one step.
type StepResult struct {
	Action       string `json:"action"`
	Conversation string `json:"conversation,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// State is the engine, backend and cache state at the end of a run.
type State struct {
	Selected      string             `json:"selected,omitempty"`
	Conversations []ConversationView `json:"conversations"`
	Messages      []MessageView      `json:"messages"`
	Drafts        map[string]string  `json:"drafts,omitempty"`
	Calls         map[string]int     `json:"calls"`
	Notifications map[string]int     `json:"notifications,omitempty"`
	Cached        CacheCounts        `json:"cached"`
}

// ConversationView is a conversation as the list shows it.
type ConversationView struct {
	ID          string `json:"id"`
	With        string `json:"with"`
	Venue       string `json:"venue,omitempty"`
	LastMessage string `json:"last_message,omitempty"`
	LastSender  string `json:"last_sender,omitempty"`
	Unread      int    `json:"unread"`
}

// MessageView is a message as the thread shows it.
type MessageView struct {
	ID          string `json:"id"`
	Sender      string `json:"sender"`
	Content     string `json:"content"`
	Provisional bool   `json:"provisional,omitempty"`
}

// CacheCounts are the row counts of the local cache.
type CacheCounts struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Conversation returns the view with the given id.
func (s State) Conversation(id string) (ConversationView, bool) {
	for _, c := range s.Conversations {
		if c.ID == id {
			return c, true
		}
	}
	return ConversationView{}, false
}
