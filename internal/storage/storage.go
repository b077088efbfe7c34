package storage

import "time"

// Event is one handled request: the question the bot was asked and the reply
// it sent. Events are appended in chronological order.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	RequestID   string    `json:"request_id"`
	ChatID      int64     `json:"chat_id"`
	UserID      int64     `json:"user_id"`
	ChatType    string    `json:"chat_type"`
	Index       int64     `json:"index"`
	Question    string    `json:"question"`
	Reply       string    `json:"reply"`
	Flavored    bool      `json:"flavored"`
	Failed      bool      `json:"failed"`
	Error       string    `json:"error,omitempty"`
	Model       string    `json:"model,omitempty"`
	TotalTokens int       `json:"total_tokens,omitempty"`
}

// Recorder abstracts the interaction journal.
// LoadInteractions returns events in chronological order.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}
