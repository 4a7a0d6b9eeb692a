package domain

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single turn in a conversation. Messages are immutable once
// appended; the last entry of a request is the active user turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request to answer a question over the indexed documents.
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	SessionID string    `json:"session_id,omitempty"`
	Stream    bool      `json:"stream,omitempty"`
}

// Validate rejects requests with an empty message history.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return ErrEmptyMessages
	}
	return nil
}

// LastUserMessage returns the content of the final message, the active turn.
// Callers must Validate first.
func (r *ChatRequest) LastUserMessage() string {
	return r.Messages[len(r.Messages)-1].Content
}

// ChatResponse is the non-streaming response shape.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// Fragment is one increment of a streamed answer. A Fragment with Err set is
// terminal: the stream ended because the generation provider failed, and any
// text received so far must be treated as partial output.
type Fragment struct {
	Text string
	Err  error
}

// Session groups the persisted messages of one conversation.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
