package datatypes

// StreamEvent is one SSE frame in a chat stream.
//
// # Description
//
// Exactly one payload field is populated per event type:
//
//   - "status": Message (human-readable progress line)
//   - "sources": Sources (evidence list, sent before the first token)
//   - "token": Content (next slice of the answer text)
//   - "done": SessionId (terminal, stream completed)
//   - "error": Error (terminal, stream failed)
//
// Id and CreatedAt are populated by the SSE writer on every event.
type StreamEvent struct {
	Id        string   `json:"id"`
	Type      string   `json:"type"`
	CreatedAt int64    `json:"created_at"`
	Message   string   `json:"message,omitempty"`
	Content   string   `json:"content,omitempty"`
	Sources   []Source `json:"sources,omitempty"`
	SessionId string   `json:"session_id,omitempty"`
	Error     string   `json:"error,omitempty"`
}
