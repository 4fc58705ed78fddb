package assistant

import "time"

// RunStatus enumerates the run lifecycle states reported by the assistant service.
type RunStatus string

const (
	RunStatusQueued         RunStatus = "queued"
	RunStatusInProgress     RunStatus = "in_progress"
	RunStatusCancelling     RunStatus = "cancelling"
	RunStatusCompleted      RunStatus = "completed"
	RunStatusFailed         RunStatus = "failed"
	RunStatusCancelled      RunStatus = "cancelled"
	RunStatusExpired        RunStatus = "expired"
	RunStatusRequiresAction RunStatus = "requires_action"
	RunStatusIncomplete     RunStatus = "incomplete"
)

// Terminal reports whether the run has reached a state that will never
// change again. Polling stops on the first terminal status.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusQueued, RunStatusInProgress, RunStatusCancelling:
		return false
	default:
		return true
	}
}

// Thread is one conversation context on the assistant service.
type Thread struct {
	ID string `json:"id"`
}

// Run is one execution of the assistant against a thread's messages.
type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Status    RunStatus `json:"status"`
	LastError *RunError `json:"last_error,omitempty"`

	// PollHint carries the service's suggested retry delay (Retry-After
	// header) when present. Zero means no hint.
	PollHint time.Duration `json:"-"`
}

// RunError is the service-side failure detail attached to a terminal run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Message is a single thread message with its content blocks.
type Message struct {
	ID        string           `json:"id"`
	Role      string           `json:"role"`
	CreatedAt int64            `json:"created_at"`
	Content   []MessageContent `json:"content"`
}

// MessageContent is one block of a message; only text blocks carry a body.
type MessageContent struct {
	Type string       `json:"type"`
	Text *MessageText `json:"text,omitempty"`
}

// MessageText is the text body of a content block plus its citation markers.
type MessageText struct {
	Value       string       `json:"value"`
	Annotations []Annotation `json:"annotations"`
}

// Annotation links a span of response text to a source file.
type Annotation struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	FileCitation *FileCitation `json:"file_citation,omitempty"`
}

// FileID returns the cited file id, or "" when the annotation carries none.
func (a Annotation) FileID() string {
	if a.FileCitation == nil {
		return ""
	}
	return a.FileCitation.FileID
}

// FileCitation identifies the document a passage was drawn from.
type FileCitation struct {
	FileID string `json:"file_id"`
}

// File is the metadata record for an uploaded service-side file.
type File struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// Text returns the first non-empty text value of the message, with its
// annotations. Messages without text content return ("", nil).
func (m Message) Text() (string, []Annotation) {
	for _, c := range m.Content {
		if c.Type == "text" && c.Text != nil && c.Text.Value != "" {
			return c.Text.Value, c.Text.Annotations
		}
	}
	return "", nil
}
