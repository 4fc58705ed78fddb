package server

import (
	"time"

	"github.com/simonmoedinger/aitab/internal/analysis"
	"github.com/simonmoedinger/aitab/internal/store"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// AuthSignupRequest represents the signup payload.
type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthLoginRequest represents the login payload.
type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a bearer token.
type TokenResponse struct {
	Token string `json:"token"`
}

// IDResponse is a generic id response wrapper.
type IDResponse struct {
	ID string `json:"id"`
}

// SessionResponse is one analysis session as seen by the client.
type SessionResponse struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Live      bool      `json:"live"`
}

// AnalyzeRequest carries the patient data for one pipeline run.
type AnalyzeRequest struct {
	Patient analysis.PatientInput `json:"patient"`
}

// ChatRequest is one free-form follow-up question.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the assistant's answer for one turn.
type ChatResponse struct {
	Text     string                   `json:"text"`
	NewFiles []analysis.DisplayedFile `json:"new_files,omitempty"`
	Failed   bool                     `json:"failed,omitempty"`
}

// CitationResponse maps a file id to its session-stable citation number.
type CitationResponse struct {
	FileID   string `json:"file_id"`
	Citation int    `json:"citation"`
}

// FilesResponse lists every source file displayed so far.
type FilesResponse struct {
	Files []analysis.DisplayedFile `json:"files"`
}

// StepsResponse returns the stored pipeline results of a session.
type StepsResponse struct {
	Steps []analysis.StepResult `json:"steps"`
}

// ChatHistoryResponse returns the stored chat turns of a session.
type ChatHistoryResponse struct {
	Turns []store.ChatTurn `json:"turns"`
}
