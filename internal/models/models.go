package models

import (
	"encoding/json"
	"time"
)

// Role of a thread message author
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry of a remote conversation thread
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// RunStatus mirrors the status reported by the assistant service for a run
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
	RunExpired    RunStatus = "expired"
)

// Terminal reports whether polling can stop on this status.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired:
		return true
	}
	return false
}

// Run is the observed state of a remote job attached to a thread
type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Status    RunStatus `json:"status"`
	LastError string    `json:"last_error,omitempty"`
}

// WorkflowResult is the outcome of one webhook submission
type WorkflowResult struct {
	Success     bool            `json:"success"`
	Content     string          `json:"content"`
	Error       string          `json:"error,omitempty"`
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
}

// Reply is the normalized answer produced by either backend
type Reply struct {
	Success   bool      `json:"success"`
	ThreadID  string    `json:"thread_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Role      Role      `json:"role,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	Content   string    `json:"content"`
	Error     string    `json:"error,omitempty"`
}
