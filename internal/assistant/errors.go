package assistant

import (
	"errors"
	"fmt"

	"github.com/xaenox/abap-agent/internal/models"
)

var (
	// ErrRunTimeout is returned when a run does not reach a terminal state
	// within the poll budget.
	ErrRunTimeout = errors.New("assistant response timeout")
	// ErrEmptyResponse is returned when a completed run left no message.
	ErrEmptyResponse = errors.New("no response from assistant")
)

// UpstreamError wraps a failed call to the assistant service.
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("assistant %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("assistant %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func upstream(op string, err error) error {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return err
	}
	return &UpstreamError{Op: op, Err: err}
}

// RunFailedError reports a run that ended in failed, cancelled or expired.
type RunFailedError struct {
	RunID  string
	Status models.RunStatus
	Detail string
}

func (e *RunFailedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("run %s", e.Status)
	}
	return fmt.Sprintf("run %s: %s", e.Status, e.Detail)
}
