package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/model"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/store"
	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/thread"
)

var (
	// ErrNotFound is returned for an unknown conversation id.
	ErrNotFound = store.ErrNotFound

	// ErrEmptyMessage is returned for a blank message or a missing conversation.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrInvalidState is returned when an operation is not allowed in the
	// conversation's current lifecycle state.
	ErrInvalidState = errors.New("invalid conversation state")

	// ErrOrderViolation is returned when a message would land out of order.
	ErrOrderViolation = thread.ErrOrderViolation

	// ErrTimeout is returned when a collaborator call exceeds its deadline.
	ErrTimeout = errors.New("collaborator timed out")
)

// CollaboratorError wraps a failure reported by the message source.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// collaboratorErr classifies an error returned by a collaborator call.
func collaboratorErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return &CollaboratorError{Op: op, Err: err}
}

func invalidState(op string, state model.State) error {
	return fmt.Errorf("%w: cannot %s a conversation in state %s", ErrInvalidState, op, state)
}
