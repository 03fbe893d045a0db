package workflow

import (
	"errors"
	"fmt"

	"github.com/ballggwp/eclaim/internal/claim/entity"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrConflict          = errors.New("claim was modified concurrently")
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("claim not found")
	ErrInvalidState      = errors.New("invalid claim state")
)

// Error carries the status and action an operation failed on. Status is kept
// for logs only; Error() never prints it since the message reaches clients
// that may not be allowed to see the claim.
type Error struct {
	Kind   error
	Status entity.Status
	Action Action
	Reason string
	Fields []string
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Action != "" {
		msg = fmt.Sprintf("%s: action %s", msg, e.Action)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func invalidTransition(status entity.Status, action Action) error {
	return &Error{Kind: ErrInvalidTransition, Status: status, Action: action}
}

func unauthorized(status entity.Status, action Action, reason string) error {
	return &Error{Kind: ErrUnauthorized, Status: status, Action: action, Reason: reason}
}

func validation(status entity.Status, action Action, reason string, fields ...string) error {
	return &Error{Kind: ErrValidation, Status: status, Action: action, Reason: reason, Fields: fields}
}

func invalidState(status entity.Status, action Action, reason string) error {
	return &Error{Kind: ErrInvalidState, Status: status, Action: action, Reason: reason}
}
