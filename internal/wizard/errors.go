package wizard

import (
	"errors"
	"strings"
)

// Precondition errors. They are returned before any collaborator is called.
var (
	ErrNoVideo            = errors.New("no video uploaded")
	ErrNoAnalysisJob      = errors.New("no analysis job started")
	ErrNoInventory        = errors.New("no inventory loaded")
	ErrInventoryConfirmed = errors.New("inventory already confirmed")
	ErrMoveDetailsLocked  = errors.New("move details are locked once the offer is created")
	ErrInvalidStep        = errors.New("invalid wizard step")
	ErrInvalidMoveDetails = errors.New("move details incomplete")
)

// ValidationError lists the move-details fields that failed validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrInvalidMoveDetails.Error()
	}
	return ErrInvalidMoveDetails.Error() + ": " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidMoveDetails
}

// IsPrecondition reports whether err is a wizard precondition failure.
func IsPrecondition(err error) bool {
	for _, target := range []error{ErrNoVideo, ErrNoAnalysisJob, ErrNoInventory, ErrInventoryConfirmed, ErrMoveDetailsLocked} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// userMessager is implemented by collaborator errors that carry a
// human-readable message from the server.
type userMessager interface {
	UserMessage() string
}

func failureMessage(err error, fallback string) string {
	var m userMessager
	if errors.As(err, &m) {
		if msg := strings.TrimSpace(m.UserMessage()); msg != "" {
			return msg
		}
	}
	return fallback
}
