package lifecycle

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when a participant attempts an action reserved
// for the other side of the request. Non-participants never see this error:
// they get store.ErrNotFound instead, so request existence cannot be probed.
var ErrUnauthorized = errors.New("actor not permitted for this action")

// InvalidTransitionError reports an action that is not legal from the
// entity's current status.
type InvalidTransitionError struct {
	Entity    string
	From      string
	Attempted string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %s to %s", e.Entity, e.From, e.Attempted)
}

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }
