package router

import (
	"errors"
	"fmt"
)

// MsgNotTheFrame is the reply of a frame that does not hold the composer.
const MsgNotTheFrame = "Not the target frame - no contenteditable element"

// ErrNoTargets is returned when no frame or channel was available.
var ErrNoTargets = errors.New("router: no delivery targets")

// ErrNoBackground is returned by Send when no background handler is set.
var ErrNoBackground = errors.New("router: no background handler")

// DeliveryError reports that every target answered without success.
// Last holds the most informative failure reply.
type DeliveryError struct {
	Action   Action
	Attempts int
	Last     Reply
	Errs     []error
}

func (e *DeliveryError) Error() string {
	if e.Last.Message != "" {
		return fmt.Sprintf("router: %s: no target accepted (%d attempts): %s", e.Action, e.Attempts, e.Last.Message)
	}
	return fmt.Sprintf("router: %s: no target accepted (%d attempts)", e.Action, e.Attempts)
}

func (e *DeliveryError) Unwrap() []error { return e.Errs }
