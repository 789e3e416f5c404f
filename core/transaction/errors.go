package transaction

import (
	"errors"
	"fmt"
)

// --- Error Definitions ---

var (
	ErrNotFound       = errors.New("transaction not found")
	ErrAlreadyStarted = errors.New("transaction with this id has already been started")
	ErrManagerClosed  = errors.New("transaction manager is shut down")
)

// ClosedError reports that a transaction has reached a terminal state and
// can no longer execute operations. Reason names the terminal state
// ("Committed", "RolledBack", "Expired", "Aborted") or, when the actor is
// unreachable, a generic explanation.
type ClosedError struct {
	Reason string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("transaction already closed: %s", e.Reason)
}

// Is makes every ClosedError match every other, so callers can test
// errors.Is(err, &ClosedError{}) without caring about the reason.
func (e *ClosedError) Is(target error) bool {
	_, ok := target.(*ClosedError)
	return ok
}

// UnknownError reports an internal-consistency violation inside the
// transaction actor. The actor recovers locally (forced rollback) before
// reporting it; it is never silently swallowed.
type UnknownError struct {
	Reason string
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("transaction in an unexpected state: %s", e.Reason)
}

func (e *UnknownError) Is(target error) bool {
	_, ok := target.(*UnknownError)
	return ok
}
