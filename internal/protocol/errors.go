package protocol

import (
	"fmt"

	"github.com/pkg/errors"
)

// Typed errors for store lookups the engine expected to succeed.
var (
	// ErrInvalidPreKeyID means the host had no pre-key for a requested id.
	ErrInvalidPreKeyID = errors.New("protocol: invalid pre-key id")
	// ErrInvalidSignedPreKeyID means the host had no signed pre-key for a
	// requested id.
	ErrInvalidSignedPreKeyID = errors.New("protocol: invalid signed pre-key id")
)

// StateError reports a host response that is missing required state: either
// outright garbage or a recognized legacy shape with required fields absent.
type StateError struct {
	Op  string
	Msg string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("protocol: invalid state in %s: %s", e.Op, e.Msg)
}

// InvalidState builds a StateError for the given operation.
func InvalidState(op, msg string) error {
	return &StateError{Op: op, Msg: msg}
}

// IsInvalidState reports whether err is (or wraps) a StateError.
func IsInvalidState(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}
