package chat

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrValidation             = errors.New("validation failed")
	ErrNotMember              = errors.New("not an active member")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrNotFound               = errors.New("not found")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers and tests.
// Kind is always one of the sentinel kinds above. Msg is human-readable context.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

func invalid(op, format string, args ...any) error {
	return OpError{Op: op, Kind: ErrValidation, Msg: fmt.Sprintf(format, args...)}
}

// unavailable maps a store failure onto the error taxonomy.
// Not-found and validation errors pass through; everything else, including
// deadline expiry, becomes ErrPersistenceUnavailable.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrPersistenceUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return OpError{Op: op, Kind: ErrPersistenceUnavailable, Msg: "store timeout"}
	}
	return OpError{Op: op, Kind: ErrPersistenceUnavailable, Msg: err.Error()}
}

// IsValidation reports whether err represents ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotMember reports whether err represents ErrNotMember.
func IsNotMember(err error) bool { return errors.Is(err, ErrNotMember) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUnavailable reports whether err represents ErrPersistenceUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrPersistenceUnavailable) }
