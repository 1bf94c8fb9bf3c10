// Package errclass classifies handler failures into permanent and transient
// kinds. The classification decides whether a failed entry is acknowledged
// (permanent, never retried) or left pending for redelivery (transient).
package errclass

import (
	"errors"
	"fmt"
)

// Classification is the outcome of classifying a handler error.
type Classification string

const (
	// ClassNone means the handler returned no error.
	ClassNone Classification = "none"
	// ClassPermanent means retrying can never succeed. The entry is logged,
	// acknowledged, and recorded in the dedup store as deliberately skipped.
	ClassPermanent Classification = "permanent"
	// ClassTransient means the failure may resolve on its own. The entry is
	// left unacknowledged so the pending-list mechanism redelivers it.
	ClassTransient Classification = "transient"
)

// Classifier maps a handler error to a Classification. A nil error must map
// to ClassNone. Anything a classifier does not recognize should map to
// ClassTransient: when in doubt, retry.
type Classifier func(error) Classification

// Enumerated permanent error kinds. Handlers wrap or return these directly
// when the event itself is broken and no amount of redelivery can fix it.
var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidState     = errors.New("invalid business state")
)

// PermanentError marks an arbitrary handler error as not worth retrying.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err == nil {
		return "permanent: " + e.Reason
	}
	return "permanent: " + e.Reason + ": " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so Classify reports it as ClassPermanent.
func Permanent(reason string, err error) error {
	return &PermanentError{Reason: reason, Err: err}
}

// Permanentf is the Errorf-flavoured variant of Permanent.
func Permanentf(format string, args ...any) error {
	return &PermanentError{Reason: fmt.Sprintf(format, args...)}
}

// IsPermanent reports whether err belongs to the permanent set: either a
// *PermanentError anywhere in the chain or one of the enumerated kinds.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	var pe *PermanentError
	if errors.As(err, &pe) {
		return true
	}
	return errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidState)
}

// Classify is the default Classifier.
func Classify(err error) Classification {
	switch {
	case err == nil:
		return ClassNone
	case IsPermanent(err):
		return ClassPermanent
	default:
		return ClassTransient
	}
}

// Worst returns the more severe of two classifications. Transient outranks
// permanent because a transient failure forces redelivery of the whole entry,
// which is the stronger remediation.
func Worst(a, b Classification) Classification {
	rank := func(c Classification) int {
		switch c {
		case ClassTransient:
			return 2
		case ClassPermanent:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}
