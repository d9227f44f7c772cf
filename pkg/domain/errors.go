package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoSuchSession is returned when a lookup matches no document in the sessions collection.
var ErrNoSuchSession = errors.New("no matching record in the sessions collection")

// ErrInvalidBatch marks writes that cannot be encoded into a command the store
// accepts. The same input fails the same way on every attempt.
var ErrInvalidBatch = errors.New("invalid batch")

// RecordError reports one session whose write cannot be built.
type RecordError struct {
	ID  LogicalSessionID
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("session %s: %v", e.ID, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// ParseError reports a stored document that does not have the shape of a session record.
type ParseError struct {
	// Field is the dotted path of the offending field, empty for the document itself.
	Field  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := "malformed session record"
	if e.Field != "" {
		msg += " field '" + e.Field + "'"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Store error codes that a retry cannot fix.
const (
	CodeBadValue        = 2
	CodeFailedToParse   = 9
	CodeUnauthorized    = 13
	CodeTypeMismatch    = 14
	CodeCommandNotFound = 59
)

// TransportError reports a command or query the store did not complete.
type TransportError struct {
	// Op is the command or query name ("update", "delete", "find", ...).
	Op string
	// Code is the store error code, zero when unknown.
	Code int
	// Message is the most specific diagnostic text available.
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s failed (code %d): %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, msg)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a failure of op, using err's text as the diagnostic.
func NewTransportError(op string, err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}
	return &TransportError{Op: op, Message: err.Error(), Err: err}
}

// IsRetriable reports whether repeating the whole call may succeed.
// Parse errors, invalid batches, missing sessions and context cancellation are
// never retriable.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ParseError
	if errors.As(err, &pe) || errors.Is(err, ErrNoSuchSession) || errors.Is(err, ErrInvalidBatch) {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		switch te.Code {
		case CodeBadValue, CodeFailedToParse, CodeUnauthorized, CodeTypeMismatch, CodeCommandNotFound:
			return false
		}
	}
	return true
}
