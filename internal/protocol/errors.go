package protocol

// ============================================================================
// Protocol Error Definitions
// Purpose: Classify everything that can go wrong turning bytes into a Message
// ============================================================================

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrMalformed indicates the payload is not a single JSON object
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrSchemaViolation indicates a required field is missing or has the wrong type
	ErrSchemaViolation = errors.New("protocol: schema violation")

	// ErrUnknownMessage indicates Encode was handed a Message it does not know
	ErrUnknownMessage = errors.New("protocol: unknown message type")
)

// ErrorKind separates parse failures from schema failures
type ErrorKind int

const (
	Malformed ErrorKind = iota + 1
	SchemaViolation
)

func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case SchemaViolation:
		return "schema_violation"
	default:
		return "unknown"
	}
}

// DecodeError is returned by Decode, DecodeReply and ReadRecord.
// Its text is sent back to the client verbatim, so it always names the
// offending field for schema violations.
type DecodeError struct {
	Kind   ErrorKind
	Field  string // Offending field (SchemaViolation only)
	Reason string // Human readable cause
	Err    error  // Underlying parser error, if any
}

func (e *DecodeError) Error() string {
	if e.Kind == SchemaViolation {
		return fmt.Sprintf("schema violation: %q %s", e.Field, e.Reason)
	}
	return "malformed message: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the kind sentinels.
func (e *DecodeError) Is(target error) bool {
	switch target {
	case ErrMalformed:
		return e.Kind == Malformed
	case ErrSchemaViolation:
		return e.Kind == SchemaViolation
	}
	return false
}

func malformed(reason string, err error) *DecodeError {
	return &DecodeError{Kind: Malformed, Reason: reason, Err: err}
}

func violation(field, reason string) *DecodeError {
	return &DecodeError{Kind: SchemaViolation, Field: field, Reason: reason}
}
