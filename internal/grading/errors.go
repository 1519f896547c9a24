package grading

import (
	"errors"
	"fmt"
)

// ValidationError marks input that is malformed or too thin to grade.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ParseError marks model output that could not be turned into a JSON object.
type ParseError struct {
	Snippet string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse model response: %v (snippet %q)", e.Err, e.Snippet)
	}
	return fmt.Sprintf("parse model response: no json object found (snippet %q)", e.Snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExternalServiceError wraps a failure of a collaborator such as the file
// store, the inference provider or the cache backend.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// GeometryFallback records that a localization was replaced by the fallback
// box. It is logged, never returned to callers of the annotator.
type GeometryFallback struct {
	Reason     string
	Confidence float64
	Cause      error
}

func (e *GeometryFallback) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("location fallback (%s): %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("location fallback (%s, confidence %.2f)", e.Reason, e.Confidence)
}

func (e *GeometryFallback) Unwrap() error { return e.Cause }

func snippet(content string) string {
	const limit = 120
	r := []rune(content)
	if len(r) <= limit {
		return content
	}
	return string(r[:limit]) + "..."
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsParse reports whether err carries a ParseError.
func IsParse(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}
