package apperr

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// Kind classifies an error for the job-result protocol and the HTTP layer.
type Kind string

const (
	KindInvalidUsage      Kind = "InvalidUsageException"
	KindNotFound          Kind = "NotFoundException"
	KindIntegrity         Kind = "IntegrityException"
	KindDuplicate         Kind = "DuplicateException"
	KindNoCandidatesFound Kind = "NoCandidatesFoundException"
	KindConfiguration     Kind = "ConfigurationException"
)

// Error is a user-facing error. Anything that is not an *Error is treated
// as an infrastructure error and is allowed to propagate so the queue
// can retry it.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is matches on Kind so callers can use errors.Is with a bare kind error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func InvalidUsage(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidUsage, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Integrity(format string, args ...interface{}) *Error {
	return &Error{Kind: KindIntegrity, Message: fmt.Sprintf(format, args...)}
}

func Duplicate(format string, args ...interface{}) *Error {
	return &Error{Kind: KindDuplicate, Message: fmt.Sprintf(format, args...)}
}

func NoCandidatesFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNoCandidatesFound, Message: fmt.Sprintf(format, args...)}
}

func Configuration(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...)}
}

// IsUserFacing reports whether err should travel back through the
// exception-as-value wrapper instead of failing the job.
func IsUserFacing(err error) bool {
	var e *Error
	return errors.As(err, &e)
}

// KindOf returns the Kind of a user-facing error, or "" for
// infrastructure errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Serialized is the wire form of an error carried in job results,
// session rows and status broadcasts.
type Serialized struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description,omitempty"`
	Trace       string `json:"trace,omitempty"`
}

func (s *Serialized) Error() string {
	return fmt.Sprintf("%s: %s", s.Type, s.Message)
}

// Serialize converts any error into its wire form. User-facing errors
// keep their kind; everything else is reported as its Go type with a
// stack trace for the operator.
func Serialize(err error) *Serialized {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		s := &Serialized{Type: string(e.Kind), Message: e.Message}
		if e.Wrapped != nil {
			s.Description = e.Wrapped.Error()
		}
		return s
	}
	return &Serialized{
		Type:    fmt.Sprintf("%T", err),
		Message: err.Error(),
		Trace:   string(debug.Stack()),
	}
}
