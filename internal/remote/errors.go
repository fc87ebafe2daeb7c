package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a remote call failed.
type Kind string

const (
	// KindTimeout means the call exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindRejection means the target answered with an explicit error.
	KindRejection Kind = "rejection"
	// KindTransport covers connection failures and cancellation.
	KindTransport Kind = "transport"
	// KindDecode means the reply could not be parsed.
	KindDecode Kind = "decode"
)

// Error is returned by every request/reply call that does not succeed.
// Callers decide whether to retry, compensate or abort; the facade never retries.
type Error struct {
	Target     string
	Operation  string
	Kind       Kind
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Target, e.Operation, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

func kindOf(err error) (Kind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}

// IsTimeout reports whether err is a remote call that ran out of time.
func IsTimeout(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindTimeout
}

// IsRejection reports whether the remote service explicitly refused the call.
func IsRejection(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindRejection
}

// IsNotFound reports whether the remote service answered 404.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindRejection && re.StatusCode == http.StatusNotFound
}
