// Package brokererr defines the failure taxonomy shared by every component
// that talks to the brokerage. Components only classify failures; the retry
// controller is the only place that acts on a classification.
package brokererr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown Kind = iota
	// KindConfiguration means missing or invalid credentials or arguments.
	// Fatal, never retried.
	KindConfiguration
	// KindAuthentication means the login exchange was rejected.
	KindAuthentication
	// KindTransient means the session expired, access was denied mid-operation
	// or the transport failed. Drives a restart-from-beginning retry.
	KindTransient
	// KindPermanent means the platform rejected a well-formed request, or an
	// expected response shape could not be parsed. Never retried.
	KindPermanent
	// KindExhausted means the attempt budget ran out while only transient
	// failures were observed.
	KindExhausted
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindAuthentication:
		return "AuthenticationError"
	case KindTransient:
		return "TransientSessionError"
	case KindPermanent:
		return "PermanentBusinessError"
	case KindExhausted:
		return "ExhaustedRetriesError"
	default:
		return "UnknownError"
	}
}

// Error is a classified failure. Reason is human readable and must never
// contain session tokens, form tokens or credentials.
type Error struct {
	Kind   Kind
	Op     string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Reason
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind: errors.Is(err, &Error{Kind: KindPermanent}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
}

func newError(kind Kind, op, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Reason: reason, Err: err}
}

func Configuration(op, reason string) *Error {
	return newError(KindConfiguration, op, reason, nil)
}

func Authentication(op, reason string, err error) *Error {
	return newError(KindAuthentication, op, reason, err)
}

func Transient(op, reason string, err error) *Error {
	return newError(KindTransient, op, reason, err)
}

func Permanent(op, reason string, err error) *Error {
	return newError(KindPermanent, op, reason, err)
}

// Exhausted wraps the last transient failure seen before the budget ran out.
func Exhausted(op string, attempts int, last error) *Error {
	reason := fmt.Sprintf("gave up after %d attempts", attempts)
	if last != nil {
		reason = fmt.Sprintf("%s: %s", reason, Reason(last))
	}
	return newError(KindExhausted, op, reason, last)
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Reason returns the human readable reason of a classified error, or the
// plain message of any other error.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Reason != "" {
			return e.Reason
		}
		if e.Err != nil {
			return e.Err.Error()
		}
	}
	return err.Error()
}

func IsTransient(err error) bool      { return KindOf(err) == KindTransient }
func IsPermanent(err error) bool      { return KindOf(err) == KindPermanent }
func IsConfiguration(err error) bool  { return KindOf(err) == KindConfiguration }
func IsAuthentication(err error) bool { return KindOf(err) == KindAuthentication }
func IsExhausted(err error) bool      { return KindOf(err) == KindExhausted }
