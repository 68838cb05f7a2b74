// File: internal/fault/fault.go

// Package fault classifies errors so the discovery loop can decide whether to
// skip a failing endpoint, drop a malformed resource, or abort the run.
//
//   - Transient: a remote endpoint timed out, refused, or answered with a
//     server error. The stage continues without that endpoint.
//   - Invalid: a single resource or response has a shape the engine cannot
//     use (bad IRI, undecodable binding). The item is skipped.
//   - Fatal: the graph store failed. The run stops.
//
// Wrapped errors keep the "component.method: action failed: cause" format and
// preserve their class through further wrapping with fmt.Errorf and %w.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Class is the handling category of an error.
type Class int

const (
	Transient Class = iota
	Invalid
	Fatal
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case Invalid:
		return "invalid"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Sentinel errors for conditions that callers match with errors.Is.
var (
	ErrEndpointUnavailable = errors.New("endpoint unavailable")
	ErrUnexpectedStatus    = errors.New("unexpected http status")
	ErrMalformedResponse   = errors.New("malformed query response")
	ErrInvalidIRI          = errors.New("invalid iri")
	ErrMalformedQuery      = errors.New("malformed query")
	ErrStoreUnavailable    = errors.New("graph store unavailable")
	ErrInvalidConfig       = errors.New("invalid configuration")
)

// Error carries a class together with the component and operation that
// produced it.
type Error struct {
	Class     Class
	Component string
	Operation string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Component, e.Operation, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap formats err with context and no classification of its own.
func Wrap(err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, operation, action, err)
}

func classify(class Class, err error, component, operation, action string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Class:     class,
		Component: component,
		Operation: operation,
		Err:       fmt.Errorf("%s failed: %w", action, err),
	}
}

// WrapTransient marks err as recoverable by skipping the current endpoint.
func WrapTransient(err error, component, operation, action string) error {
	return classify(Transient, err, component, operation, action)
}

// WrapInvalid marks err as a per-item data problem.
func WrapInvalid(err error, component, operation, action string) error {
	return classify(Invalid, err, component, operation, action)
}

// WrapFatal marks err as unrecoverable for the run.
func WrapFatal(err error, component, operation, action string) error {
	return classify(Fatal, err, component, operation, action)
}

// ClassOf returns the class of the outermost classified error in the chain.
// Context errors are transient. Unclassified errors are treated as fatal so
// an unknown failure never goes unnoticed.
func ClassOf(err error) Class {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Transient
	}
	if errors.Is(err, ErrInvalidIRI) || errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrMalformedQuery) {
		return Invalid
	}
	if errors.Is(err, ErrEndpointUnavailable) || errors.Is(err, ErrUnexpectedStatus) {
		return Transient
	}
	return Fatal
}

// IsTransient reports whether err may be skipped for the current endpoint.
func IsTransient(err error) bool { return err != nil && ClassOf(err) == Transient }

// IsInvalid reports whether err concerns a single malformed item.
func IsInvalid(err error) bool { return err != nil && ClassOf(err) == Invalid }

// IsFatal reports whether err must stop the run.
func IsFatal(err error) bool { return err != nil && ClassOf(err) == Fatal }
