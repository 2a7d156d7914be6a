package harvest

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies failures so the orchestrator can decide how to react.
type ErrorKind string

// Supported error kinds.
const (
	KindNone          ErrorKind = ""
	KindConfiguration ErrorKind = "configuration"
	KindTransient     ErrorKind = "transient"
	KindPermanent     ErrorKind = "permanent"
	KindCircuitOpen   ErrorKind = "circuit_open"
	KindPersist       ErrorKind = "persist"
	KindTimeout       ErrorKind = "timeout"
)

// Sentinel errors, one per kind. Use errors.Is to test an *Error against them.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrTransient     = errors.New("transient error")
	ErrPermanent     = errors.New("permanent error")
	ErrCircuitOpen   = errors.New("circuit open")
	ErrPersist       = errors.New("persist error")
	ErrTimeout       = errors.New("timeout")
)

// ErrRunInProgress is returned when a run is requested while another is
// still active.
var ErrRunInProgress = errors.New("run already in progress")

// Error wraps an underlying failure with its kind and the failing operation.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

// Unwrap exposes the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that corresponds to the error's kind.
func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind) && target != nil
}

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case KindConfiguration:
		return ErrConfiguration
	case KindTransient:
		return ErrTransient
	case KindPermanent:
		return ErrPermanent
	case KindCircuitOpen:
		return ErrCircuitOpen
	case KindPersist:
		return ErrPersist
	case KindTimeout:
		return ErrTimeout
	default:
		return nil
	}
}

// NewError builds an *Error of the given kind.
func NewError(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configurationf formats a configuration error.
func Configurationf(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Err: fmt.Errorf(format, args...)}
}

// Transient marks err as retry-eligible.
func Transient(op string, err error) error {
	return NewError(KindTransient, op, err)
}

// Permanent marks err as final for the URL.
func Permanent(op string, err error) error {
	return NewError(KindPermanent, op, err)
}

// KindOf classifies err. Unknown and network errors are transient; deadline
// overruns are timeouts.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var herr *Error
	if errors.As(err, &herr) && herr.Kind != KindNone {
		return herr.Kind
	}
	for _, kind := range []ErrorKind{
		KindConfiguration,
		KindPermanent,
		KindCircuitOpen,
		KindPersist,
		KindTimeout,
		KindTransient,
	} {
		if errors.Is(err, sentinelFor(kind)) {
			return kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransient
}

// Retryable reports whether a failure of this kind may be attempted again.
func (k ErrorKind) Retryable() bool {
	return k == KindTransient || k == KindTimeout
}
