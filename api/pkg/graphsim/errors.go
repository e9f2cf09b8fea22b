package graphsim

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure the way the traversal design
// describes it: a small fixed taxonomy, not a type per failure mode.
type ErrorKind string

const (
	KindNetwork         ErrorKind = "NETWORK"
	KindAuth            ErrorKind = "AUTH"
	KindRateLimit       ErrorKind = "RATE_LIMIT"
	KindServerTransient ErrorKind = "SERVER_TRANSIENT"
	KindServerPermanent ErrorKind = "SERVER_PERMANENT"
	KindParse           ErrorKind = "PARSE"
	KindScopeDenied     ErrorKind = "SCOPE_DENIED"
	KindCancelled       ErrorKind = "CANCELLED"
	KindConfig          ErrorKind = "CONFIG"
)

// Error wraps a failure with the kind that drives retry/propagation
// decisions elsewhere in the package. Use errors.As to recover it.
type Error struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("graphsim: %s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("graphsim: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrCancelled) and friends work against the
// sentinel kind values below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

func newError(kind ErrorKind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}

func newConfigError(msg string) *Error {
	return &Error{Kind: KindConfig, Err: errors.New(msg)}
}

// ErrCancelled is a sentinel matched via errors.Is against any *Error of
// kind CANCELLED.
var ErrCancelled = &Error{Kind: KindCancelled, Err: errors.New("traversal cancelled")}

// Retriable reports whether the engine should retry an attempt that
// produced this kind of failure.
func (k ErrorKind) Retriable() bool {
	switch k {
	case KindNetwork, KindRateLimit, KindServerTransient:
		return true
	default:
		return false
	}
}
