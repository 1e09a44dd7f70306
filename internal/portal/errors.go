package portal

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	// the portal could not be reached at all
	KindTransport
	// the portal answered but refused the credentials
	KindAuthentication
	// the portal answered but the expected artifact was not on the page
	KindScrape
	// the scraped result could not be encoded
	KindSerialization
	// the caller asked for something that does not exist
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuthentication:
		return "authentication"
	case KindScrape:
		return "scrape"
	case KindSerialization:
		return "serialization"
	case KindInvalidArgument:
		return "invalid-argument"
	}
	return "unknown"
}

// Error is the failure of a single flow, carrying which step failed and why.
type Error struct {
	Kind Kind
	Flow string
	Step string
	Err  error
}

func (e *Error) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s: %s failure: %s", e.Flow, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s failure: %s", e.Flow, e.Step, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TransportError is returned by a Transport when no HTTP response could be obtained.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

var (
	ErrLoginRejected = errors.New("login rejected")
	ErrMissing       = errors.New("expected element missing")
)

// AuthError builds an authentication failure, used by step handlers.
func AuthError(format string, args ...any) error {
	return &Error{Kind: KindAuthentication, Err: fmt.Errorf("%w: %s", ErrLoginRejected, fmt.Sprintf(format, args...))}
}

// ScrapeError builds a scrape failure wrapping err.
func ScrapeError(err error) error {
	return &Error{Kind: KindScrape, Err: err}
}

// InvalidArgument builds an invalid argument failure.
func InvalidArgument(format string, args ...any) error {
	return &Error{Kind: KindInvalidArgument, Err: fmt.Errorf(format, args...)}
}

// KindOf classifies any error returned from a flow.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	var terr *TransportError
	if errors.As(err, &terr) {
		return KindTransport
	}
	return KindUnknown
}
