package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"htwg-backend/internal/components/telemetry"
	"htwg-backend/pkg/htmlutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// State is threaded through every step of a flow, it is created fresh per invocation.
type State struct {
	Cookies *Jar
	Tokens  map[string]string
	// Result is set by the final step of a flow.
	Result any
}

func NewState() *State {
	return &State{
		Cookies: NewJar(),
		Tokens:  map[string]string{},
	}
}

// Token returns a previously scraped token or an error naming it.
func (s *State) Token(name string) (string, error) {
	value, ok := s.Tokens[name]
	if !ok || value == "" {
		return "", fmt.Errorf("token %q was never scraped", name)
	}
	return value, nil
}

// CookieHeaders returns the Cookie header line of the jar, or nothing if the jar is empty.
func (s *State) CookieHeaders() []string {
	header, ok := CookieHeader(s.Cookies.HeaderValue())
	if !ok {
		return nil
	}
	return []string{header}
}

// Step is one request of a flow together with what to make of its response.
type Step struct {
	Name    string
	Request func(s *State) (RequestSpec, error)
	// Handle may be nil when the response is only needed for its side effects on the server.
	// ctx is the one the flow runs with.
	Handle func(ctx context.Context, s *State, res Response) error
	// IgnoreStatus lets a step continue past a 4xx/5xx answer.
	IgnoreStatus bool
}

var tracer = otel.Tracer("htwg-backend/internal/portal")

// ErrStatus is matched by every StatusError.
var ErrStatus = errors.New("unexpected status")

// StatusError is returned when a portal answers with a 4xx or 5xx status.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %d", ErrStatus, e.Status)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrStatus
}

// PortalStatus returns the status a portal rejected a request with.
func PortalStatus(err error) (int, bool) {
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.Status, true
	}
	return 0, false
}

func statusKind(status int) Kind {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return KindAuthentication
	}
	return KindScrape
}

// Flow is a fixed, linear sequence of steps. It stops at the first failing step,
// there are no partial results.
type Flow struct {
	Name  string
	Steps []Step
}

func (f Flow) fail(step string, kind Kind, err error) error {
	var perr *Error
	if errors.As(err, &perr) {
		if perr.Flow == "" {
			perr.Flow = f.Name
		}
		if perr.Step == "" {
			perr.Step = step
		}
		return perr
	}
	return &Error{Kind: kind, Flow: f.Name, Step: step, Err: err}
}

// Run executes every step in order against transport and returns the final state.
// Every request and handler of the flow shares one span.
func (f Flow) Run(ctx context.Context, transport Transport, tel telemetry.API) (*State, error) {
	ctx, span := tracer.Start(ctx, "flow "+f.Name)
	defer span.End()

	state, err := f.run(ctx, transport, tel)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err).String())
	}
	return state, err
}

func (f Flow) run(ctx context.Context, transport Transport, tel telemetry.API) (*State, error) {
	state := NewState()
	for _, step := range f.Steps {
		spec, err := step.Request(state)
		if err != nil {
			return nil, f.fail(step.Name, KindScrape, err)
		}

		tel.ReportDebug("flow step", f.Name, step.Name, spec.Method)
		res, err := transport.Send(ctx, spec)
		if err != nil {
			return nil, f.fail(step.Name, KindTransport, err)
		}

		if res.StatusCode >= 400 && !step.IgnoreStatus {
			return nil, f.fail(step.Name, statusKind(res.StatusCode), &StatusError{Status: res.StatusCode})
		}
		if step.Handle == nil {
			continue
		}
		err = step.Handle(ctx, state, res)
		if err != nil {
			return nil, f.fail(step.Name, KindScrape, err)
		}
	}
	return state, nil
}

// FormEncode builds an x-www-form-urlencoded body keeping the order of the given pairs,
// which some portals depend on.
func FormEncode(pairs ...[2]string) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, url.QueryEscape(p[0])+"="+url.QueryEscape(p[1]))
	}
	return strings.Join(parts, "&")
}

// LoginFormVisible reports whether a page still asks for a password, which is how every
// portal answers a rejected login.
func LoginFormVisible(doc htmlutil.Document) bool {
	return doc.Has(`input[type="password"]`)
}

// MissingOnPage classifies a missing artifact: if the login form is still showing the
// credentials were rejected, otherwise the page layout changed.
func MissingOnPage(doc htmlutil.Document, what string, err error) error {
	if LoginFormVisible(doc) {
		return AuthError("%s not found, login form still present", what)
	}
	return ScrapeError(fmt.Errorf("%s: %w", what, err))
}

// Report sends a flow failure to telemetry. Rejected credentials and bad input are the
// user's problem and only warnings, everything else means a portal changed or is down.
func Report(tel telemetry.API, id string, err error) {
	switch KindOf(err) {
	case KindAuthentication, KindInvalidArgument:
		tel.ReportWarning(id, err)
	default:
		tel.ReportBroken(id, err)
	}
}
