// Package portaltest contains fakes for exercising flows without a network.
package portaltest

import (
	"context"
	"sync"

	"htwg-backend/internal/portal"
)

// FakeTransport answers every Send with Respond and remembers every request.
type FakeTransport struct {
	Respond func(call int, spec portal.RequestSpec) (portal.Response, error)

	mu    sync.Mutex
	specs []portal.RequestSpec
}

func (f *FakeTransport) Send(ctx context.Context, spec portal.RequestSpec) (portal.Response, error) {
	f.mu.Lock()
	f.specs = append(f.specs, spec)
	call := len(f.specs)
	f.mu.Unlock()
	return f.Respond(call, spec)
}

// Calls returns how many requests were sent.
func (f *FakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.specs)
}

// Specs returns a copy of every request that was sent.
func (f *FakeTransport) Specs() []portal.RequestSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]portal.RequestSpec, len(f.specs))
	copy(out, f.specs)
	return out
}

// Unreachable fails every request like a refused connection would.
func Unreachable() *FakeTransport {
	return &FakeTransport{
		Respond: func(_ int, spec portal.RequestSpec) (portal.Response, error) {
			return portal.Response{}, &portal.TransportError{
				Method: spec.Method,
				URL:    spec.URL,
				Err:    context.DeadlineExceeded,
			}
		},
	}
}

// Pages answers every request with the same body.
func Pages(body string) *FakeTransport {
	return &FakeTransport{
		Respond: func(int, portal.RequestSpec) (portal.Response, error) {
			return portal.Response{StatusCode: 200, Body: []byte(body)}, nil
		},
	}
}
