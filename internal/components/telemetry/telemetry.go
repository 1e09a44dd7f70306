package telemetry

import (
	"fmt"
)

// API is an abstraction over logging/metrics.
// This allows for assertions and tests for working logging/metrics to exist.
//
// note: fault injection point
type API interface {
	// ReportBroken reports a component that has broken in a way that should be addressed.
	//
	// The `id` is a fully qualified identifier that should indicate what **component** broke, not what
	// specific step of that component broke. If you came across the report in a dashboard you should be
	// able to find the place that is broken from the id alone.
	//
	// ex. Suppose the QIS grade table can no longer be located on the grade page. The id should be
	// `qis.grades`, no more granular than that. Which step failed is a param or a wrapped error.
	//
	// Formatting rules:
	// 1) all lowercase
	// 2) use underscores for large components
	// 3) use dashes for methods part of a larger component
	//
	// Credentials must never be passed as params.
	ReportBroken(id string, params ...any)

	// ReportWarning reports a scenario that does not necessarily indicate brokenness, but may be subject
	// to investigation (ex. a user typing the wrong password).
	//
	// For what value to provide as `id` refer to ReportBroken.
	ReportWarning(id string, params ...any)

	// ReportDebug reports some debug information that will be ignored in production
	ReportDebug(msg string, params ...any)

	// ReportCount reports the current count of a specific event at the current time, these counts should
	// not be summed but interpreted as points of data over time.
	//
	// For what value to provide as `id` refer to ReportBroken.
	ReportCount(id string, count int64)
}

// ScopedAPI is a telemetry API that attaches a namespace for a given API, kind of like creating a
// "sub" logger using things like log.New(), in which you can define the prefix for the logs.
type ScopedAPI struct {
	namespace string
	inner     API
}

// NewScopedAPI creates a ScopedAPI out of a given namespace and another api.
func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}

// MultiAPI fans every report out to all of its members.
type MultiAPI []API

func (m MultiAPI) ReportBroken(id string, params ...any) {
	for _, api := range m {
		api.ReportBroken(id, params...)
	}
}

func (m MultiAPI) ReportWarning(id string, params ...any) {
	for _, api := range m {
		api.ReportWarning(id, params...)
	}
}

func (m MultiAPI) ReportDebug(msg string, params ...any) {
	for _, api := range m {
		api.ReportDebug(msg, params...)
	}
}

func (m MultiAPI) ReportCount(id string, count int64) {
	for _, api := range m {
		api.ReportCount(id, count)
	}
}
