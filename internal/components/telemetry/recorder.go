package telemetry

import "sync"

// Report is a single call made against a Recorder.
type Report struct {
	Kind   string
	ID     string
	Params []any
}

const (
	KindBroken  = "broken"
	KindWarning = "warning"
	KindDebug   = "debug"
	KindCount   = "count"
)

// Recorder is an API that keeps every report in memory, used by tests to assert
// that components report what they should.
type Recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *Recorder) add(report Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *Recorder) ReportBroken(id string, params ...any) {
	r.add(Report{Kind: KindBroken, ID: id, Params: params})
}

func (r *Recorder) ReportWarning(id string, params ...any) {
	r.add(Report{Kind: KindWarning, ID: id, Params: params})
}

func (r *Recorder) ReportDebug(msg string, params ...any) {
	r.add(Report{Kind: KindDebug, ID: msg, Params: params})
}

func (r *Recorder) ReportCount(id string, count int64) {
	r.add(Report{Kind: KindCount, ID: id, Params: []any{count}})
}

// Reports returns a copy of all reports of the given kind.
func (r *Recorder) Reports(kind string) []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Report{}
	for _, report := range r.reports {
		if report.Kind == kind {
			out = append(out, report)
		}
	}
	return out
}
