package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type perfGauges struct {
	cpu        metric.Float64Gauge
	rss        metric.Int64Gauge
	heap       metric.Int64Gauge
	goroutines metric.Int64Gauge
	openFiles  metric.Int64Gauge
}

func newPerfGauges() perfGauges {
	meter := otel.Meter("htwg-backend/perf")
	g := perfGauges{}
	g.cpu, _ = meter.Float64Gauge("process_cpu_percent")
	g.rss, _ = meter.Int64Gauge("process_rss_mb")
	g.heap, _ = meter.Int64Gauge("go_heap_alloc_mb")
	g.goroutines, _ = meter.Int64Gauge("go_goroutines")
	g.openFiles, _ = meter.Int64Gauge("process_open_files")
	return g
}

func (g perfGauges) record(ctx context.Context, proc *process.Process) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	g.heap.Record(ctx, int64(mem.HeapAlloc/1_000_000))
	g.goroutines.Record(ctx, int64(runtime.NumGoroutine()))

	if proc == nil {
		return
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		g.cpu.Record(ctx, cpu)
	} else {
		slog.Debug("read process cpu", "err", err)
	}
	if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
		g.rss.Record(ctx, int64(info.RSS/1_000_000))
	}
	// not supported on every platform
	if fds, err := proc.NumFDsWithContext(ctx); err == nil {
		g.openFiles.Record(ctx, int64(fds))
	}
}

// InstrumentPerfStats records statistics of this process every interval until ctx
// is done. It returns immediately.
func InstrumentPerfStats(ctx context.Context, interval time.Duration) {
	gauges := newPerfGauges()
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		slog.Warn("process stats unavailable, only runtime stats are recorded", "err", err)
		proc = nil
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				gauges.record(ctx, proc)
			case <-ctx.Done():
				return
			}
		}
	}()
}
