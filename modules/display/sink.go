package display

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/e7canasta/filtercam/modules/framesupplier"
)

// Sink renders processed frames somewhere outside the process.
type Sink interface {
	// Name identifies the sink in logs and supplier stats
	Name() string
	// Write renders one frame. Errors are logged; the sink keeps running.
	Write(frame *framesupplier.Frame) error
	// Close releases the sink's resources
	Close() error
}

// SinkStats counts frames written and failed by RunSink.
type SinkStats struct {
	Written atomic.Uint64
	Failed  atomic.Uint64
}

// RunSink subscribes sink to the supplier and writes every frame it reads
// until ctx is done or the supplier stops. The sink is closed on return.
func RunSink(ctx context.Context, supplier framesupplier.Supplier, sink Sink, stats *SinkStats) {
	if stats == nil {
		stats = &SinkStats{}
	}

	read := supplier.Subscribe(sink.Name())
	stop := context.AfterFunc(ctx, func() { supplier.Unsubscribe(sink.Name()) })
	defer stop()
	defer supplier.Unsubscribe(sink.Name())

	slog.Info("display: sink started", "sink", sink.Name())

	for {
		frame := read()
		if frame == nil {
			break
		}
		if err := sink.Write(frame); err != nil {
			failed := stats.Failed.Add(1)
			slog.Warn("display: sink write failed",
				"sink", sink.Name(),
				"seq", frame.Seq,
				"trace_id", frame.TraceID,
				"error", err,
				"failed_total", failed,
			)
			continue
		}
		stats.Written.Add(1)
	}

	if err := sink.Close(); err != nil {
		slog.Warn("display: sink close failed", "sink", sink.Name(), "error", err)
	}
	slog.Info("display: sink stopped",
		"sink", sink.Name(),
		"written", stats.Written.Load(),
		"failed", stats.Failed.Load(),
	)
}
