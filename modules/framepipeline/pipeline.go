package framepipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/filtercam/modules/filter"
	"github.com/e7canasta/filtercam/modules/framesupplier"
	streamcapture "github.com/e7canasta/filtercam/modules/stream-capture"
)

// Applier applies a filter kind to an image. *filter.Registry implements it.
type Applier interface {
	Apply(kind filter.Kind, src image.Image) (*image.RGBA, error)
}

// Publisher receives processed frames without blocking.
// framesupplier.Supplier implements it.
type Publisher interface {
	Publish(frame *framesupplier.Frame)
}

// Output is a filtered, upright frame.
type Output struct {
	Image      *image.RGBA
	Filter     filter.Kind
	Width      int
	Height     int
	CaptureSeq uint64
	Timestamp  time.Time
	TraceID    string
	Latency    time.Duration
}

// Frame converts the output for the display mailbox.
func (o *Output) Frame() *framesupplier.Frame {
	return &framesupplier.Frame{
		Image:      o.Image,
		Filter:     o.Filter,
		Width:      o.Width,
		Height:     o.Height,
		Timestamp:  o.Timestamp,
		CaptureSeq: o.CaptureSeq,
		TraceID:    o.TraceID,
	}
}

// Pipeline applies the selected filter to each frame.
type Pipeline struct {
	selector *filter.Selector
	filters  Applier

	processed  atomic.Uint64
	dropped    atomic.Uint64
	latencySum atomic.Int64
	perFilter  [3]atomic.Uint64

	mu        sync.Mutex
	lastErr   error
	lastErrAt time.Time
}

// New creates a pipeline reading the active filter from selector.
// A nil filters uses filter.NewRegistry().
func New(selector *filter.Selector, filters Applier) *Pipeline {
	if filters == nil {
		filters = filter.NewRegistry()
	}
	return &Pipeline{selector: selector, filters: filters}
}

// Process filters one frame.
//
// Steps: validate and convert the buffer, read the selector, rotate upright,
// apply the transform. Any failure wraps filter.ErrFilterUnavailable; the
// caller drops the frame.
//
// The output extent is measured against the upright input. Portrait frames
// keep their width and height; frames tagged landscape come out with the two
// swapped, as a portrait capture connection would deliver them.
func (p *Pipeline) Process(frame streamcapture.Frame) (*Output, error) {
	start := time.Now()

	src, err := toRGBA(frame)
	if err != nil {
		return nil, err
	}

	kind := p.selector.Get()

	upright := orient(src, frame.Orientation)

	out, err := p.filters.Apply(kind, upright)
	if err != nil {
		if !errors.Is(err, filter.ErrFilterUnavailable) {
			err = fmt.Errorf("%w: %v", filter.ErrFilterUnavailable, err)
		}
		return nil, fmt.Errorf("framepipeline: frame %d: %w", frame.Seq, err)
	}
	if out == nil || out.Rect.Dx() != upright.Rect.Dx() || out.Rect.Dy() != upright.Rect.Dy() {
		return nil, fmt.Errorf("framepipeline: frame %d: %s produced wrong extent: %w", frame.Seq, kind, filter.ErrFilterUnavailable)
	}

	return &Output{
		Image:      out,
		Filter:     kind,
		Width:      out.Rect.Dx(),
		Height:     out.Rect.Dy(),
		CaptureSeq: frame.Seq,
		Timestamp:  frame.Timestamp,
		TraceID:    frame.TraceID,
		Latency:    time.Since(start),
	}, nil
}

// Run consumes frames one at a time until ctx is done or frames closes.
//
// Successful outputs are published; failures are logged, counted and
// dropped. Returns ctx.Err() on cancellation, nil when frames closes.
func (p *Pipeline) Run(ctx context.Context, frames <-chan streamcapture.Frame, pub Publisher) error {
	slog.Info("framepipeline: running", "filter", p.selector.Get().String())

	for {
		select {
		case <-ctx.Done():
			p.logSummary()
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				p.logSummary()
				return nil
			}
			p.handle(frame, pub)
		}
	}
}

func (p *Pipeline) handle(frame streamcapture.Frame, pub Publisher) {
	out, err := p.Process(frame)
	if err != nil {
		p.recordDrop(frame, err)
		return
	}

	p.processed.Add(1)
	p.latencySum.Add(int64(out.Latency))
	if out.Filter.Valid() {
		p.perFilter[out.Filter].Add(1)
	}

	pub.Publish(out.Frame())
}

func (p *Pipeline) recordDrop(frame streamcapture.Frame, err error) {
	dropped := p.dropped.Add(1)

	p.mu.Lock()
	repeated := p.lastErr != nil && p.lastErr.Error() == err.Error()
	p.lastErr = err
	p.lastErrAt = time.Now()
	p.mu.Unlock()

	// A persistent failure would otherwise log at frame rate.
	level := slog.LevelWarn
	if repeated {
		level = slog.LevelDebug
	}
	slog.Log(context.Background(), level, "framepipeline: frame dropped",
		"seq", frame.Seq,
		"trace_id", frame.TraceID,
		"error", err,
		"dropped_total", dropped,
	)
}

func (p *Pipeline) logSummary() {
	s := p.Stats()
	slog.Info("framepipeline: stopped",
		"processed", s.Processed,
		"dropped", s.Dropped,
		"mean_latency", s.MeanLatency,
	)
}
