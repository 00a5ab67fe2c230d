package gstsrc

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Frame is a minimal frame struct for internal use (avoids import cycle)
// The public Frame type is defined in the parent package
type Frame struct {
	Seq          uint64
	Timestamp    time.Time
	Width        int
	Height       int
	Data         []byte
	SourceStream string
	TraceID      string
}

// CallbackContext holds state needed by GStreamer callbacks
type CallbackContext struct {
	FrameChan     chan<- Frame
	FrameCounter  *uint64 // sequence numbers
	BytesRead     *uint64
	FramesDropped *uint64 // channel full
	Width         int
	Height        int
	SourceStream  string
}

// OnNewSample is called by GStreamer when a new frame is available
//
// The sample buffer is copied (GStreamer reuses it) and handed to FrameChan
// with a non-blocking send. A frame that cannot be delivered is dropped and
// counted.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// A single bad sample must not terminate the stream
		slog.Warn("stream-capture: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("stream-capture: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("stream-capture: empty buffer received")
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	Deliver(ctx, frameData, time.Now())
	return gst.FlowOK
}

// Deliver stamps a copied pixel buffer with sequence and trace metadata and
// offers it to the frame channel. Returns false if the frame was dropped.
func Deliver(ctx *CallbackContext, data []byte, ts time.Time) bool {
	seq := atomic.AddUint64(ctx.FrameCounter, 1)
	atomic.AddUint64(ctx.BytesRead, uint64(len(data)))

	frame := Frame{
		Seq:          seq,
		Timestamp:    ts,
		Width:        ctx.Width,
		Height:       ctx.Height,
		Data:         data,
		SourceStream: ctx.SourceStream,
		TraceID:      uuid.New().String(),
	}

	select {
	case ctx.FrameChan <- frame:
		return true
	default:
		atomic.AddUint64(ctx.FramesDropped, 1)
		slog.Debug("stream-capture: dropping frame, channel full",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
		return false
	}
}
