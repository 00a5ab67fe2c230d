// Package framesupplier hands filtered frames from the pipeline to display
// sinks with mailbox semantics.
//
// Drop frames, never queue: every subscriber owns a single-slot mailbox and a
// newer frame replaces an unconsumed one. A slow sink sees the most recent
// frame when it is ready, never a backlog.
//
//	supplier := framesupplier.New()
//	supplier.Start(ctx)
//	defer supplier.Stop()
//
//	read := supplier.Subscribe("websocket")
//	defer supplier.Unsubscribe("websocket")
//	for f := read(); f != nil; f = read() {
//	    render(f.Image)
//	}
package framesupplier

import (
	"context"
	"image"
	"time"

	"github.com/e7canasta/filtercam/modules/filter"
)

// Frame is a processed image ready for display.
//
// Frames are shared by pointer between every subscriber. Neither the
// publisher nor subscribers may modify Image after Publish.
type Frame struct {
	// Image holds the filtered, portrait-oriented pixels
	Image *image.RGBA

	// Filter is the effect that produced Image
	Filter filter.Kind

	// Width and Height of Image in pixels
	Width  int
	Height int

	// Timestamp when the source frame was captured
	Timestamp time.Time

	// CaptureSeq is the source frame's sequence number
	CaptureSeq uint64

	// TraceID follows the frame from capture to display
	TraceID string

	// Seq is assigned by the supplier during distribution. Monotonic.
	Seq uint64
}

// Supplier distributes frames to subscribers.
//
// Lifecycle: New() → Start() → Publish()/Subscribe() → Stop().
// All methods are safe for concurrent use.
type Supplier interface {
	// Start spawns the distribution loop and returns immediately.
	Start(ctx context.Context) error

	// Stop shuts the loop down and wakes every subscriber with nil.
	// Idempotent.
	Stop() error

	// Publish hands a frame to the distribution loop without blocking.
	// An undistributed frame is overwritten and counted in InboxDrops.
	Publish(frame *Frame)

	// Subscribe registers a subscriber and returns a blocking read function.
	// The function returns nil after Unsubscribe or Stop.
	// It must be called from a single goroutine.
	Subscribe(id string) func() *Frame

	// Unsubscribe removes a subscriber and wakes its reader with nil.
	// Safe for unknown ids.
	Unsubscribe(id string)

	// Latest returns the most recently distributed frame, or nil.
	Latest() *Frame

	// Stats returns an operational snapshot.
	Stats() SupplierStats
}

// New creates a Supplier.
func New() Supplier {
	return newSupplier()
}
