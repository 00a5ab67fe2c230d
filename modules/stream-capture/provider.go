package streamcapture

import "context"

// StreamProvider defines the contract for a capture source
//
// Implementations must guarantee:
//   - Start() returns immediately (non-blocking)
//   - Frames are delivered one at a time on the returned channel, in order
//   - Frames are dropped, never queued, when the consumer falls behind
//   - Stop() is idempotent and closes the channel
//   - Stats() and Err() are thread-safe
type StreamProvider interface {
	// Start begins capture and returns a read-only channel of frames.
	//
	// The channel stays open until Stop() is called. Sends are non-blocking:
	// if the consumer is still busy with the previous frame, the new frame
	// is dropped and counted in StreamStats.FramesDropped.
	Start(ctx context.Context) (<-chan Frame, error)

	// Stop shuts the source down and closes the frame channel.
	// Safe to call multiple times.
	Stop() error

	// Stats returns current stream statistics.
	Stats() StreamStats

	// Err reports why the frame channel closed on its own, or nil if it is
	// still open or was closed by Stop().
	Err() error
}

// FPSController is implemented by sources whose frame rate can change while
// they run.
type FPSController interface {
	SetTargetFPS(fps float64) error
}
