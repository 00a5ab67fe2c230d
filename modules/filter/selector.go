package filter

import (
	"log/slog"
	"sync/atomic"
)

// Selector holds the active filter kind.
//
// Writes come from control goroutines, reads from the frame pipeline. Both
// go through sync/atomic, so a reader always observes a whole value that some
// writer stored (or the initial one) and a Set is visible to every Get that
// happens after it.
type Selector struct {
	current atomic.Int32
}

// NewSelector creates a selector starting at initial. An invalid initial
// kind falls back to Sepia.
func NewSelector(initial Kind) *Selector {
	s := &Selector{}
	if !initial.Valid() {
		slog.Warn("filter: invalid initial kind, using sepia", "kind", int32(initial))
		initial = Sepia
	}
	s.current.Store(int32(initial))
	return s
}

// Set makes kind the active filter. Invalid kinds are ignored.
func (s *Selector) Set(kind Kind) {
	if !kind.Valid() {
		slog.Warn("filter: ignoring invalid kind", "kind", int32(kind))
		return
	}
	s.current.Store(int32(kind))
}

// Swap sets kind and returns the kind that was active before. Invalid kinds
// are ignored and the current kind is returned.
func (s *Selector) Swap(kind Kind) Kind {
	if !kind.Valid() {
		slog.Warn("filter: ignoring invalid kind", "kind", int32(kind))
		return s.Get()
	}
	return Kind(s.current.Swap(int32(kind)))
}

// Get returns the most recently set kind.
func (s *Selector) Get() Kind {
	return Kind(s.current.Load())
}
