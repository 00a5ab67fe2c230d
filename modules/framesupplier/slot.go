package framesupplier

import (
	"sync"
	"time"
)

// slot is a subscriber's single-frame mailbox.
type slot struct {
	mu    sync.Mutex
	cond  *sync.Cond
	frame *Frame

	lastConsumedAt   time.Time
	lastConsumedSeq  uint64
	consecutiveDrops uint64
	totalDrops       uint64
	delivered        uint64

	closed bool
}

func newSlot() *slot {
	sl := &slot{lastConsumedAt: time.Now()}
	sl.cond = sync.NewCond(&sl.mu)
	return sl
}

// offer overwrites any unconsumed frame and wakes the reader.
func (sl *slot) offer(frame *Frame) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if sl.closed {
		return
	}
	if sl.frame != nil {
		sl.consecutiveDrops++
		sl.totalDrops++
	}
	sl.frame = frame
	sl.cond.Signal()
}

// take blocks until a frame is available or the slot is closed.
func (sl *slot) take() *Frame {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	for sl.frame == nil && !sl.closed {
		sl.cond.Wait()
	}
	if sl.closed {
		return nil
	}

	frame := sl.frame
	sl.frame = nil
	sl.lastConsumedAt = time.Now()
	sl.lastConsumedSeq = frame.Seq
	sl.consecutiveDrops = 0
	sl.delivered++
	return frame
}

func (sl *slot) close() {
	sl.mu.Lock()
	sl.closed = true
	sl.frame = nil
	sl.cond.Broadcast()
	sl.mu.Unlock()
}

func (s *supplier) Subscribe(id string) func() *Frame {
	if s.stopping.Load() {
		return func() *Frame { return nil }
	}

	sl := newSlot()
	if prev, loaded := s.slots.Swap(id, sl); loaded {
		prev.(*slot).close()
	}
	return sl.take
}

func (s *supplier) Unsubscribe(id string) {
	val, ok := s.slots.LoadAndDelete(id)
	if !ok {
		return
	}
	val.(*slot).close()
}
