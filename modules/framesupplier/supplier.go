package framesupplier

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// publishBatchSize is the subscriber count above which distribution fans
// out in goroutines instead of a sequential loop.
const publishBatchSize = 8

type supplier struct {
	// inbox: publisher → distribution loop
	inboxMu    sync.Mutex
	inboxCond  *sync.Cond
	inboxFrame *Frame
	inboxDrops atomic.Uint64
	published  atomic.Uint64

	// subscriber id → *slot
	slots sync.Map

	publishSeq atomic.Uint64
	latest     atomic.Pointer[Frame]

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping atomic.Bool

	startedMu sync.Mutex
	started   bool
}

func newSupplier() *supplier {
	s := &supplier{}
	s.inboxCond = sync.NewCond(&s.inboxMu)
	return s
}

func (s *supplier) Start(ctx context.Context) error {
	s.startedMu.Lock()
	defer s.startedMu.Unlock()

	if s.started {
		return fmt.Errorf("framesupplier: already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(2)
	go s.distributionLoop()
	go func() {
		// Parent cancellation must wake a loop blocked in Wait.
		defer s.wg.Done()
		<-s.ctx.Done()
		s.inboxMu.Lock()
		s.inboxCond.Broadcast()
		s.inboxMu.Unlock()
	}()

	return nil
}

func (s *supplier) Stop() error {
	s.startedMu.Lock()
	if !s.started || s.stopping.Load() {
		s.startedMu.Unlock()
		return nil
	}
	s.stopping.Store(true)
	s.startedMu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.slots.Range(func(key, value any) bool {
		value.(*slot).close()
		return true
	})

	return nil
}

func (s *supplier) Publish(frame *Frame) {
	if frame == nil || s.stopping.Load() {
		return
	}

	s.inboxMu.Lock()
	if s.inboxFrame != nil {
		s.inboxDrops.Add(1)
	}
	s.inboxFrame = frame
	s.published.Add(1)
	s.inboxCond.Signal()
	s.inboxMu.Unlock()
}

func (s *supplier) Latest() *Frame {
	return s.latest.Load()
}

// distributionLoop waits on the inbox and fans each frame out to every slot
// until the context is cancelled.
func (s *supplier) distributionLoop() {
	defer s.wg.Done()

	for {
		s.inboxMu.Lock()
		for s.inboxFrame == nil {
			if s.ctx.Err() != nil {
				s.inboxMu.Unlock()
				return
			}
			s.inboxCond.Wait()
		}
		if s.ctx.Err() != nil {
			s.inboxMu.Unlock()
			return
		}

		frame := s.inboxFrame
		s.inboxFrame = nil
		s.inboxMu.Unlock()

		s.distribute(frame)
	}
}

// distribute assigns the global sequence number and offers the frame to
// every slot. Above publishBatchSize subscribers the slots are served by
// fire-and-forget batches; distribution takes microseconds against frame
// intervals of tens of milliseconds, so frame N+1 cannot overtake N.
func (s *supplier) distribute(frame *Frame) {
	frame.Seq = s.publishSeq.Add(1)
	s.latest.Store(frame)

	var slots []*slot
	s.slots.Range(func(_, value any) bool {
		slots = append(slots, value.(*slot))
		return true
	})

	if len(slots) <= publishBatchSize {
		for _, sl := range slots {
			sl.offer(frame)
		}
		return
	}

	for i := 0; i < len(slots); i += publishBatchSize {
		end := i + publishBatchSize
		if end > len(slots) {
			end = len(slots)
		}
		go func(batch []*slot) {
			for _, sl := range batch {
				sl.offer(frame)
			}
		}(slots[i:end])
	}
}
