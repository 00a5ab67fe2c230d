package framesupplier

import "time"

// idleThreshold is how long a subscriber may go without consuming before
// it is reported idle.
const idleThreshold = 30 * time.Second

// SupplierStats is a snapshot of supplier state.
type SupplierStats struct {
	// Published counts frames handed to Publish
	Published uint64

	// InboxDrops counts frames overwritten before distribution.
	// Non-zero means the distribution loop is starved.
	InboxDrops uint64

	// Subscribers maps subscriber id to its stats
	Subscribers map[string]SubscriberStats
}

// SubscriberStats tracks one mailbox.
type SubscriberStats struct {
	ID               string
	LastConsumedAt   time.Time
	LastConsumedSeq  uint64
	Delivered        uint64
	ConsecutiveDrops uint64
	TotalDrops       uint64
	IsIdle           bool
}

func (s *supplier) Stats() SupplierStats {
	subs := make(map[string]SubscriberStats)

	s.slots.Range(func(key, value any) bool {
		id := key.(string)
		sl := value.(*slot)

		sl.mu.Lock()
		subs[id] = SubscriberStats{
			ID:               id,
			LastConsumedAt:   sl.lastConsumedAt,
			LastConsumedSeq:  sl.lastConsumedSeq,
			Delivered:        sl.delivered,
			ConsecutiveDrops: sl.consecutiveDrops,
			TotalDrops:       sl.totalDrops,
			IsIdle:           time.Since(sl.lastConsumedAt) > idleThreshold,
		}
		sl.mu.Unlock()
		return true
	})

	return SupplierStats{
		Published:   s.published.Load(),
		InboxDrops:  s.inboxDrops.Load(),
		Subscribers: subs,
	}
}
