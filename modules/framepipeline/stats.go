package framepipeline

import (
	"time"

	"github.com/e7canasta/filtercam/modules/filter"
)

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Processed   uint64
	Dropped     uint64
	PerFilter   map[string]uint64
	MeanLatency time.Duration
	LastError   string
	LastErrorAt time.Time
}

// Stats returns current counters. Safe for concurrent use with Run.
func (p *Pipeline) Stats() Stats {
	processed := p.processed.Load()

	per := make(map[string]uint64, len(p.perFilter))
	for _, k := range filter.Kinds() {
		per[k.String()] = p.perFilter[k].Load()
	}

	var mean time.Duration
	if processed > 0 {
		mean = time.Duration(p.latencySum.Load() / int64(processed))
	}

	s := Stats{
		Processed:   processed,
		Dropped:     p.dropped.Load(),
		PerFilter:   per,
		MeanLatency: mean,
	}

	p.mu.Lock()
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
		s.LastErrorAt = p.lastErrAt
	}
	p.mu.Unlock()

	return s
}
