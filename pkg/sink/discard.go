package sink

import (
	"sync/atomic"

	"github.com/yairfalse/dropwatch/pkg/collector"
	"github.com/yairfalse/dropwatch/pkg/domain"
)

// Discard counts events and drops them. It exists to measure pipeline
// throughput without sink overhead.
type Discard struct {
	emitted atomic.Uint64
}

var _ collector.Sink = (*Discard)(nil)

// NewDiscard creates a counting discard sink.
func NewDiscard() *Discard {
	return &Discard{}
}

func (s *Discard) Emit(domain.DropEvent) {
	s.emitted.Add(1)
}

// Emitted returns the number of events received so far.
func (s *Discard) Emitted() uint64 {
	return s.emitted.Load()
}
