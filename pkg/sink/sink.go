// Package sink provides ready-made event sinks for the drop
// collector: a buffered console writer, a structured log sink, a
// counting discard sink for benchmarking, and a fan-out combinator.
package sink

import (
	"github.com/yairfalse/dropwatch/pkg/collector"
	"github.com/yairfalse/dropwatch/pkg/domain"
)

// Multi fans every event out to all wrapped sinks in order.
type Multi struct {
	sinks []collector.Sink
}

var _ collector.Sink = (*Multi)(nil)

// NewMulti creates a fan-out sink.
func NewMulti(sinks ...collector.Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Emit(event domain.DropEvent) {
	for _, s := range m.sinks {
		s.Emit(event)
	}
}
