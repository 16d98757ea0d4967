// Package probe contains the packet-drop producer side of the
// pipeline. On Linux the real producer is the eBPF program attached to
// tracepoint/skb/kfree_skb; Probe is the in-process rendition of the
// same logic, used by the replay path and wherever eBPF is
// unavailable. Both apply the same filter and emit the same wire
// record.
package probe

import (
	"sync/atomic"

	"github.com/yairfalse/dropwatch/pkg/codec"
	"github.com/yairfalse/dropwatch/pkg/domain"
	"github.com/yairfalse/dropwatch/pkg/ringbuf"
)

// Context exposes the fields of a packet-free notification the probe
// reads. The kernel tracepoint provides the same data through its raw
// tracepoint context.
type Context interface {
	// Reason returns the kernel drop-reason code for the freed skb.
	Reason() uint32

	// PIDTgid returns the combined pid/tgid value of the current
	// task, with the process id in the high 32 bits.
	PIDTgid() uint64
}

// Probe filters packet-free notifications and publishes drop events
// into a ring buffer channel.
type Probe struct {
	ch   *ringbuf.Channel
	lost atomic.Uint64
}

// New creates a probe producing into ch.
func New(ch *ringbuf.Channel) *Probe {
	return &Probe{ch: ch}
}

// HandlePacketFree processes one packet-free notification. It never
// blocks and never fails: benign frees are ignored, and events that do
// not fit in the channel are dropped silently and counted. This
// mirrors the hard constraint on the kernel hook, which must not slow
// the drop path.
func (p *Probe) HandlePacketFree(ctx Context) {
	reason := domain.Reason(ctx.Reason())
	if !reason.Reportable() {
		return
	}

	res, err := p.ch.Reserve(codec.EventSize)
	if err != nil {
		p.lost.Add(1)
		return
	}
	codec.PutEvent(res.Bytes(), domain.DropEvent{
		PID:    uint32(ctx.PIDTgid() >> 32),
		Reason: reason,
	})
	res.Submit()
}

// Lost returns the number of events dropped because the channel was
// full.
func (p *Probe) Lost() uint64 {
	return p.lost.Load()
}
