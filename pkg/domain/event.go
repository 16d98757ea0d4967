// Package domain defines the core types shared across the dropwatch
// pipeline: the decoded drop event, kernel drop-reason codes, and the
// statistics/health surface exposed by the collector.
package domain

import "fmt"

// Reason is a kernel-assigned SKB drop reason code classifying why a
// packet buffer was freed. Values 0 and 1 denote normal frees, not
// drops.
type Reason uint32

const (
	// ReasonNotDroppedYet marks an skb that is still in flight.
	ReasonNotDroppedYet Reason = 0
	// ReasonConsumed marks an skb that was consumed normally.
	ReasonConsumed Reason = 1
)

// Reportable returns true if the reason describes a real packet drop
// worth reporting. Codes 0 and 1 are benign frees and are filtered out
// at the probe.
func (r Reason) Reportable() bool {
	return r > ReasonConsumed
}

// reasonNames maps kernel SKB_DROP_REASON enum values to their names.
// The set tracks the reasons most commonly seen on TCP paths; unknown
// codes are still reported, just without a symbolic name.
var reasonNames = map[Reason]string{
	2:  "NOT_SPECIFIED",
	3:  "NO_SOCKET",
	4:  "PKT_TOO_SMALL",
	5:  "TCP_CSUM",
	6:  "SOCKET_FILTER",
	7:  "UDP_CSUM",
	8:  "NETFILTER_DROP",
	16: "SOCKET_RCVBUFF",
	17: "PROTO_MEM",
	21: "TCP_LISTEN_OVERFLOW",
	26: "SOCKET_BACKLOG",
	27: "TCP_FLAGS",
	28: "TCP_ZEROWINDOW",
	44: "IP_OUTNOROUTES",
	52: "QDISC_DROP",
	62: "FULL_RING",
	63: "NOMEM",
	64: "TCP_RETRANSMIT",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("REASON_%d", uint32(r))
}

// DropEvent is a single packet-drop notification produced by the
// kernel probe. It is immutable once constructed and has no identity
// beyond its position in the event stream.
type DropEvent struct {
	// PID is the process id that owned the context triggering the
	// drop, 0 if unavailable.
	PID uint32

	// Reason is the kernel drop-reason code. Every event that reaches
	// a collector has Reason.Reportable() == true.
	Reason Reason
}
