// Package ringbuf provides a bounded, lock-free, multi-producer
// single-consumer byte channel modeled on the kernel BPF ring buffer.
//
// Producers follow a two-phase reserve/submit protocol: reserve space,
// populate it, then mark it visible. The consumer therefore never
// observes a partially written record. Reservation is non-blocking and
// fails when the channel is full; losing events under sustained
// pressure is the intended backpressure policy.
package ringbuf

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var (
	// ErrReservationFailed is returned when the channel does not have
	// room for the requested record. Producers must treat this as a
	// silent drop, never as a retry condition.
	ErrReservationFailed = errors.New("ringbuf: reservation failed, channel full")

	// ErrClosed is returned by Poll once the channel is closed and
	// fully drained, and by Reserve after Close. It signals normal
	// termination, not a failure.
	ErrClosed = errors.New("ringbuf: channel closed")
)

// DefaultCapacity is the default channel capacity in bytes.
const DefaultCapacity = 1 << 16

const (
	// Each record is preceded by one 8-byte header cell holding the
	// payload length and commit state. Payloads are padded to 8-byte
	// alignment so every header lands on a cell boundary.
	headerSize  = 8
	recordAlign = 8

	busyBit    = uint32(1 << 31)
	discardBit = uint32(1 << 30)
	lenMask    = discardBit - 1
)

func align(n int) uint64 {
	return (uint64(n) + recordAlign - 1) &^ (recordAlign - 1)
}

// Channel is the shared ring. Any number of goroutines may reserve and
// submit concurrently; exactly one goroutine may call Poll.
type Channel struct {
	data    []byte
	headers []atomic.Uint32 // one per 8-byte cell, indexed by offset/8
	mask    uint64
	cap     uint64

	prod atomic.Uint64 // next byte offset to reserve, monotonic
	cons atomic.Uint64 // next byte offset to consume, monotonic

	notify chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

// NewChannel creates a channel with the given capacity in bytes.
// Capacity must be a power of 2.
func NewChannel(capacity uint64) (*Channel, error) {
	if capacity == 0 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("ringbuf: capacity %d is not a power of 2", capacity)
	}
	if capacity < headerSize+recordAlign {
		return nil, fmt.Errorf("ringbuf: capacity %d is too small for a single record", capacity)
	}

	c := &Channel{
		data:    make([]byte, capacity),
		headers: make([]atomic.Uint32, capacity/recordAlign),
		mask:    capacity - 1,
		cap:     capacity,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	// Every cell starts as busy. A cell only ever reads as committed
	// between a producer's Submit and the consumer releasing the cell,
	// so the consumer can never mistake an unclaimed or in-flight cell
	// for a record.
	for i := range c.headers {
		c.headers[i].Store(busyBit)
	}
	return c, nil
}

// Reservation is a claimed but not yet visible slot. The producer
// populates Bytes and then calls exactly one of Submit or Discard.
type Reservation struct {
	ch   *Channel
	off  uint64 // payload start, monotonic offset
	cell uint64 // header cell index
	buf  []byte
	done bool
}

// Bytes returns the writable payload of the reservation.
func (r *Reservation) Bytes() []byte {
	return r.buf
}

// Submit makes the record visible to the consumer.
func (r *Reservation) Submit() {
	r.complete(0)
}

// Discard releases the reserved space without publishing a record.
// The consumer skips over discarded slots.
func (r *Reservation) Discard() {
	r.complete(discardBit)
}

func (r *Reservation) complete(flags uint32) {
	if r.done {
		panic("ringbuf: reservation completed twice")
	}
	r.done = true

	if flags&discardBit == 0 {
		r.ch.copyIn(r.buf, r.off)
	}
	// Clearing the busy bit is the commit point. The atomic store
	// orders the payload copy before the header becomes visible.
	r.ch.headers[r.cell].Store(flags | uint32(len(r.buf)))
	r.ch.wake()
}

// Reserve claims size bytes in the channel without blocking. It
// returns ErrReservationFailed when the channel is full and ErrClosed
// after Close. The reservation stays invisible to the consumer until
// Submit.
func (c *Channel) Reserve(size int) (*Reservation, error) {
	if size <= 0 || size > int(lenMask) {
		return nil, fmt.Errorf("ringbuf: invalid record size %d", size)
	}
	need := headerSize + align(size)
	if need > c.cap {
		return nil, ErrReservationFailed
	}

	for {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		prod := c.prod.Load()
		cons := c.cons.Load()
		if prod-cons+need > c.cap {
			return nil, ErrReservationFailed
		}
		// The CAS on the producer cursor is the channel's internal
		// sequencing: whoever wins owns [prod, prod+need) and the
		// FIFO position that goes with it.
		if !c.prod.CompareAndSwap(prod, prod+need) {
			continue
		}
		cell := (prod & c.mask) / recordAlign
		c.headers[cell].Store(busyBit | uint32(size))
		return &Reservation{
			ch:   c,
			off:  prod + headerSize,
			cell: cell,
			buf:  make([]byte, size),
		}, nil
	}
}

// Poll blocks until at least one record is available, the timeout
// elapses, or the channel is closed. It returns all records available
// at that moment in submission order. A nil slice with a nil error
// means the timeout elapsed; ErrClosed means the channel is closed and
// drained.
func (c *Channel) Poll(timeout time.Duration) ([][]byte, error) {
	if recs := c.consume(); len(recs) > 0 {
		return recs, nil
	}
	select {
	case <-c.done:
		if recs := c.consume(); len(recs) > 0 {
			return recs, nil
		}
		return nil, ErrClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-c.notify:
			if recs := c.consume(); len(recs) > 0 {
				return recs, nil
			}
		case <-c.done:
			if recs := c.consume(); len(recs) > 0 {
				return recs, nil
			}
			return nil, ErrClosed
		case <-timer.C:
			return nil, nil
		}
	}
}

// consume drains every committed record at the head of the ring. It
// stops at the first still-busy reservation to preserve FIFO order.
func (c *Channel) consume() [][]byte {
	var out [][]byte
	for {
		cons := c.cons.Load()
		if cons == c.prod.Load() {
			return out
		}
		cell := (cons & c.mask) / recordAlign
		hdr := c.headers[cell].Load()
		if hdr&busyBit != 0 {
			return out
		}
		size := int(hdr & lenMask)
		if hdr&discardBit == 0 {
			rec := make([]byte, size)
			c.copyOut(rec, cons+headerSize)
			out = append(out, rec)
		}
		// Re-arm the cell before releasing the space so a producer
		// that immediately reclaims it is never misread as committed.
		c.headers[cell].Store(busyBit)
		c.cons.Store(cons + headerSize + align(size))
	}
}

// copyIn writes the payload into the ring, wrapping at the end.
func (c *Channel) copyIn(src []byte, off uint64) {
	idx := off & c.mask
	n := copy(c.data[idx:], src)
	if n < len(src) {
		copy(c.data, src[n:])
	}
}

// copyOut reads a payload from the ring, wrapping at the end.
func (c *Channel) copyOut(dst []byte, off uint64) {
	idx := off & c.mask
	n := copy(dst, c.data[idx:])
	if n < len(dst) {
		copy(dst[n:], c.data[:len(dst)-n])
	}
}

func (c *Channel) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Close marks the channel closed. Subsequent reservations fail with
// ErrClosed; already submitted records remain readable until the
// consumer drains them. Close is idempotent.
func (c *Channel) Close() {
	if c.closed.CompareAndSwap(false, true) {
		close(c.done)
	}
}

// Size returns the number of bytes currently in flight, including
// record headers and alignment padding.
func (c *Channel) Size() uint64 {
	return c.prod.Load() - c.cons.Load()
}

// Capacity returns the channel capacity in bytes.
func (c *Channel) Capacity() uint64 {
	return c.cap
}
