// Package codec implements the fixed-layout wire format shared between
// the kernel probe and the userspace collector: two consecutive 32-bit
// unsigned integers (pid, reason) in native byte order, no padding.
//
// The layout is unversioned. Any field addition is a breaking wire
// change; extending the system beyond this one event kind requires a
// new record type with an explicit kind tag.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/yairfalse/dropwatch/pkg/domain"
)

// EventSize is the exact size in bytes of an encoded DropEvent.
const EventSize = 8

// ErrMalformedRecord is returned by Decode for records whose size does
// not match the event layout.
var ErrMalformedRecord = errors.New("malformed drop record")

// Encode serializes an event into a freshly allocated record.
func Encode(e domain.DropEvent) []byte {
	buf := make([]byte, EventSize)
	PutEvent(buf, e)
	return buf
}

// PutEvent serializes an event into buf, which must hold at least
// EventSize bytes. It is the allocation-free path used by the probe
// to populate a reserved ring buffer slot in place.
func PutEvent(buf []byte, e domain.DropEvent) {
	binary.NativeEndian.PutUint32(buf[0:4], e.PID)
	binary.NativeEndian.PutUint32(buf[4:8], uint32(e.Reason))
}

// Decode parses a raw record into an event. It fails with
// ErrMalformedRecord for any input whose length is not EventSize.
func Decode(raw []byte) (domain.DropEvent, error) {
	if len(raw) != EventSize {
		return domain.DropEvent{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedRecord, len(raw), EventSize)
	}
	return domain.DropEvent{
		PID:    binary.NativeEndian.Uint32(raw[0:4]),
		Reason: domain.Reason(binary.NativeEndian.Uint32(raw[4:8])),
	}, nil
}
