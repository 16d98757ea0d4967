package sink

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yairfalse/dropwatch/pkg/domain"
)

func TestConsole(t *testing.T) {
	var out bytes.Buffer
	s := NewConsole(&out)

	s.Emit(domain.DropEvent{PID: 1234, Reason: 5})
	s.Emit(domain.DropEvent{PID: 99, Reason: 777})

	// Nothing reaches the writer until Flush.
	assert.Zero(t, out.Len())
	require.NoError(t, s.Flush())

	output := out.String()
	assert.Contains(t, output, "pid: 1234")
	assert.Contains(t, output, "TCP_CSUM")
	assert.Contains(t, output, "REASON_777")
	assert.Equal(t, uint64(2), s.Emitted())
	assert.Equal(t, uint64(out.Len()), s.BytesWritten())
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewLogger(zap.New(core))

	s.Emit(domain.DropEvent{PID: 42, Reason: 2})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "Packet drop", entry.Message)
	fields := entry.ContextMap()
	assert.EqualValues(t, 42, fields["pid"])
	assert.Equal(t, "NOT_SPECIFIED", fields["reason"])
}

func TestDiscard(t *testing.T) {
	s := NewDiscard()
	for i := 0; i < 5; i++ {
		s.Emit(domain.DropEvent{PID: uint32(i), Reason: 2})
	}
	assert.Equal(t, uint64(5), s.Emitted())
}

func TestMulti(t *testing.T) {
	a := NewDiscard()
	b := NewDiscard()
	m := NewMulti(a, b)

	m.Emit(domain.DropEvent{PID: 1, Reason: 3})

	assert.Equal(t, uint64(1), a.Emitted())
	assert.Equal(t, uint64(1), b.Emitted())
}
