package ringbuf

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChannel_CapacityValidation(t *testing.T) {
	tests := []struct {
		name     string
		capacity uint64
		wantErr  bool
	}{
		{name: "zero", capacity: 0, wantErr: true},
		{name: "not a power of 2", capacity: 100, wantErr: true},
		{name: "too small", capacity: 8, wantErr: true},
		{name: "minimum", capacity: 16, wantErr: false},
		{name: "default", capacity: DefaultCapacity, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := NewChannel(tt.capacity)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, ch)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.capacity, ch.Capacity())
			assert.Equal(t, uint64(0), ch.Size())
		})
	}
}

func TestChannel_ReserveSubmitPoll(t *testing.T) {
	ch, err := NewChannel(256)
	require.NoError(t, err)

	res, err := ch.Reserve(8)
	require.NoError(t, err)
	binary.NativeEndian.PutUint64(res.Bytes(), 42)
	res.Submit()

	recs, err := ch.Poll(time.Second)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(42), binary.NativeEndian.Uint64(recs[0]))
	assert.Equal(t, uint64(0), ch.Size())
}

func TestChannel_PollTimeout(t *testing.T) {
	ch, err := NewChannel(256)
	require.NoError(t, err)

	start := time.Now()
	recs, err := ch.Poll(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestChannel_FIFOOrdering(t *testing.T) {
	ch, err := NewChannel(1 << 12)
	require.NoError(t, err)

	const n = 100
	for i := 0; i < n; i++ {
		res, err := ch.Reserve(8)
		require.NoError(t, err)
		binary.NativeEndian.PutUint64(res.Bytes(), uint64(i))
		res.Submit()
	}

	var got []uint64
	for len(got) < n {
		recs, err := ch.Poll(time.Second)
		require.NoError(t, err)
		for _, rec := range recs {
			got = append(got, binary.NativeEndian.Uint64(rec))
		}
	}

	require.Len(t, got, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, uint64(i), got[i])
	}
}

func TestChannel_Saturation(t *testing.T) {
	// Each 8-byte record costs 16 bytes (header + aligned payload), so
	// a 256-byte channel holds exactly 16 events.
	ch, err := NewChannel(256)
	require.NoError(t, err)

	const fits = 16
	for i := 0; i < fits; i++ {
		res, err := ch.Reserve(8)
		require.NoError(t, err, "event %d should fit", i)
		binary.NativeEndian.PutUint64(res.Bytes(), uint64(i))
		res.Submit()
	}

	// The next reservation fails and nothing already submitted is
	// disturbed.
	_, err = ch.Reserve(8)
	assert.ErrorIs(t, err, ErrReservationFailed)

	var got []uint64
	for len(got) < fits {
		recs, err := ch.Poll(time.Second)
		require.NoError(t, err)
		for _, rec := range recs {
			got = append(got, binary.NativeEndian.Uint64(rec))
		}
	}
	require.Len(t, got, fits)
	for i := 0; i < fits; i++ {
		assert.Equal(t, uint64(i), got[i])
	}

	// Space is reusable after draining.
	_, err = ch.Reserve(8)
	assert.NoError(t, err)
}

func TestChannel_OversizedRecord(t *testing.T) {
	ch, err := NewChannel(64)
	require.NoError(t, err)

	_, err = ch.Reserve(64)
	assert.ErrorIs(t, err, ErrReservationFailed)

	_, err = ch.Reserve(0)
	assert.Error(t, err)
	_, err = ch.Reserve(-1)
	assert.Error(t, err)
}

func TestChannel_Discard(t *testing.T) {
	ch, err := NewChannel(256)
	require.NoError(t, err)

	first, err := ch.Reserve(8)
	require.NoError(t, err)
	binary.NativeEndian.PutUint64(first.Bytes(), 1)
	first.Submit()

	dropped, err := ch.Reserve(8)
	require.NoError(t, err)
	dropped.Discard()

	second, err := ch.Reserve(8)
	require.NoError(t, err)
	binary.NativeEndian.PutUint64(second.Bytes(), 2)
	second.Submit()

	var got []uint64
	for len(got) < 2 {
		recs, err := ch.Poll(time.Second)
		require.NoError(t, err)
		for _, rec := range recs {
			got = append(got, binary.NativeEndian.Uint64(rec))
		}
	}
	assert.Equal(t, []uint64{1, 2}, got)
}

func TestChannel_CloseDrainsBeforeErrClosed(t *testing.T) {
	ch, err := NewChannel(256)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := ch.Reserve(8)
		require.NoError(t, err)
		binary.NativeEndian.PutUint64(res.Bytes(), uint64(i))
		res.Submit()
	}
	ch.Close()

	// Submitted records survive the close.
	var got []uint64
	for {
		recs, err := ch.Poll(time.Second)
		if err != nil {
			assert.ErrorIs(t, err, ErrClosed)
			break
		}
		for _, rec := range recs {
			got = append(got, binary.NativeEndian.Uint64(rec))
		}
	}
	assert.Equal(t, []uint64{0, 1, 2}, got)

	// Reservations after close fail with the closed sentinel.
	_, err = ch.Reserve(8)
	assert.ErrorIs(t, err, ErrClosed)

	// Close is idempotent.
	ch.Close()
}

func TestChannel_PollWakesOnClose(t *testing.T) {
	ch, err := NewChannel(256)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := ch.Poll(10 * time.Second)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	ch.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Poll did not return after Close")
	}
}

func TestChannel_ConcurrentProducers(t *testing.T) {
	const (
		producers = 8
		perWorker = 500
	)
	// 8 * 500 records at 16 bytes each need 64000 bytes.
	ch, err := NewChannel(1 << 16)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < producers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				res, err := ch.Reserve(8)
				if !assert.NoError(t, err) {
					return
				}
				binary.NativeEndian.PutUint32(res.Bytes()[0:4], uint32(worker))
				binary.NativeEndian.PutUint32(res.Bytes()[4:8], uint32(i))
				res.Submit()
			}
		}(w)
	}

	collected := make(chan [][]byte, 1)
	go func() {
		var all [][]byte
		for len(all) < producers*perWorker {
			recs, err := ch.Poll(time.Second)
			if !assert.NoError(t, err) {
				break
			}
			all = append(all, recs...)
		}
		collected <- all
	}()

	wg.Wait()
	all := <-collected
	require.Len(t, all, producers*perWorker)

	// Each producer's own events arrive in its submission order.
	next := make([]uint32, producers)
	for _, rec := range all {
		worker := binary.NativeEndian.Uint32(rec[0:4])
		seq := binary.NativeEndian.Uint32(rec[4:8])
		require.Less(t, int(worker), producers)
		assert.Equal(t, next[worker], seq, "producer %d out of order", worker)
		next[worker]++
	}
	for w := 0; w < producers; w++ {
		assert.Equal(t, uint32(perWorker), next[w])
	}
}

func TestReservation_DoubleComplete(t *testing.T) {
	ch, err := NewChannel(256)
	require.NoError(t, err)

	res, err := ch.Reserve(8)
	require.NoError(t, err)
	res.Submit()

	assert.Panics(t, func() { res.Submit() })
}

func TestChannel_WrapAround(t *testing.T) {
	ch, err := NewChannel(64)
	require.NoError(t, err)

	// 12-byte payloads advance the cursors by 24, which does not
	// divide the capacity, so payloads periodically straddle the end
	// of the ring.
	for i := 0; i < 100; i++ {
		res, err := ch.Reserve(12)
		require.NoError(t, err)
		for j := range res.Bytes() {
			res.Bytes()[j] = byte(i)
		}
		res.Submit()

		recs, err := ch.Poll(time.Second)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		require.Len(t, recs[0], 12)
		for j, b := range recs[0] {
			require.Equal(t, byte(i), b, "record %d byte %d", i, j)
		}
	}
}
