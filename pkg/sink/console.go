package sink

import (
	"bufio"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/yairfalse/dropwatch/pkg/collector"
	"github.com/yairfalse/dropwatch/pkg/domain"
)

// consoleBufferSize keeps per-event writes off the syscall path so a
// slow terminal or file does not stall the collector loop.
const consoleBufferSize = 256 * 1024

// Console writes one formatted line per drop event to a buffered
// writer. It is safe for the single-consumer collector loop only.
type Console struct {
	buffered     *bufio.Writer
	now          func() time.Time
	emitted      atomic.Uint64
	bytesWritten atomic.Uint64
}

var _ collector.Sink = (*Console)(nil)

// NewConsole creates a console sink writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{
		buffered: bufio.NewWriterSize(w, consoleBufferSize),
		now:      time.Now,
	}
}

func (s *Console) Emit(event domain.DropEvent) {
	n, _ := fmt.Fprintf(s.buffered, "[%s] drop | pid: %-6d | reason: %-18s\n",
		s.now().Format("15:04:05"),
		event.PID,
		event.Reason)
	s.emitted.Add(1)
	s.bytesWritten.Add(uint64(n))
}

// Flush drains the write buffer. Call it on shutdown so the tail of
// the stream is not lost.
func (s *Console) Flush() error {
	return s.buffered.Flush()
}

// Emitted returns the number of events written so far.
func (s *Console) Emitted() uint64 {
	return s.emitted.Load()
}

// BytesWritten returns the number of bytes formatted so far.
func (s *Console) BytesWritten() uint64 {
	return s.bytesWritten.Load()
}
