//go:build linux
// +build linux

package probe

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
	"go.uber.org/zap"

	dropring "github.com/yairfalse/dropwatch/pkg/ringbuf"
)

//go:generate clang -O2 -g -Wall -target bpf -c bpf/dropmonitor.c -o bpf/dropmonitor.o -I/usr/include/bpf

const (
	tracepointGroup = "skb"
	tracepointName  = "kfree_skb"
	programName     = "trace_tcp_drop"
	eventsMapName   = "events"
)

// DefaultObjectPath is where the compiled eBPF object is looked up
// when no explicit path is configured.
const DefaultObjectPath = "pkg/probe/bpf/dropmonitor.o"

// KernelProbe is the handle for an attached kernel drop probe. It owns
// the loaded eBPF collection, the tracepoint link, and the ring buffer
// reader, and releases all three on Close.
type KernelProbe struct {
	logger *zap.Logger
	coll   *ebpf.Collection
	link   link.Link
	reader *ringbuf.Reader
}

// Attach loads the drop monitor object and attaches it to
// tracepoint/skb/kfree_skb. On any failure everything loaded so far is
// rolled back; there is no partial-attach state.
func Attach(objectPath string, logger *zap.Logger) (*KernelProbe, error) {
	if objectPath == "" {
		objectPath = DefaultObjectPath
	}

	if err := rlimit.RemoveMemlock(); err != nil {
		logger.Warn("Failed to remove memlock limit", zap.Error(err))
	}

	spec, err := ebpf.LoadCollectionSpec(objectPath)
	if err != nil {
		return nil, fmt.Errorf("load spec %q: %w", objectPath, err)
	}

	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		var ve *ebpf.VerifierError
		if errors.As(err, &ve) {
			logger.Error("eBPF verifier rejected the drop monitor", zap.String("details", ve.Error()))
		}
		return nil, fmt.Errorf("create collection: %w", err)
	}

	prog := coll.Programs[programName]
	if prog == nil {
		coll.Close()
		return nil, fmt.Errorf("object %q has no program %q", objectPath, programName)
	}

	lnk, err := link.Tracepoint(tracepointGroup, tracepointName, prog, nil)
	if err != nil {
		coll.Close()
		return nil, fmt.Errorf("attach tracepoint %s/%s: %w", tracepointGroup, tracepointName, err)
	}

	rd, err := ringbuf.NewReader(coll.Maps[eventsMapName])
	if err != nil {
		lnk.Close()
		coll.Close()
		return nil, fmt.Errorf("ring buffer reader: %w", err)
	}

	logger.Info("Drop probe attached",
		zap.String("tracepoint", tracepointGroup+"/"+tracepointName),
		zap.String("object", objectPath))

	return &KernelProbe{logger: logger, coll: coll, link: lnk, reader: rd}, nil
}

// Source returns the record source fed by the kernel ring buffer. The
// source is only valid until Close.
func (k *KernelProbe) Source() *KernelSource {
	return &KernelSource{rd: k.reader}
}

// Close detaches the probe and releases the ring buffer. Closing the
// reader makes a blocked Poll return a closed-channel condition, which
// the collector treats as clean termination.
func (k *KernelProbe) Close() error {
	err := errors.Join(k.reader.Close(), k.link.Close())
	k.coll.Close()
	if err != nil {
		return fmt.Errorf("detach drop probe: %w", err)
	}
	k.logger.Info("Drop probe detached")
	return nil
}

// KernelSource adapts the cilium ring buffer reader to the collector's
// poll-based record source.
type KernelSource struct {
	rd *ringbuf.Reader
}

// Poll reads the next raw record, waiting at most timeout. A nil slice
// with a nil error means the timeout elapsed.
func (s *KernelSource) Poll(timeout time.Duration) ([][]byte, error) {
	s.rd.SetDeadline(time.Now().Add(timeout))
	rec, err := s.rd.Read()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, nil
		}
		if errors.Is(err, ringbuf.ErrClosed) {
			return nil, dropring.ErrClosed
		}
		return nil, err
	}
	return [][]byte{rec.RawSample}, nil
}
