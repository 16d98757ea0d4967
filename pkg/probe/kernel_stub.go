//go:build !linux
// +build !linux

package probe

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultObjectPath is where the compiled eBPF object is looked up
// when no explicit path is configured.
const DefaultObjectPath = "pkg/probe/bpf/dropmonitor.o"

// KernelProbe is a stub on non-Linux platforms.
type KernelProbe struct{}

// Attach always fails on non-Linux platforms. The in-process replay
// path is the only producer available here.
func Attach(objectPath string, logger *zap.Logger) (*KernelProbe, error) {
	return nil, errors.New("probe: eBPF kernel probe is only supported on linux")
}

func (k *KernelProbe) Source() *KernelSource { return nil }

func (k *KernelProbe) Close() error { return nil }

// KernelSource is a stub on non-Linux platforms.
type KernelSource struct{}

func (s *KernelSource) Poll(timeout time.Duration) ([][]byte, error) {
	return nil, errors.New("probe: eBPF kernel probe is only supported on linux")
}
