package collector

import (
	"fmt"
	"time"

	"github.com/yairfalse/dropwatch/pkg/ringbuf"
)

// Config holds drop collector configuration.
type Config struct {
	Name string `json:"name" yaml:"name"`

	// Capacity is the ring buffer channel capacity in bytes. Must be a
	// power of 2.
	Capacity uint64 `json:"capacity" yaml:"capacity"`

	// PollTimeout bounds each wait for new records. Cancellation is
	// observed once per poll interval, so this is also the shutdown
	// latency bound.
	PollTimeout time.Duration `json:"poll_timeout" yaml:"poll_timeout"`
}

// NewDefaultConfig returns the default configuration.
func NewDefaultConfig(name string) *Config {
	return &Config{
		Name:        name,
		Capacity:    ringbuf.DefaultCapacity,
		PollTimeout: 100 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if c.Capacity == 0 || c.Capacity&(c.Capacity-1) != 0 {
		return fmt.Errorf("capacity %d must be a power of 2", c.Capacity)
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("poll timeout %v must be positive", c.PollTimeout)
	}
	return nil
}
