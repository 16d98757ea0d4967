// Package collector implements the userspace consumer side of the
// drop monitoring pipeline: it polls a record source, decodes the
// fixed-layout drop records, and forwards events to a sink.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/yairfalse/dropwatch/pkg/codec"
	"github.com/yairfalse/dropwatch/pkg/domain"
	"github.com/yairfalse/dropwatch/pkg/ringbuf"
)

// Source is the stream of raw drop records the collector consumes.
// Both the in-process ring buffer channel and the kernel ring buffer
// adapter implement it.
type Source interface {
	// Poll returns zero or more raw records, waiting at most timeout.
	// A nil slice with a nil error means the timeout elapsed. A closed
	// and drained source returns ringbuf.ErrClosed.
	Poll(timeout time.Duration) ([][]byte, error)
}

// Sink receives decoded drop events. Emit must not block
// indefinitely; slow sinks should buffer or shed internally.
type Sink interface {
	Emit(domain.DropEvent)
}

// Collector is the long-lived consumer task. It never mutates channel
// state beyond advancing the read side, and it survives malformed
// records by skipping them.
type Collector struct {
	name   string
	logger *zap.Logger
	config *Config
	source Source

	startTime       time.Time
	eventsProcessed atomic.Int64
	errorCount      atomic.Int64
	lastEventTime   atomic.Value // time.Time
	lastError       atomic.Value // error
	healthy         atomic.Bool
	lostCounter     atomic.Value // func() uint64

	eventsTotal metric.Int64Counter
	errorsTotal metric.Int64Counter
}

// New creates a collector reading from source. A nil cfg uses
// defaults; a nil logger gets a production logger.
func New(name string, cfg *Config, source Source, logger *zap.Logger) (*Collector, error) {
	if cfg == nil {
		cfg = NewDefaultConfig(name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	meter := otel.Meter("drop-collector")

	eventsTotal, err := meter.Int64Counter(
		fmt.Sprintf("%s_events_processed_total", name),
		metric.WithDescription(fmt.Sprintf("Total drop events delivered by %s", name)),
	)
	if err != nil {
		logger.Warn("Failed to create events counter", zap.Error(err))
	}

	errorsTotal, err := meter.Int64Counter(
		fmt.Sprintf("%s_errors_total", name),
		metric.WithDescription(fmt.Sprintf("Total consumer-side errors in %s", name)),
	)
	if err != nil {
		logger.Warn("Failed to create errors counter", zap.Error(err))
	}

	c := &Collector{
		name:        name,
		logger:      logger.Named(name),
		config:      cfg,
		source:      source,
		startTime:   time.Now(),
		eventsTotal: eventsTotal,
		errorsTotal: errorsTotal,
	}
	c.healthy.Store(true)
	c.lastEventTime.Store(time.Time{})
	return c, nil
}

// Name returns the collector name.
func (c *Collector) Name() string {
	return c.name
}

// SetLostCounter wires a producer-side loss counter into Statistics.
// The in-process probe can report loss; the kernel path cannot, which
// is an accepted limitation of the wire format.
func (c *Collector) SetLostCounter(fn func() uint64) {
	c.lostCounter.Store(fn)
}

// Poll waits up to timeout for records and decodes them. Malformed
// records are logged, counted, and skipped; they never fail the poll.
func (c *Collector) Poll(ctx context.Context, timeout time.Duration) ([]domain.DropEvent, error) {
	records, err := c.source.Poll(timeout)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	events := make([]domain.DropEvent, 0, len(records))
	for _, raw := range records {
		event, err := codec.Decode(raw)
		if err != nil {
			c.recordError(err)
			if c.errorsTotal != nil {
				c.errorsTotal.Add(ctx, 1,
					metric.WithAttributes(attribute.String("error", "malformed_record")))
			}
			c.logger.Warn("Skipping malformed record",
				zap.Int("size", len(raw)),
				zap.Error(err))
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Run polls the source until ctx is canceled or the source closes,
// forwarding every decoded event to sink. Both cancellation and a
// closed source are clean shutdowns; Run returns nil for them within
// one poll interval.
func (c *Collector) Run(ctx context.Context, sink Sink) error {
	if sink == nil {
		return fmt.Errorf("sink cannot be nil")
	}

	c.healthy.Store(true)
	c.logger.Info("Collector started",
		zap.Duration("poll_timeout", c.config.PollTimeout),
		zap.Uint64("capacity", c.config.Capacity))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Collector stopped", zap.Int64("events", c.eventsProcessed.Load()))
			return nil
		default:
		}

		events, err := c.Poll(ctx, c.config.PollTimeout)
		if err != nil {
			if errors.Is(err, ringbuf.ErrClosed) {
				c.logger.Info("Event channel closed, shutting down",
					zap.Int64("events", c.eventsProcessed.Load()))
				return nil
			}
			c.recordError(err)
			if c.errorsTotal != nil {
				c.errorsTotal.Add(ctx, 1,
					metric.WithAttributes(attribute.String("error", "poll")))
			}
			c.logger.Warn("Poll failed", zap.Error(err))
			continue
		}

		for _, event := range events {
			sink.Emit(event)
			c.eventsProcessed.Add(1)
			c.lastEventTime.Store(time.Now())
			if c.eventsTotal != nil {
				c.eventsTotal.Add(ctx, 1,
					metric.WithAttributes(attribute.String("reason", event.Reason.String())))
			}
		}
	}
}

func (c *Collector) recordError(err error) {
	c.errorCount.Add(1)
	if err != nil {
		c.lastError.Store(err)
	}
}

// IsHealthy returns true if the collector is functioning properly.
func (c *Collector) IsHealthy() bool {
	return c.healthy.Load()
}

// Statistics returns a snapshot of collector counters.
func (c *Collector) Statistics() *domain.CollectorStats {
	lastEventTime, _ := c.lastEventTime.Load().(time.Time)

	var lost int64
	if fn, ok := c.lostCounter.Load().(func() uint64); ok && fn != nil {
		lost = int64(fn())
	}

	return &domain.CollectorStats{
		EventsProcessed: c.eventsProcessed.Load(),
		EventsLost:      lost,
		ErrorCount:      c.errorCount.Load(),
		LastEventTime:   lastEventTime,
		Uptime:          time.Since(c.startTime),
	}
}

// Health reports the collector's health. A quiet stream is healthy by
// definition here: no packet drops means nothing to report, so unlike
// throughput-oriented collectors there is no staleness check.
func (c *Collector) Health() *domain.HealthStatus {
	if !c.healthy.Load() {
		var lastErr error
		if e, ok := c.lastError.Load().(error); ok {
			lastErr = e
		}
		return domain.NewUnhealthyStatus(
			fmt.Sprintf("%s collector is unhealthy", c.name),
			lastErr,
		)
	}

	errorRate := float64(0)
	if processed := c.eventsProcessed.Load(); processed > 0 {
		errorRate = float64(c.errorCount.Load()) / float64(processed)
	}
	if errorRate > 0.1 {
		return domain.NewHealthStatus(
			domain.HealthDegraded,
			fmt.Sprintf("High error rate: %.1f%%", errorRate*100),
		)
	}

	return domain.NewHealthyStatus(fmt.Sprintf("%s collector operating normally", c.name))
}
