package domain

import "time"

// CollectorStats is a point-in-time snapshot of collector counters.
type CollectorStats struct {
	// EventsProcessed counts events decoded and delivered to the sink.
	EventsProcessed int64

	// EventsLost counts producer-side reservation failures. Loss under
	// buffer pressure is by design; the counter exists so operators can
	// see it happening.
	EventsLost int64

	// ErrorCount counts consumer-side errors (malformed records,
	// failed polls). These never stop the collector.
	ErrorCount int64

	// LastEventTime is when the most recent event was delivered.
	LastEventTime time.Time

	// Uptime is how long the collector has been running.
	Uptime time.Duration
}
