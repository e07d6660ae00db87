// Package audit records structured validation events for the security
// dashboards. Recording is fire-and-forget: the pipeline never blocks
// on, and never changes a decision because of, audit delivery.
package audit

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Event is one pipeline decision.
type Event struct {
	Timestamp time.Time
	EventType string
	LicenseID string
	SiteURL   string
	IP        string
	Outcome   string
	ErrorCode string
}

// Logger delivers audit events. Implementations must be safe for
// concurrent use and must never propagate delivery failures.
type Logger interface {
	Record(ctx context.Context, event Event)
	Close()
}

// SlogLogger writes audit events to structured logs through a buffered
// channel so slow sinks cannot stall the request path. Events are
// dropped, counted, when the buffer is full.
type SlogLogger struct {
	logger  *slog.Logger
	events  chan Event
	done    chan struct{}
	dropped int64
}

// NewSlogLogger starts the delivery goroutine.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	l := &SlogLogger{
		logger: logger.With(slog.String("component", "audit")),
		events: make(chan Event, 1024),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Record enqueues an event without blocking.
func (l *SlogLogger) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case l.events <- event:
	default:
		atomic.AddInt64(&l.dropped, 1)
	}
}

// Dropped reports how many events were discarded because the buffer was
// full.
func (l *SlogLogger) Dropped() int64 {
	return atomic.LoadInt64(&l.dropped)
}

// Close drains pending events and stops the delivery goroutine.
func (l *SlogLogger) Close() {
	close(l.events)
	<-l.done
}

func (l *SlogLogger) run() {
	defer close(l.done)
	for event := range l.events {
		l.logger.Info("validation event",
			slog.Time("timestamp", event.Timestamp),
			slog.String("event_type", event.EventType),
			slog.String("license_id", event.LicenseID),
			slog.String("site_url", event.SiteURL),
			slog.String("ip", event.IP),
			slog.String("outcome", event.Outcome),
			slog.String("error_code", event.ErrorCode),
		)
	}
}
