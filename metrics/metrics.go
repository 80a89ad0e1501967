// Package metrics collects operation counters across the SDK categories and
// produces the end-of-run report. Counters are updated with atomic operations
// so category workers can record without coordination.
package metrics

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// Metrics accumulates counters for auth and analytics activity.
type Metrics struct {
	mu sync.RWMutex

	// Auth counters
	signInAttempts      int64 // Sign-in attempts started
	signInFailures      int64 // Sign-in attempts that ended in Failed
	tokenRefreshes      int64 // Refresh-token round-trips performed
	credentialExchanges int64 // Identity-pool credential exchanges

	// Analytics counters
	eventsRecorded int64 // Events accepted into the buffer
	eventsFlushed  int64 // Events acknowledged by the remote service
	eventsRetried  int64 // Events re-queued after a retryable rejection
	eventsDropped  int64 // Events dropped after exhausting retries

	// Timing
	flushTime time.Duration // Total time spent in remote flush calls
	startTime time.Time     // When this Metrics instance was created
}

// NewMetrics creates a Metrics instance anchored at the current time.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// RecordSignInAttempt increments the sign-in attempts counter.
func (m *Metrics) RecordSignInAttempt() {
	atomic.AddInt64(&m.signInAttempts, 1)
}

// RecordSignInFailure increments the failed sign-in counter.
func (m *Metrics) RecordSignInFailure() {
	atomic.AddInt64(&m.signInFailures, 1)
}

// RecordTokenRefresh increments the token refresh counter.
func (m *Metrics) RecordTokenRefresh() {
	atomic.AddInt64(&m.tokenRefreshes, 1)
}

// RecordCredentialExchange increments the identity-pool exchange counter.
func (m *Metrics) RecordCredentialExchange() {
	atomic.AddInt64(&m.credentialExchanges, 1)
}

// RecordEvent increments the recorded events counter.
func (m *Metrics) RecordEvent() {
	atomic.AddInt64(&m.eventsRecorded, 1)
}

// RecordEventsFlushed adds n to the flushed events counter.
func (m *Metrics) RecordEventsFlushed(n int) {
	atomic.AddInt64(&m.eventsFlushed, int64(n))
}

// RecordEventsRetried adds n to the retried events counter.
func (m *Metrics) RecordEventsRetried(n int) {
	atomic.AddInt64(&m.eventsRetried, int64(n))
}

// RecordEventsDropped adds n to the dropped events counter.
func (m *Metrics) RecordEventsDropped(n int) {
	atomic.AddInt64(&m.eventsDropped, int64(n))
}

// RecordFlushTime accumulates time spent in a remote flush call.
func (m *Metrics) RecordFlushTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushTime += d
}

// Report is the point-in-time summary of everything counted.
type Report struct {
	StartTime           time.Time     `json:"startTime"`           // When counting began
	EndTime             time.Time     `json:"endTime"`             // When the report was generated
	SignInAttempts      int64         `json:"signInAttempts"`      // Sign-in attempts started
	SignInFailures      int64         `json:"signInFailures"`      // Sign-in attempts that failed
	TokenRefreshes      int64         `json:"tokenRefreshes"`      // Refresh round-trips
	CredentialExchanges int64         `json:"credentialExchanges"` // Identity-pool exchanges
	EventsRecorded      int64         `json:"eventsRecorded"`      // Events buffered
	EventsFlushed       int64         `json:"eventsFlushed"`       // Events delivered
	EventsRetried       int64         `json:"eventsRetried"`       // Events re-queued
	EventsDropped       int64         `json:"eventsDropped"`       // Events abandoned
	Duration            time.Duration `json:"duration"`            // Covered wall-clock span
	EventThroughput     float64       `json:"eventThroughput"`     // Delivered events per second
}

// GenerateReport snapshots the counters into a Report.
func (m *Metrics) GenerateReport() Report {
	endTime := time.Now()
	duration := endTime.Sub(m.startTime)

	var throughput float64
	if duration > 0 {
		throughput = float64(atomic.LoadInt64(&m.eventsFlushed)) / duration.Seconds()
	}

	return Report{
		StartTime:           m.startTime,
		EndTime:             endTime,
		SignInAttempts:      atomic.LoadInt64(&m.signInAttempts),
		SignInFailures:      atomic.LoadInt64(&m.signInFailures),
		TokenRefreshes:      atomic.LoadInt64(&m.tokenRefreshes),
		CredentialExchanges: atomic.LoadInt64(&m.credentialExchanges),
		EventsRecorded:      atomic.LoadInt64(&m.eventsRecorded),
		EventsFlushed:       atomic.LoadInt64(&m.eventsFlushed),
		EventsRetried:       atomic.LoadInt64(&m.eventsRetried),
		EventsDropped:       atomic.LoadInt64(&m.eventsDropped),
		Duration:            duration,
		EventThroughput:     throughput,
	}
}

// MarshalJSON formats the report with a human-readable duration string.
func (r Report) MarshalJSON() ([]byte, error) {
	type Alias Report
	return json.Marshal(&struct {
		Alias
		Duration string `json:"duration"`
	}{
		Alias:    Alias(r),
		Duration: r.Duration.String(),
	})
}

// String returns the console rendering of the report.
func (r Report) String() string {
	return fmt.Sprintf(
		"Run completed in %s\n"+
			"Sign-in attempts: %d (%d failed)\n"+
			"Token refreshes: %d, credential exchanges: %d\n"+
			"Events: %d recorded, %d flushed, %d retried, %d dropped\n"+
			"Event throughput: %.2f events/sec",
		r.Duration,
		r.SignInAttempts,
		r.SignInFailures,
		r.TokenRefreshes,
		r.CredentialExchanges,
		r.EventsRecorded,
		r.EventsFlushed,
		r.EventsRetried,
		r.EventsDropped,
		r.EventThroughput,
	)
}
