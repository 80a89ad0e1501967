package metrics

import (
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

func TestMetricsHappyPath(t *testing.T) {
	m := NewMetrics()

	m.RecordSignInAttempt()
	m.RecordSignInAttempt()
	m.RecordSignInFailure()
	m.RecordTokenRefresh()
	m.RecordCredentialExchange()
	m.RecordEvent()
	m.RecordEvent()
	m.RecordEvent()
	m.RecordEventsFlushed(2)
	m.RecordEventsRetried(1)
	m.RecordEventsDropped(1)
	m.RecordFlushTime(50 * time.Millisecond)

	time.Sleep(20 * time.Millisecond)

	report := m.GenerateReport()

	if report.SignInAttempts != 2 {
		t.Errorf("expected 2 sign-in attempts, got %d", report.SignInAttempts)
	}
	if report.SignInFailures != 1 {
		t.Errorf("expected 1 sign-in failure, got %d", report.SignInFailures)
	}
	if report.EventsRecorded != 3 {
		t.Errorf("expected 3 events recorded, got %d", report.EventsRecorded)
	}
	if report.EventsFlushed != 2 {
		t.Errorf("expected 2 events flushed, got %d", report.EventsFlushed)
	}
	if report.EventsRetried != 1 {
		t.Errorf("expected 1 event retried, got %d", report.EventsRetried)
	}
	if report.EventsDropped != 1 {
		t.Errorf("expected 1 event dropped, got %d", report.EventsDropped)
	}
	if report.Duration < 20*time.Millisecond {
		t.Errorf("expected duration >= 20ms, got %v", report.Duration)
	}
	if report.EventThroughput <= 0 {
		t.Errorf("expected positive throughput, got %f", report.EventThroughput)
	}

	str := report.String()
	if str == "" {
		t.Error("expected non-empty string representation")
	}
	if !strings.Contains(str, "Sign-in attempts: 2") {
		t.Errorf("unexpected report rendering: %s", str)
	}
}

func TestReportJSONDuration(t *testing.T) {
	r := Report{Duration: 90 * time.Second, EventsFlushed: 5}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("failed to marshal report: %v", err)
	}
	if !strings.Contains(string(data), `"duration":"1m30s"`) {
		t.Errorf("expected human-readable duration in JSON, got %s", data)
	}
	if !strings.Contains(string(data), `"eventsFlushed":5`) {
		t.Errorf("expected flushed count in JSON, got %s", data)
	}
}

func TestConcurrentCounters(t *testing.T) {
	m := NewMetrics()
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				m.RecordEvent()
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if got := m.GenerateReport().EventsRecorded; got != 800 {
		t.Errorf("expected 800 events recorded, got %d", got)
	}
}
