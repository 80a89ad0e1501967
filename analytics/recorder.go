package analytics

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/pinpoint"
	pptypes "github.com/aws/aws-sdk-go-v2/service/pinpoint/types"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"

	"github.com/asotjrs/amplify-go/aws"
	"github.com/asotjrs/amplify-go/config"
	"github.com/asotjrs/amplify-go/hub"
	"github.com/asotjrs/amplify-go/logging"
	"github.com/asotjrs/amplify-go/metrics"
)

// maxBuffered bounds the in-memory buffer. Once reached, Record rejects new
// events instead of growing without limit while the remote service is down.
const maxBuffered = 1000

// maxRetries bounds how many times one batch is retried before its events
// are dropped.
const maxRetries = 5

// Fallbacks for flush knobs left unset, matching the configuration defaults.
// They keep a hand-built AnalyticsConfig that skipped Validate from feeding
// the worker a zero ticker interval or a zero batch stride.
const (
	defaultFlushSize     = 100
	defaultFlushInterval = 30 * time.Second
)

// Recorder buffers analytics events and flushes them to the remote
// application in batches: when the buffer reaches the configured flush size,
// on a background interval, and on explicit Flush or Close.
//
// Example:
//
//	rec := analytics.NewRecorder(&cfg.Analytics, ppClient,
//	    analytics.WithLogger(logger),
//	)
//	defer rec.Close(ctx)
//	rec.Record(ctx, analytics.Event{Name: "screen_view"})
type Recorder struct {
	cfg        *config.AnalyticsConfig
	pp         aws.PinpointClient
	log        logging.Logger
	met        *metrics.Metrics
	events     *hub.Hub
	now        func() time.Time
	endpointID string

	// Resolved once at construction so every flush path sees positive values.
	flushSize     int
	flushInterval time.Duration

	mu     sync.Mutex
	buffer []Event
	closed bool

	kick    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger routes the recorder's log output.
func WithLogger(l logging.Logger) Option {
	return func(r *Recorder) { r.log = logging.OrNop(l) }
}

// WithMetrics shares a metrics registry with the recorder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Recorder) { r.met = m }
}

// WithHub publishes eventRecorded and eventsFlushed events on the analytics
// channel of the given hub.
func WithHub(h *hub.Hub) Option {
	return func(r *Recorder) { r.events = h }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithEndpointID pins the endpoint identity events are attributed to. Without
// it every Recorder generates a fresh one, which the remote service treats as
// a new anonymous device.
func WithEndpointID(id string) Option {
	return func(r *Recorder) { r.endpointID = id }
}

// NewRecorder builds the recorder and starts its background flush worker.
// Flush knobs left at zero or negative fall back to the configuration
// defaults, so a hand-built config is safe. Callers own the lifecycle and
// must Close it to drain the buffer.
func NewRecorder(cfg *config.AnalyticsConfig, pp aws.PinpointClient, opts ...Option) *Recorder {
	r := &Recorder{
		cfg:     cfg,
		pp:      pp,
		log:     logging.Nop(),
		now:     time.Now,
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.met == nil {
		r.met = metrics.NewMetrics()
	}
	if r.endpointID == "" {
		r.endpointID = uuid.NewString()
	}
	r.flushSize = cfg.FlushSize
	if r.flushSize <= 0 {
		r.flushSize = defaultFlushSize
	}
	r.flushInterval = time.Duration(cfg.FlushIntervalSeconds) * time.Second
	if r.flushInterval <= 0 {
		r.flushInterval = defaultFlushInterval
	}
	go r.worker()
	return r
}

// EndpointID returns the endpoint identity this recorder submits events
// under. The notifications category uses it to fetch messages for the same
// endpoint.
func (r *Recorder) EndpointID() string {
	return r.endpointID
}

// Record validates the event and accepts it into the buffer. The returned
// error is always local: remote failures surface from the flush path, not
// from Record.
func (r *Recorder) Record(ctx context.Context, e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = r.now()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return goerrors.New("recorder is closed", goerrors.CategoryOperation).
			WithTextCode(CodeRecorderClosed)
	}
	if len(r.buffer) >= maxBuffered {
		r.mu.Unlock()
		r.met.RecordEventsDropped(1)
		return goerrors.New("event buffer is full", goerrors.CategoryRateLimit).
			WithTextCode(CodeBufferFull)
	}
	r.buffer = append(r.buffer, e)
	size := len(r.buffer)
	r.mu.Unlock()

	r.met.RecordEvent()
	r.publish("eventRecorded", map[string]any{"name": e.Name, "id": e.ID})

	if size >= r.flushSize {
		// Nudge the worker; a pending nudge already covers this batch.
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush submits everything currently buffered and returns once the remote
// service has answered for every batch.
func (r *Recorder) Flush(ctx context.Context) error {
	return r.flush(ctx)
}

// Close stops the background worker, drains the buffer, and rejects any
// further Record calls. Closing twice is a no-op.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	<-r.stopped
	return r.flush(ctx)
}

// worker flushes on the configured interval and whenever Record reports the
// buffer crossed the flush size.
func (r *Recorder) worker() {
	defer close(r.stopped)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.flush(context.Background()); err != nil {
				r.log.Warn("interval flush: %v", err)
			}
		case <-r.kick:
			if err := r.flush(context.Background()); err != nil {
				r.log.Warn("size-triggered flush: %v", err)
			}
		case <-r.done:
			// Close performs the final flush with the caller's context.
			return
		}
	}
}

// flush swaps the buffer out and submits it in flush-size batches. Batches
// rejected for throttling back off and retry; events the service rejects
// individually are re-queued or dropped depending on their status code.
func (r *Recorder) flush(ctx context.Context) error {
	r.mu.Lock()
	pending := r.buffer
	r.buffer = nil
	r.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}

	var firstErr error
	flushed := 0
	for i := 0; i < len(pending); i += r.flushSize {
		end := i + r.flushSize
		if end > len(pending) {
			end = len(pending)
		}
		n, err := r.submitBatch(ctx, pending[i:end])
		flushed += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if flushed > 0 {
		r.publish("eventsFlushed", map[string]any{"count": flushed})
	}
	return firstErr
}

// submitBatch drives one batch to a terminal outcome: every event either
// acknowledged, or dropped after the retry budget. It returns how many
// events the service accepted.
func (r *Recorder) submitBatch(ctx context.Context, batch []Event) (int, error) {
	accepted := 0
	attempt := 0
	for {
		start := r.now()
		out, err := r.pp.PutEvents(ctx, r.putEventsInput(batch))
		r.met.RecordFlushTime(time.Since(start))

		if err != nil {
			if aws.IsThrottle(err) && attempt < maxRetries {
				r.met.RecordEventsRetried(len(batch))
				if !backoffWait(ctx, attempt) {
					r.met.RecordEventsDropped(len(batch))
					return accepted, ctx.Err()
				}
				attempt++
				continue
			}
			r.met.RecordEventsDropped(len(batch))
			return accepted, aws.NewServiceError("PutEvents", err)
		}

		ok, retry, dropped := r.splitResults(out, batch)
		accepted += ok
		r.met.RecordEventsFlushed(ok)
		if dropped > 0 {
			r.met.RecordEventsDropped(dropped)
		}
		if len(retry) == 0 {
			return accepted, nil
		}
		if attempt >= maxRetries {
			r.log.Warn("dropping %d events after %d retries", len(retry), maxRetries)
			r.met.RecordEventsDropped(len(retry))
			return accepted, nil
		}
		r.met.RecordEventsRetried(len(retry))
		if !backoffWait(ctx, attempt) {
			r.met.RecordEventsDropped(len(retry))
			return accepted, ctx.Err()
		}
		attempt++
		batch = retry
	}
}

// putEventsInput shapes one batch into the remote request, keyed by this
// recorder's endpoint.
func (r *Recorder) putEventsInput(batch []Event) *pinpoint.PutEventsInput {
	events := make(map[string]pptypes.Event, len(batch))
	for _, e := range batch {
		name := e.Name
		ts := e.Timestamp.UTC().Format(time.RFC3339)
		events[e.ID] = pptypes.Event{
			EventType:  &name,
			Timestamp:  &ts,
			Attributes: e.Attributes,
			Metrics:    e.Metrics,
		}
	}
	return &pinpoint.PutEventsInput{
		ApplicationId: &r.cfg.AppID,
		EventsRequest: &pptypes.EventsRequest{
			BatchItem: map[string]pptypes.EventsBatch{
				r.endpointID: {
					Endpoint: &pptypes.PublicEndpoint{},
					Events:   events,
				},
			},
		},
	}
}

// splitResults reads the per-event status codes out of a PutEvents response.
// Accepted events count as flushed; throttled or server-failed events are
// returned for retry; anything else the service rejected for cause is
// dropped.
func (r *Recorder) splitResults(out *pinpoint.PutEventsOutput, batch []Event) (accepted int, retry []Event, dropped int) {
	if out == nil || out.EventsResponse == nil {
		return len(batch), nil, 0
	}
	item, ok := out.EventsResponse.Results[r.endpointID]
	if !ok {
		return len(batch), nil, 0
	}
	for _, e := range batch {
		resp, ok := item.EventsItemResponse[e.ID]
		if !ok || resp.StatusCode == nil {
			accepted++
			continue
		}
		switch code := *resp.StatusCode; {
		case code < 300:
			accepted++
		case code == 429 || code >= 500:
			retry = append(retry, e)
		default:
			r.log.Warn("event %s rejected: %d %s", e.Name, code, strVal(resp.Message))
			dropped++
		}
	}
	return accepted, retry, dropped
}

// IdentifyUser attaches a user identity and profile to this recorder's
// endpoint, so subsequent events count against that user.
func (r *Recorder) IdentifyUser(ctx context.Context, userID string, profile *UserProfile) error {
	if userID == "" {
		return goerrors.New("user ID must not be empty", goerrors.CategoryValidation).
			WithTextCode(CodeEmptyUserID).
			WithCode(goerrors.CodeBadRequest)
	}

	req := &pptypes.EndpointRequest{
		User: &pptypes.EndpointUser{UserId: &userID},
	}
	if profile != nil {
		req.User.UserAttributes = profile.Attributes
		req.Metrics = profile.Metrics
		if loc := profile.Location; loc != nil {
			req.Location = &pptypes.EndpointLocation{}
			if loc.City != "" {
				req.Location.City = &loc.City
			}
			if loc.Country != "" {
				req.Location.Country = &loc.Country
			}
			if loc.PostalCode != "" {
				req.Location.PostalCode = &loc.PostalCode
			}
			if loc.Region != "" {
				req.Location.Region = &loc.Region
			}
		}
	}

	_, err := r.pp.UpdateEndpoint(ctx, &pinpoint.UpdateEndpointInput{
		ApplicationId:   &r.cfg.AppID,
		EndpointId:      &r.endpointID,
		EndpointRequest: req,
	})
	if err != nil {
		return aws.NewServiceError("UpdateEndpoint", err)
	}
	r.log.Debug("endpoint %s identified as user %s", r.endpointID, userID)
	return nil
}

func (r *Recorder) publish(name string, data map[string]any) {
	if r.events == nil {
		return
	}
	r.events.Publish(hub.ChannelAnalytics, hub.Event{Name: name, Data: data, Time: r.now()})
}

// backoffWait sleeps for an exponentially increasing duration with jitter.
// Returns false if the context is cancelled during the wait.
func backoffWait(ctx context.Context, attempt int) bool {
	base := 100 * time.Millisecond
	maxDelay := 30 * time.Second

	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}
	delay += time.Duration(rand.Int64N(int64(delay)))

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
