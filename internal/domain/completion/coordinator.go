package completion

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/protocol"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/shared/clock"
)

// Completion outcomes as recorded in metrics
const (
	OutcomeCacheHit     = "cache_hit"
	OutcomeRemote       = "remote"
	OutcomeSuperseded   = "superseded"
	OutcomeThrottled    = "throttled"
	OutcomeThrottledOut = "throttled_out"
	OutcomeError        = "error"
	OutcomeBreakerOpen  = "breaker_open"
	OutcomeEmpty        = "empty"
)

// Source tells where a suggestion came from
type Source string

const (
	SourceCache  Source = "cache"
	SourceRemote Source = "remote"
)

// BufferEvent is one edit-buffer change of a session
type BufferEvent struct {
	SessionID string
	Text      string
	Cursor    int
	Context   *protocol.ShellContext
}

// Suggestion is the text to show after the buffer it was computed for
type Suggestion struct {
	SessionID string
	Buffer    string
	Suffix    string
	Source    Source
}

// Deliver hands a suggestion to whoever is waiting for it
type Deliver func(ctx context.Context, s Suggestion) error

// Options configures a Coordinator
type Options struct {
	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
	// Tuning is consulted at the start of every cycle
	Tuning TuningSource
	// MaxAttempts bounds remote calls per cycle when throttled
	MaxAttempts int
	// RetryWindow is the minimum spacing between throttled attempts
	RetryWindow time.Duration
}

// ticket marks one event; identity, not time, decides supersession
type ticket struct {
	at time.Time
}

// Coordinator debounces buffer changes into remote completion requests
type Coordinator struct {
	client  Client
	cache   *Cache
	history *History

	clock       clock.Clock
	log         *logging.Logger
	metrics     *monitoring.Metrics
	tuning      TuningSource
	maxAttempts int
	retryWindow time.Duration

	mu     sync.Mutex
	latest map[string]*ticket // Protected by mu
}

// NewCoordinator creates a coordinator. cache and history may be shared with
// other components.
func NewCoordinator(client Client, cache *Cache, history *History, opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Tuning == nil {
		opts.Tuning = LoadTuning
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryWindow <= 0 {
		opts.RetryWindow = 2 * time.Second
	}
	if cache == nil {
		cache = NewCache(0)
	}
	if history == nil {
		history = NewHistory(0)
	}
	return &Coordinator{
		client:      client,
		cache:       cache,
		history:     history,
		clock:       opts.Clock,
		log:         opts.Logger.Component("completion"),
		metrics:     opts.Metrics,
		tuning:      opts.Tuning,
		maxAttempts: opts.MaxAttempts,
		retryWindow: opts.RetryWindow,
		latest:      make(map[string]*ticket),
	}
}

// Cache returns the coordinator's prefix cache
func (c *Coordinator) Cache() *Cache {
	return c.cache
}

// History returns the coordinator's command history
func (c *Coordinator) History() *History {
	return c.history
}

// Cycle is one completion attempt for a buffer event. Its debounce ticket
// is taken when the cycle begins, so cycles begun in event order supersede
// each other in event order no matter how their goroutines are scheduled.
type Cycle struct {
	c      *Coordinator
	ev     BufferEvent
	tuning Tuning
	tok    *ticket
}

// Begin takes the debounce ticket for ev. Call it in the order events
// arrive, then run the cycle on its own goroutine.
func (c *Coordinator) Begin(ev BufferEvent) *Cycle {
	return &Cycle{c: c, ev: ev, tuning: c.tuning(), tok: c.bump(ev.SessionID)}
}

// Handle runs one cycle for ev and passes any suggestion to deliver
func (c *Coordinator) Handle(ctx context.Context, ev BufferEvent, deliver Deliver) {
	c.Begin(ev).Handle(ctx, deliver)
}

// Suggest runs one cycle for ev
func (c *Coordinator) Suggest(ctx context.Context, ev BufferEvent) (Suggestion, bool) {
	return c.Begin(ev).Suggest(ctx)
}

// Handle runs the cycle and passes any suggestion to deliver. A failed
// delivery only means the user moved on; it is logged and dropped.
func (cy *Cycle) Handle(ctx context.Context, deliver Deliver) {
	s, ok := cy.Suggest(ctx)
	if !ok {
		return
	}
	if err := deliver(ctx, s); err != nil {
		cy.c.log.Debug("Suggestion not delivered",
			zap.String("session_id", cy.ev.SessionID),
			zap.Error(err))
	}
}

// Suggest runs the cycle. It returns false when there is nothing to
// suggest, including when a newer event for the same session superseded it.
func (cy *Cycle) Suggest(ctx context.Context) (Suggestion, bool) {
	c, ev, tuning, tok := cy.c, cy.ev, cy.tuning, cy.tok

	// Ghost text only makes sense after the last typed character
	if ev.Text == "" || ev.Cursor != utf8.RuneCountInString(ev.Text) {
		return Suggestion{}, false
	}

	if !tuning.DisableCache {
		if suffix, ok := c.cache.Lookup(ev.Text); ok {
			c.metrics.RecordCompletion(OutcomeCacheHit)
			return Suggestion{SessionID: ev.SessionID, Buffer: ev.Text, Suffix: suffix, Source: SourceCache}, true
		}
	}

	select {
	case <-ctx.Done():
		return Suggestion{}, false
	case <-c.clock.After(tuning.Debounce()):
	}
	if !c.current(ev.SessionID, tok) {
		c.metrics.RecordCompletion(OutcomeSuperseded)
		return Suggestion{}, false
	}

	req := Request{
		SessionID: ev.SessionID,
		Buffer:    ev.Text,
		Cursor:    ev.Cursor,
		History:   c.history.Recent(tuning.HistoryCount),
		Context:   ev.Context,
	}
	resp, err := c.request(ctx, req)
	if err != nil {
		c.recordFailure(ev.SessionID, err)
		return Suggestion{}, false
	}

	var top *Candidate
	for i := range resp.Candidates {
		cand := &resp.Candidates[i]
		if cand.Text == "" {
			continue
		}
		c.cache.Insert(ev.Text+cand.Text, 1)
		if top == nil {
			top = cand
		}
	}

	if !c.current(ev.SessionID, tok) {
		c.metrics.RecordCompletion(OutcomeSuperseded)
		return Suggestion{}, false
	}
	if top == nil {
		c.metrics.RecordCompletion(OutcomeEmpty)
		return Suggestion{}, false
	}
	c.metrics.RecordCompletion(OutcomeRemote)
	return Suggestion{SessionID: ev.SessionID, Buffer: ev.Text, Suffix: top.Text, Source: SourceRemote}, true
}

// Forget drops the debounce state of a session that went away
func (c *Coordinator) Forget(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.latest, sessionID)
}

// request calls the backend, pausing and retrying throttled attempts so
// that attempts start at least one retry window apart
func (c *Coordinator) request(ctx context.Context, req Request) (Response, error) {
	for attempt := 1; ; attempt++ {
		started := c.clock.Now()
		resp, err := c.client.Complete(ctx, req)
		c.metrics.ObserveCompletionLatency(c.clock.Now().Sub(started))
		if err == nil {
			return resp, nil
		}
		if !IsThrottled(err) || attempt >= c.maxAttempts {
			return Response{}, err
		}

		c.metrics.RecordCompletion(OutcomeThrottled)
		if wait := c.retryWindow - c.clock.Now().Sub(started); wait > 0 {
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-c.clock.After(wait):
			}
		}
	}
}

func (c *Coordinator) recordFailure(sessionID string, err error) {
	switch {
	case IsThrottled(err):
		c.metrics.RecordCompletion(OutcomeThrottledOut)
		c.log.Debug("Completion throttled, giving up", zap.String("session_id", sessionID))
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		c.metrics.RecordCompletion(OutcomeBreakerOpen)
		c.log.Debug("Completion backend unavailable", zap.String("session_id", sessionID), zap.Error(err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.log.Debug("Completion cancelled", zap.String("session_id", sessionID))
	default:
		c.metrics.RecordCompletion(OutcomeError)
		c.log.Warn("Completion request failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// bump records a new latest event for the session and returns its ticket
func (c *Coordinator) bump(sessionID string) *ticket {
	tok := &ticket{at: c.clock.Now()}
	c.mu.Lock()
	c.latest[sessionID] = tok
	c.mu.Unlock()
	return tok
}

func (c *Coordinator) current(sessionID string, tok *ticket) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latest[sessionID] == tok
}
