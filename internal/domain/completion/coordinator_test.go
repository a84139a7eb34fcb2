package completion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/shared/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// scriptedClient answers calls from a queue of results
type scriptedClient struct {
	mu      sync.Mutex
	calls   []Request
	results []result
	// advance moves the fake clock forward inside each call
	clk     *clock.Fake
	advance time.Duration
}

type result struct {
	resp Response
	err  error
}

func (c *scriptedClient) Complete(_ context.Context, req Request) (Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	var r result
	if len(c.results) > 0 {
		r = c.results[0]
		c.results = c.results[1:]
	}
	c.mu.Unlock()
	if c.clk != nil && c.advance > 0 {
		c.clk.Advance(c.advance)
	}
	return r.resp, r.err
}

func (c *scriptedClient) Calls() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Request(nil), c.calls...)
}

func candidates(texts ...string) result {
	var resp Response
	for _, t := range texts {
		resp.Candidates = append(resp.Candidates, Candidate{Text: t})
	}
	return result{resp: resp}
}

func newCoordinator(client Client, clk clock.Clock, tuning Tuning) *Coordinator {
	return NewCoordinator(client, NewCache(0), NewHistory(10), Options{
		Clock:  clk,
		Tuning: Fixed(tuning),
	})
}

type outcome struct {
	s  Suggestion
	ok bool
}

func suggestAsync(c *Coordinator, ev BufferEvent) <-chan outcome {
	ch := make(chan outcome, 1)
	go func() {
		s, ok := c.Suggest(context.Background(), ev)
		ch <- outcome{s, ok}
	}()
	return ch
}

func receive(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("completion cycle did not finish")
		return outcome{}
	}
}

func event(session, text string) BufferEvent {
	return BufferEvent{SessionID: session, Text: text, Cursor: len([]rune(text))}
}

func TestDebounceOnlyLatestEventCallsRemote(t *testing.T) {
	clk := clock.NewFake(epoch)
	client := &scriptedClient{results: []result{candidates("t status")}}
	c := newCoordinator(client, clk, Tuning{DebounceMs: 300})

	first := suggestAsync(c, event("s1", "g"))
	clk.WaitForTimers(1)
	clk.Advance(50 * time.Millisecond)

	second := suggestAsync(c, event("s1", "gi"))
	clk.WaitForTimers(2)

	clk.Advance(250 * time.Millisecond)
	o := receive(t, first)
	assert.False(t, o.ok, "superseded event aborts silently")
	assert.Empty(t, client.Calls())

	clk.Advance(50 * time.Millisecond)
	o = receive(t, second)
	require.True(t, o.ok)
	assert.Equal(t, "t status", o.s.Suffix)
	assert.Equal(t, SourceRemote, o.s.Source)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "gi", calls[0].Buffer)
}

func TestBeginOrderDecidesSupersession(t *testing.T) {
	clk := clock.NewFake(epoch)
	client := &scriptedClient{results: []result{candidates(" status")}}
	c := newCoordinator(client, clk, Tuning{DebounceMs: 300})

	older := c.Begin(event("s1", "gi"))
	newer := c.Begin(event("s1", "git"))

	// Run the newer cycle first, the way a scheduler may
	second := make(chan outcome, 1)
	go func() {
		s, ok := newer.Suggest(context.Background())
		second <- outcome{s, ok}
	}()
	clk.WaitForTimers(1)
	first := make(chan outcome, 1)
	go func() {
		s, ok := older.Suggest(context.Background())
		first <- outcome{s, ok}
	}()
	clk.WaitForTimers(2)
	clk.Advance(300 * time.Millisecond)

	assert.False(t, receive(t, first).ok)
	o := receive(t, second)
	require.True(t, o.ok)
	assert.Equal(t, "git", o.s.Buffer)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "git", calls[0].Buffer)
}

func TestDebounceIsPerSession(t *testing.T) {
	clk := clock.NewFake(epoch)
	client := &scriptedClient{results: []result{candidates("s"), candidates("d")}}
	c := newCoordinator(client, clk, Tuning{DebounceMs: 300})

	a := suggestAsync(c, event("s1", "l"))
	b := suggestAsync(c, event("s2", "c"))
	clk.WaitForTimers(2)
	clk.Advance(300 * time.Millisecond)

	assert.True(t, receive(t, a).ok)
	assert.True(t, receive(t, b).ok)
	assert.Len(t, client.Calls(), 2)
}

func TestCacheShortCircuitSkipsRemote(t *testing.T) {
	clk := clock.NewFake(epoch)
	client := &scriptedClient{results: []result{candidates("t status")}}
	c := newCoordinator(client, clk, Tuning{DebounceMs: 0})

	s, ok := c.Suggest(context.Background(), event("s1", "gi"))
	require.True(t, ok)
	assert.Equal(t, "t status", s.Suffix)

	// No timer is armed: a cache hit answers without debouncing
	s, ok = c.Suggest(context.Background(), event("s1", "git"))
	require.True(t, ok)
	assert.Equal(t, " status", s.Suffix)
	assert.Equal(t, SourceCache, s.Source)
	assert.Len(t, client.Calls(), 1)
}

func TestCacheDisabledByTuning(t *testing.T) {
	clk := clock.NewFake(epoch)
	client := &scriptedClient{results: []result{candidates("t status"), candidates(" stash")}}
	c := newCoordinator(client, clk, Tuning{DisableCache: true})

	_, ok := c.Suggest(context.Background(), event("s1", "gi"))
	require.True(t, ok)

	s, ok := c.Suggest(context.Background(), event("s1", "git"))
	require.True(t, ok)
	assert.Equal(t, " stash", s.Suffix)
	assert.Len(t, client.Calls(), 2)
}

func TestTuningReadEveryCycle(t *testing.T) {
	clk := clock.NewFake(epoch)
	client := &scriptedClient{results: []result{candidates("a"), candidates("b")}}
	tuning := Tuning{DebounceMs: 0, HistoryCount: 1}
	var mu sync.Mutex
	c := NewCoordinator(client, nil, nil, Options{
		Clock: clk,
		Tuning: func() Tuning {
			mu.Lock()
			defer mu.Unlock()
			return tuning
		},
	})
	c.History().Add("one")
	c.History().Add("two")

	c.Suggest(context.Background(), event("s1", "x"))
	mu.Lock()
	tuning.HistoryCount = 2
	mu.Unlock()
	c.Suggest(context.Background(), event("s1", "y"))

	calls := client.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"two"}, calls[0].History)
	assert.Equal(t, []string{"two", "one"}, calls[1].History)
}

func TestThrottledRequestsRetryAfterWindow(t *testing.T) {
	clk := clock.NewFake(epoch)
	client := &scriptedClient{
		results: []result{{err: ErrThrottled}, {err: ErrThrottled}, candidates("o")},
		clk:     clk,
		advance: 500 * time.Millisecond,
	}
	c := newCoordinator(client, clk, Tuning{})

	done := suggestAsync(c, event("s1", "ech"))

	for range 2 {
		clk.WaitForTimers(1)
		clk.Advance(1499 * time.Millisecond)
		assert.Equal(t, 1, clk.PendingCount(), "waits out the rest of the window")
		clk.Advance(time.Millisecond)
	}

	o := receive(t, done)
	require.True(t, o.ok)
	assert.Equal(t, "o", o.s.Suffix)
	assert.Len(t, client.Calls(), 3)
}

func TestThrottledGivesUpAfterMaxAttempts(t *testing.T) {
	clk := clock.NewFake(epoch)
	client := &scriptedClient{results: []result{{err: ErrThrottled}, {err: ErrThrottled}, {err: ErrThrottled}}}
	m := monitoring.NewMetrics(prometheus.NewRegistry())
	c := NewCoordinator(client, nil, nil, Options{Clock: clk, Tuning: Fixed(Tuning{}), Metrics: m})

	done := suggestAsync(c, event("s1", "ech"))
	for range 2 {
		clk.WaitForTimers(1)
		clk.Advance(2 * time.Second)
	}

	o := receive(t, done)
	assert.False(t, o.ok)
	assert.Len(t, client.Calls(), 3)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CompletionOutcomes.WithLabelValues(OutcomeThrottled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompletionOutcomes.WithLabelValues(OutcomeThrottledOut)))
}

func TestOtherFailuresAreNotRetried(t *testing.T) {
	clk := clock.NewFake(epoch)
	client := &scriptedClient{results: []result{{err: errors.New("boom")}}}
	c := newCoordinator(client, clk, Tuning{})

	_, ok := c.Suggest(context.Background(), event("s1", "ls"))
	assert.False(t, ok)
	assert.Len(t, client.Calls(), 1)
}

func TestOpenBreakerMeansNoSuggestion(t *testing.T) {
	clk := clock.NewFake(epoch)
	m := monitoring.NewMetrics(prometheus.NewRegistry())
	client := ClientFunc(func(context.Context, Request) (Response, error) {
		return Response{}, resilience.ErrCircuitOpen
	})
	c := NewCoordinator(client, nil, nil, Options{Clock: clk, Tuning: Fixed(Tuning{}), Metrics: m})

	_, ok := c.Suggest(context.Background(), event("s1", "ls"))
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CompletionOutcomes.WithLabelValues(OutcomeBreakerOpen)))
}

func TestEveryCandidateIsCached(t *testing.T) {
	clk := clock.NewFake(epoch)
	client := &scriptedClient{results: []result{candidates("", "ke", "ke test")}}
	c := newCoordinator(client, clk, Tuning{})

	s, ok := c.Suggest(context.Background(), event("s1", "ma"))
	require.True(t, ok)
	assert.Equal(t, "ke", s.Suffix, "first non-empty candidate is the top one")
	assert.Equal(t, 2, c.Cache().Len())

	suffix, ok := c.Cache().Lookup("make")
	require.True(t, ok)
	assert.Equal(t, " test", suffix)
}

func TestSkipsEmptyBufferAndMidLineCursor(t *testing.T) {
	clk := clock.NewFake(epoch)
	client := &scriptedClient{}
	c := newCoordinator(client, clk, Tuning{})

	_, ok := c.Suggest(context.Background(), event("s1", ""))
	assert.False(t, ok)

	_, ok = c.Suggest(context.Background(), BufferEvent{SessionID: "s1", Text: "git", Cursor: 1})
	assert.False(t, ok)
	assert.Empty(t, client.Calls())
}

func TestResultDiscardedWhenSupersededInFlight(t *testing.T) {
	clk := clock.NewFake(epoch)
	var c *Coordinator
	client := ClientFunc(func(ctx context.Context, req Request) (Response, error) {
		if req.Buffer == "do" {
			// The user keeps typing while the request is in flight
			c.bump(req.SessionID)
		}
		return candidates("ne").resp, nil
	})
	c = newCoordinator(client, clk, Tuning{})

	_, ok := c.Suggest(context.Background(), event("s1", "do"))
	assert.False(t, ok)

	suffix, ok := c.Cache().Lookup("do")
	assert.True(t, ok, "candidates are cached even when the result is discarded")
	assert.Equal(t, "ne", suffix)
}

func TestHandleDeliversAndSwallowsDeliveryErrors(t *testing.T) {
	clk := clock.NewFake(epoch)
	client := &scriptedClient{results: []result{candidates("s"), candidates("s")}}
	c := newCoordinator(client, clk, Tuning{DisableCache: true})

	var got []Suggestion
	c.Handle(context.Background(), event("s1", "l"), func(_ context.Context, s Suggestion) error {
		got = append(got, s)
		return nil
	})
	require.Len(t, got, 1)
	assert.Equal(t, Suggestion{SessionID: "s1", Buffer: "l", Suffix: "s", Source: SourceRemote}, got[0])

	assert.NotPanics(t, func() {
		c.Handle(context.Background(), event("s1", "l"), func(context.Context, Suggestion) error {
			return errors.New("caller moved on")
		})
	})
}

func TestCancelledContextStopsDebounce(t *testing.T) {
	clk := clock.NewFake(epoch)
	client := &scriptedClient{}
	c := newCoordinator(client, clk, Tuning{DebounceMs: 300})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := c.Suggest(ctx, event("s1", "ls"))
	assert.False(t, ok)
	assert.Empty(t, client.Calls())
}

func TestForgetDropsSessionState(t *testing.T) {
	c := newCoordinator(&scriptedClient{}, clock.NewFake(epoch), Tuning{})
	c.bump("s1")
	c.Forget("s1")

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.NotContains(t, c.latest, "s1")
}
