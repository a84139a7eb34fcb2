package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/domain/session"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/shared/clock"
)

// ContinuationGate is the longest gap that still extends a usage window
const ContinuationGate = 5 * time.Second

// Activity is what an observed event counts as
type Activity int

const (
	ActivityEvent Activity = iota
	ActivityInsertion
	ActivityPopup
)

// MetricsTracker keeps per-session usage windows in the registry
type MetricsTracker struct {
	reg     *session.Registry
	emit    func(UsageRecord)
	clock   clock.Clock
	gate    time.Duration
	log     *logging.Logger
	metrics *monitoring.Metrics
}

// NewMetricsTracker creates a tracker that hands closed windows to emit
func NewMetricsTracker(reg *session.Registry, clk clock.Clock, log *logging.Logger, emit func(UsageRecord)) *MetricsTracker {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logging.NewNop()
	}
	if emit == nil {
		emit = func(UsageRecord) {}
	}
	return &MetricsTracker{
		reg:   reg,
		emit:  emit,
		clock: clk,
		gate:  ContinuationGate,
		log:   log.Component("usage"),
	}
}

// WithMetrics adds metrics tracking to the tracker
func (m *MetricsTracker) WithMetrics(metrics *monitoring.Metrics) *MetricsTracker {
	m.metrics = metrics
	return m
}

// Observe records an event of the session at the given time. An event more
// than the gate after the current window's end closes that window, which is
// emitted, and starts a new one. It reports whether the session exists.
// Observing never counts as session activity; callers touch the session
// themselves when the event came from its terminal.
func (m *MetricsTracker) Observe(sessionID string, at time.Time, activity Activity) bool {
	var closed *UsageRecord
	found := m.reg.Update(sessionID, func(s *session.Session) {
		if s.Metrics != nil && at.Sub(s.Metrics.End) > m.gate {
			rec := record(sessionID, s.Metrics)
			closed = &rec
			s.Metrics = nil
		}
		if s.Metrics == nil {
			s.Metrics = &session.MetricsWindow{Start: at, End: at}
		}
		w := s.Metrics
		if at.After(w.End) {
			w.End = at
		}
		switch activity {
		case ActivityInsertion:
			w.Insertions++
		case ActivityPopup:
			w.Popups++
		}
	})
	if closed != nil {
		m.publish(*closed)
	}
	return found
}

// FlushIdle closes every window whose gate has passed as of now. It does
// not count as session activity.
func (m *MetricsTracker) FlushIdle(now time.Time) int {
	flushed := 0
	for _, id := range m.reg.IDs() {
		var closed *UsageRecord
		m.reg.Update(id, func(s *session.Session) {
			if s.Metrics != nil && now.Sub(s.Metrics.End) > m.gate {
				rec := record(id, s.Metrics)
				closed = &rec
				s.Metrics = nil
			}
		})
		if closed != nil {
			m.publish(*closed)
			flushed++
		}
	}
	return flushed
}

// Flush emits the open window of a session leaving the registry
func (m *MetricsTracker) Flush(s session.Session) {
	if s.Metrics != nil {
		m.publish(record(s.ID, s.Metrics))
	}
}

// Run closes idle windows once per gate until ctx ends
func (m *MetricsTracker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(m.gate):
			m.FlushIdle(m.clock.Now())
		}
	}
}

func (m *MetricsTracker) publish(rec UsageRecord) {
	m.metrics.IncUsageWindows()
	m.log.Debug("Usage window closed",
		zap.String("session_id", rec.SessionID),
		zap.Duration("duration", rec.Duration),
		zap.Int("insertions", rec.Insertions),
		zap.Int("popups", rec.Popups))
	m.emit(rec)
}

func record(sessionID string, w *session.MetricsWindow) UsageRecord {
	return UsageRecord{
		SessionID:  sessionID,
		Start:      w.Start,
		End:        w.End,
		Duration:   w.End.Sub(w.Start),
		Insertions: w.Insertions,
		Popups:     w.Popups,
	}
}
