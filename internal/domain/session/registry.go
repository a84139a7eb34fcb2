package session

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/interceptor/internal/shared/clock"
)

// DefaultTTL is how long a session may stay idle before the sweep evicts it
const DefaultTTL = 600 * time.Second

// RemoveReason tells removal hooks why a session left the registry
type RemoveReason string

const (
	ReasonDisconnect RemoveReason = "disconnect"
	ReasonExpired    RemoveReason = "expired"
	ReasonReplaced   RemoveReason = "replaced"
)

// RemoveHook observes sessions leaving the registry
type RemoveHook func(s Session, reason RemoveReason)

// Options configures a Registry
type Options struct {
	TTL time.Duration
}

type entry struct {
	mu      sync.Mutex
	session Session
	// removed is set once the entry is no longer reachable through the map
	removed bool
}

// Registry is the concurrent table of live sessions
type Registry struct {
	entries sync.Map // string -> *entry
	count   atomic.Int64

	recentMu sync.Mutex
	recent   string // Protected by recentMu; "" means none

	hooksMu sync.RWMutex
	hooks   []RemoveHook

	clock   clock.Clock
	log     *logging.Logger
	ttl     time.Duration
	metrics *monitoring.Metrics
}

// NewRegistry creates an empty registry
func NewRegistry(clk clock.Clock, log *logging.Logger, opts Options) *Registry {
	if clk == nil {
		clk = clock.Real()
	}
	if log == nil {
		log = logging.NewNop()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Registry{
		clock: clk,
		log:   log.Component("registry"),
		ttl:   opts.TTL,
	}
}

// WithMetrics adds metrics tracking to the registry
func (r *Registry) WithMetrics(metrics *monitoring.Metrics) *Registry {
	r.metrics = metrics
	return r
}

// OnRemove registers a hook run after every removal, outside all locks
func (r *Registry) OnRemove(hook RemoveHook) {
	r.hooksMu.Lock()
	defer r.hooksMu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// TTL returns the idle timeout
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// Insert stores s under id, replacing any previous session with that id,
// and makes id the most recent session
func (r *Registry) Insert(id string, s Session) {
	s.ID = id
	if s.LastActivity.IsZero() {
		s.LastActivity = r.clock.Now()
	}
	e := &entry{session: s}

	r.recentMu.Lock()
	prev, replaced := r.entries.Swap(id, e)
	r.recent = id
	r.recentMu.Unlock()

	if replaced {
		old := prev.(*entry)
		old.mu.Lock()
		old.removed = true
		snapshot := old.session.clone()
		old.mu.Unlock()
		r.log.Info("Session replaced", zap.String("session_id", id))
		r.runHooks(snapshot, ReasonReplaced)
		return
	}

	r.metrics.IncSessionsOpened()
	r.metrics.SetSessionsActive(int(r.count.Add(1)))
	r.log.Info("Session registered", zap.String("session_id", id))
}

// Remove deletes id. Removing an absent id is a no-op. It reports whether
// a session was removed.
func (r *Registry) Remove(id string) bool {
	return r.RemoveIf(id, nil)
}

// RemoveIf deletes id only if match is nil or reports true for the current
// session. A connection uses it to drop the session it registered without
// dropping a newer registration under the same id.
func (r *Registry) RemoveIf(id string, match func(s Session) bool) bool {
	r.recentMu.Lock()
	v, ok := r.entries.Load(id)
	if !ok {
		r.recentMu.Unlock()
		return false
	}
	e := v.(*entry)
	e.mu.Lock()
	if match != nil && !match(e.session) {
		e.mu.Unlock()
		r.recentMu.Unlock()
		return false
	}
	r.entries.CompareAndDelete(id, e)
	if r.recent == id {
		r.recent = ""
	}
	e.removed = true
	snapshot := e.session.clone()
	e.mu.Unlock()
	r.recentMu.Unlock()

	r.metrics.SetSessionsActive(int(r.count.Add(-1)))
	r.log.Info("Session removed", zap.String("session_id", id))
	r.runHooks(snapshot, ReasonDisconnect)
	return true
}

// WithMut runs fn with exclusive access to the session, refreshes its
// activity time and makes it the most recent session. It returns false when
// id is not registered, which callers treat as "the interceptor is gone".
// fn must not call back into the registry.
func (r *Registry) WithMut(id string, fn func(s *Session)) bool {
	e, ok := r.mutate(id, fn, true)
	if ok {
		r.markRecent(id, e)
	}
	return ok
}

// Update runs fn with exclusive access to the session without counting it
// as activity: neither the idle clock nor the most recent pointer moves.
func (r *Registry) Update(id string, fn func(s *Session)) bool {
	_, ok := r.mutate(id, fn, false)
	return ok
}

func (r *Registry) mutate(id string, fn func(s *Session), touch bool) (*entry, bool) {
	for {
		v, ok := r.entries.Load(id)
		if !ok {
			return nil, false
		}
		e := v.(*entry)

		e.mu.Lock()
		if e.removed {
			// Lost a race with Insert or Remove; look again
			e.mu.Unlock()
			continue
		}
		last := e.session.LastActivity
		fn(&e.session)
		e.session.ID = id
		if touch {
			e.session.LastActivity = r.clock.Now()
		} else {
			e.session.LastActivity = last
		}
		e.mu.Unlock()
		return e, true
	}
}

// IDs returns the ids of all registered sessions
func (r *Registry) IDs() []string {
	var ids []string
	r.entries.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	sort.Strings(ids)
	return ids
}

// Get returns a snapshot of the session
func (r *Registry) Get(id string) (Session, bool) {
	for {
		v, ok := r.entries.Load(id)
		if !ok {
			return Session{}, false
		}
		e := v.(*entry)

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		s := e.session.clone()
		e.mu.Unlock()
		return s, true
	}
}

// MostRecentID returns the id of the most recently active session
func (r *Registry) MostRecentID() (string, bool) {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()
	return r.recent, r.recent != ""
}

// MostRecent returns a snapshot of the most recently active session. It is
// best effort: the session may be removed right after the pointer is read.
func (r *Registry) MostRecent() (Session, bool) {
	id, ok := r.MostRecentID()
	if !ok {
		return Session{}, false
	}
	return r.Get(id)
}

// Resolve returns the session named by id, or the most recent one when id
// is empty
func (r *Registry) Resolve(id string) (Session, bool) {
	if id == "" {
		return r.MostRecent()
	}
	return r.Get(id)
}

// List returns snapshots of all sessions, most recently active first
func (r *Registry) List() []Session {
	var out []Session
	r.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		if !e.removed {
			out = append(out, e.session.clone())
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Run sweeps until ctx ends, sleeping until the next session is due
func (r *Registry) Run(ctx context.Context) error {
	r.log.Info("Session sweep started", zap.Duration("ttl", r.ttl))
	for {
		_, next := r.SweepOnce(r.clock.Now())
		select {
		case <-ctx.Done():
			r.log.Info("Session sweep stopped")
			return ctx.Err()
		case <-r.clock.After(next):
		}
	}
}

type candidate struct {
	id string
	e  *entry
}

// SweepOnce evicts every session idle for at least the TTL as of now. It
// returns the evicted ids and the time until the soonest remaining expiry,
// or a full TTL when nothing remains.
func (r *Registry) SweepOnce(now time.Time) (removed []string, next time.Duration) {
	next = r.ttl
	var due []candidate

	r.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		last, gone := e.session.LastActivity, e.removed
		e.mu.Unlock()
		if gone {
			return true
		}
		if remaining := r.ttl - now.Sub(last); remaining > 0 {
			next = min(next, remaining)
		} else {
			due = append(due, candidate{id: k.(string), e: e})
		}
		return true
	})

	for _, c := range due {
		r.recentMu.Lock()
		c.e.mu.Lock()
		// The session may have been touched since the scan
		if remaining := r.ttl - now.Sub(c.e.session.LastActivity); c.e.removed || remaining > 0 {
			if !c.e.removed {
				next = min(next, remaining)
			}
			c.e.mu.Unlock()
			r.recentMu.Unlock()
			continue
		}
		deleted := r.entries.CompareAndDelete(c.id, c.e)
		if deleted {
			c.e.removed = true
			if r.recent == c.id {
				r.recent = ""
			}
		}
		snapshot := c.e.session.clone()
		c.e.mu.Unlock()
		r.recentMu.Unlock()

		if !deleted {
			continue
		}
		removed = append(removed, c.id)
		r.metrics.SetSessionsActive(int(r.count.Add(-1)))
		r.log.Info("Session expired",
			zap.String("session_id", c.id),
			zap.Duration("idle", now.Sub(snapshot.LastActivity)))
		r.runHooks(snapshot, ReasonExpired)
	}

	if len(removed) > 0 {
		r.metrics.AddSessionsEvicted(len(removed))
	}
	return removed, next
}

// markRecent points the most-recent cell at id if e is still its entry
func (r *Registry) markRecent(id string, e *entry) {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()
	if v, ok := r.entries.Load(id); ok && v.(*entry) == e {
		r.recent = id
	}
}

func (r *Registry) runHooks(s Session, reason RemoveReason) {
	r.hooksMu.RLock()
	hooks := append([]RemoveHook(nil), r.hooks...)
	r.hooksMu.RUnlock()
	for _, h := range hooks {
		h(s, reason)
	}
}
