package page

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/storefront/internal/loop"
	"github.com/utafrali/storefront/internal/view"
)

// DefaultIdleTimeout is how long an untouched page stays live.
const DefaultIdleTimeout = 30 * time.Minute

// Registry keeps one live page per session. A full page load replaces the
// session's page with a freshly hydrated one.
//
// Loads of one session are serialized: the replaced page is closed before
// its successor hydrates, so every write accepted by the old page is in the
// slot store by then, and a write that arrives later fails instead of being
// lost.
type Registry struct {
	deps    Deps
	idle    time.Duration
	logger  *slog.Logger
	nowFunc func() time.Time

	mu       sync.Mutex
	pages    map[string]*Page
	sessions map[string]*sessionLock

	active prometheus.Gauge
	opened *prometheus.CounterVec
}

// NewRegistry creates an empty registry. reg receives the page metrics.
func NewRegistry(deps Deps, idleTimeout time.Duration, reg prometheus.Registerer) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if deps.Clock == nil {
		deps.Clock = loop.RealClock()
	}
	f := promauto.With(reg)
	return &Registry{
		deps:     deps,
		idle:     idleTimeout,
		logger:   deps.Logger,
		nowFunc:  deps.Clock.Now,
		pages:    make(map[string]*Page),
		sessions: make(map[string]*sessionLock),
		active: f.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_active_pages",
			Help: "Live pages held in memory",
		}),
		opened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_page_loads_total",
			Help: "Full page loads by page flavor",
		}, []string{"page"}),
	}
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// lockSession serializes page replacement for one session. The returned
// func releases the lock.
func (r *Registry) lockSession(sessionID string) func() {
	r.mu.Lock()
	l, ok := r.sessions[sessionID]
	if !ok {
		l = &sessionLock{}
		r.sessions[sessionID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()
	}
}

// Load handles a full page load: it closes the session's current page,
// opens a new one and carries visible notifications and the consent popup
// timeline over.
func (r *Registry) Load(ctx context.Context, sessionID string, flavor view.Flavor) (*Page, error) {
	unlock := r.lockSession(sessionID)
	defer unlock()
	return r.load(ctx, sessionID, flavor)
}

// Get returns the live page of the session, loading a home page when the
// session has none. It waits for a load of the same session in progress.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Page, error) {
	unlock := r.lockSession(sessionID)
	defer unlock()

	if p, ok := r.Lookup(sessionID); ok {
		return p, nil
	}
	return r.load(ctx, sessionID, view.FlavorHome)
}

// load must be called with the session lock held.
func (r *Registry) load(ctx context.Context, sessionID string, flavor view.Flavor) (*Page, error) {
	var inherited carry
	old, ok := r.Lookup(sessionID)
	if ok {
		inherited = old.retire()
	}

	p, err := Open(ctx, sessionID, flavor, r.deps)
	if err != nil {
		if ok {
			r.remove(sessionID, old)
		}
		return nil, err
	}
	r.opened.WithLabelValues(string(flavor)).Inc()

	if ok {
		if err := p.adopt(ctx, inherited); err != nil {
			r.logger.WarnContext(ctx, "failed to carry page state over", slog.String("error", err.Error()))
		}
	}

	r.mu.Lock()
	r.pages[sessionID] = p
	r.active.Set(float64(len(r.pages)))
	r.mu.Unlock()
	return p, nil
}

// remove drops p if it is still the session's page.
func (r *Registry) remove(sessionID string, p *Page) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pages[sessionID] == p {
		delete(r.pages, sessionID)
		r.active.Set(float64(len(r.pages)))
	}
}

// Lookup returns the live page of the session without creating one.
func (r *Registry) Lookup(sessionID string) (*Page, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pages[sessionID]
	return p, ok
}

// Len is the number of live pages.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pages)
}

// Sweep closes pages idle for longer than the idle timeout and reports how
// many were evicted.
func (r *Registry) Sweep() int {
	cutoff := r.nowFunc().Add(-r.idle)

	r.mu.Lock()
	var stale []*Page
	for id, p := range r.pages {
		if p.LastSeen().Before(cutoff) {
			stale = append(stale, p)
			delete(r.pages, id)
		}
	}
	r.active.Set(float64(len(r.pages)))
	r.mu.Unlock()

	for _, p := range stale {
		p.Close()
	}
	if len(stale) > 0 {
		r.logger.Info("evicted idle pages", slog.Int("count", len(stale)))
	}
	return len(stale)
}

// Run sweeps idle pages until ctx is cancelled, then closes every page.
func (r *Registry) Run(ctx context.Context) error {
	interval := r.idle / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return nil
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close closes every live page.
func (r *Registry) Close() {
	r.mu.Lock()
	pages := r.pages
	r.pages = make(map[string]*Page)
	r.active.Set(0)
	r.mu.Unlock()

	for _, p := range pages {
		p.Close()
	}
}
