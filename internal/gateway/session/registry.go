package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/backoffice/pkg/idx"
	"github.com/aussiebroadwan/backoffice/pkg/slogx"
	"github.com/aussiebroadwan/backoffice/pkg/tokenmgr"
	"github.com/jonboulle/clockwork"
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Transport tokenmgr.Transport

	// Coordinator is the template for every coordinator the registry
	// creates. Its Clock and Logger default to the registry's.
	Coordinator tokenmgr.Config

	// IdleTTL is how long an unused coordinator is kept (default 1h).
	IdleTTL time.Duration

	// EndedTTL is how long an unused coordinator that was shut down or ran
	// out of retries is kept (default DefaultMaxAge). It must cover the
	// session cookie lifetime, or a stale cookie would get a fresh
	// coordinator after sign-out.
	EndedTTL time.Duration

	// Interval is the janitor period (default 5m).
	Interval time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger

	// OnSizeChange, when set, receives the number of live coordinators
	// after every change.
	OnSizeChange func(n int)
}

type entry struct {
	coord    *tokenmgr.Coordinator
	lastUsed time.Time
}

// Registry owns one token coordinator per session id. Coordinators are created
// on first use and swept once idle. A background janitor runs the sweep
// between Start and Stop.
type Registry struct {
	cfg    RegistryConfig
	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	entries map[idx.ID]*entry

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Hour
	}
	if cfg.EndedTTL <= 0 {
		cfg.EndedTTL = DefaultMaxAge
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slogx.Discard()
	}
	if cfg.Coordinator.Clock == nil {
		cfg.Coordinator.Clock = cfg.Clock
	}
	if cfg.Coordinator.Logger == nil {
		cfg.Coordinator.Logger = cfg.Logger
	}

	return &Registry{
		cfg:     cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		entries: make(map[idx.ID]*entry),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Get returns the coordinator for id, creating it if needed.
func (r *Registry) Get(id idx.ID) *tokenmgr.Coordinator {
	r.mu.Lock()

	if e, ok := r.entries[id]; ok {
		e.lastUsed = r.clock.Now()
		r.mu.Unlock()
		return e.coord
	}

	cfg := r.cfg.Coordinator
	cfg.Logger = cfg.Logger.With("sid", id.String())

	e := &entry{
		coord:    tokenmgr.NewCoordinator(r.cfg.Transport, cfg),
		lastUsed: r.clock.Now(),
	}
	r.entries[id] = e
	n := len(r.entries)
	r.mu.Unlock()

	r.sizeChanged(n)
	return e.coord
}

// Lookup returns the coordinator for id without creating one.
func (r *Registry) Lookup(id idx.ID) (*tokenmgr.Coordinator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	e.lastUsed = r.clock.Now()
	return e.coord, true
}

// Len returns the number of live coordinators.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops coordinators idle for longer than IdleTTL, or EndedTTL for
// coordinators that ended their session. A coordinator with a refresh in
// flight is kept regardless. It returns how many were dropped.
func (r *Registry) Sweep() int {
	now := r.clock.Now()

	r.mu.Lock()
	removed := 0
	for id, e := range r.entries {
		idle := now.Sub(e.lastUsed)
		if idle <= r.cfg.IdleTTL {
			continue
		}
		if e.coord.State().RefreshInFlight {
			continue
		}
		if e.coord.Ended() && idle <= r.cfg.EndedTTL {
			continue
		}
		delete(r.entries, id)
		removed++
	}
	n := len(r.entries)
	r.mu.Unlock()

	if removed > 0 {
		r.logger.Debug("swept idle token coordinators", "removed", removed, "remaining", n)
		r.sizeChanged(n)
	}
	return removed
}

// Start launches the janitor. Call Stop to end it.
func (r *Registry) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.run()
	r.logger.Info("session registry janitor started", "interval", r.cfg.Interval, "idle_ttl", r.cfg.IdleTTL)
}

// Stop ends the janitor and waits for it to exit. It is safe to call more
// than once, and without Start.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		started := r.started
		r.started = true
		r.mu.Unlock()

		close(r.stopCh)
		if started {
			<-r.doneCh
			r.logger.Info("session registry janitor stopped")
		}
	})
}

func (r *Registry) run() {
	defer close(r.doneCh)

	ticker := r.clock.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			r.Sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) sizeChanged(n int) {
	if r.cfg.OnSizeChange != nil {
		r.cfg.OnSizeChange(n)
	}
}
