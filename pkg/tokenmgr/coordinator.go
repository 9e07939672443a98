package tokenmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aussiebroadwan/backoffice/pkg/cryptox"
	"github.com/aussiebroadwan/backoffice/pkg/idx"
	"github.com/aussiebroadwan/backoffice/pkg/jwtx"
	"github.com/aussiebroadwan/backoffice/pkg/slogx"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrRetriesExhausted is attached to terminal results produced without a
	// transport call because an earlier attempt already hit the limit.
	ErrRetriesExhausted = errors.New("tokenmgr: refresh retries exhausted")

	// ErrTransportPanic wraps a panic recovered from the transport.
	ErrTransportPanic = errors.New("tokenmgr: transport panicked")

	errFlightGone = errors.New("tokenmgr: refresh flight no longer tracked")
)

// Config tunes a Coordinator. Zero values take the package defaults.
type Config struct {
	// Cooldown is the minimum time between the starts of two attempts.
	Cooldown time.Duration

	// MaxRetries is the number of consecutive failures after which the
	// coordinator reports a terminal error instead of retrying.
	MaxRetries int

	// BaseBackoff and MaxBackoff shape the rate-limit wait:
	// min(BaseBackoff * 2^retryCount, MaxBackoff).
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// Timeout bounds a single transport call. Zero means no bound, in which
	// case a call that never returns is only recoverable with
	// ClearStuckRefresh.
	Timeout time.Duration

	Clock    clockwork.Clock
	Logger   *slog.Logger
	Observer Observer
}

func (cfg Config) withDefaults() Config {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slogx.Discard()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver()
	}
	return cfg
}

// State is a read-only snapshot of a coordinator for diagnostics.
type State struct {
	RefreshInFlight      bool      `json:"refreshInFlight"`
	InFlightSince        time.Time `json:"inFlightSince"`
	LastRefreshAttemptAt time.Time `json:"lastRefreshAttemptAt"`
	RetryCount           int       `json:"retryCount"`
	ShuttingDown         bool      `json:"isShuttingDown"`
}

// flight is the single in-flight refresh slot. Its key names the
// singleflight call that every waiter attaches to.
type flight struct {
	key       string
	startedAt time.Time
}

// Coordinator serializes refresh attempts for one session. It is safe for
// concurrent use.
type Coordinator struct {
	transport Transport
	cfg       Config
	clock     clockwork.Clock
	logger    *slog.Logger
	observer  Observer

	flights singleflight.Group

	mu            sync.Mutex
	inFlight      *flight
	lastAttemptAt time.Time
	retryCount    int
	shuttingDown  bool
}

// NewCoordinator creates an active coordinator around transport.
func NewCoordinator(transport Transport, cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	return &Coordinator{
		transport: transport,
		cfg:       cfg,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		observer:  cfg.Observer,
	}
}

// Refresh tries to exchange current's refresh token for a new access token.
// See the package documentation for the possible outcomes. Cancelling ctx
// only stops this caller from waiting; the transport call itself runs
// detached and its outcome still lands in the coordinator state.
func (c *Coordinator) Refresh(ctx context.Context, current SessionToken) Result {
	c.mu.Lock()

	if c.shuttingDown {
		c.mu.Unlock()
		c.observer.RefreshSkipped(OutcomeShuttingDown)
		return Result{Token: current.WithError(ErrorKindShuttingDown), Outcome: OutcomeShuttingDown}
	}

	if c.retryCount >= c.cfg.MaxRetries {
		c.mu.Unlock()
		c.observer.RefreshSkipped(OutcomeTerminal)
		return Result{
			Token:   current.WithError(ErrorKindRefreshAccessToken),
			Outcome: OutcomeTerminal,
			Err:     ErrRetriesExhausted,
		}
	}

	now := c.clock.Now()
	if left := CooldownRemaining(c.lastAttemptAt, now, c.cfg.Cooldown); left > 0 {
		c.mu.Unlock()
		c.observer.RefreshSkipped(OutcomeUnchanged)
		c.logger.Debug("refresh suppressed by cooldown", "remaining", left)
		return Result{Token: current, Outcome: OutcomeUnchanged}
	}

	if f := c.inFlight; f != nil {
		c.mu.Unlock()
		c.observer.RefreshCoalesced()
		c.logger.Debug("joining in-flight refresh", "flight", f.key)

		// If the flight finished or was forgotten in the meantime this
		// starts a throwaway call that reports errFlightGone.
		ch := c.flights.DoChan(f.key, func() (any, error) {
			return nil, errFlightGone
		})
		return c.await(ctx, ch, current)
	}

	f := &flight{key: idx.NewAt(now).String(), startedAt: now}
	c.inFlight = f
	c.lastAttemptAt = now

	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(f.key, func() (any, error) {
		return c.perform(detached, f, current), nil
	})
	c.mu.Unlock()

	return c.await(ctx, ch, current)
}

func (c *Coordinator) await(ctx context.Context, ch <-chan singleflight.Result, current SessionToken) Result {
	select {
	case res := <-ch:
		if res.Err != nil {
			c.logger.Debug("refresh flight could not be awaited", "error", res.Err)
			return Result{Token: current, Outcome: OutcomeUnchanged, Err: res.Err}
		}
		return res.Val.(Result)
	case <-ctx.Done():
		return Result{Token: current, Outcome: OutcomeUnchanged, Err: ctx.Err()}
	}
}

// perform runs one refresh attempt. It always releases the flight slot, even
// when the transport panics.
func (c *Coordinator) perform(ctx context.Context, f *flight, current SessionToken) Result {
	defer c.release(f)

	log := c.logger.With("flight", f.key, "refresh_fp", cryptox.FingerprintToken(current.RefreshToken))
	c.observer.RefreshStarted()
	log.Debug("refresh started")

	pair, err := c.call(ctx, current.RefreshToken)

	var exp time.Time
	if err == nil {
		exp, err = jwtx.ExpiresAt(pair.AccessToken)
		if err != nil {
			err = fmt.Errorf("refreshed access token unusable: %w", err)
		}
	}

	class := failureGeneric
	if err != nil {
		class = classify(err)
	}

	if class == failureRateLimited {
		c.mu.Lock()
		delay := BackoffDelay(c.retryCount, c.cfg.BaseBackoff, c.cfg.MaxBackoff)
		c.mu.Unlock()

		c.observer.Backoff(delay)
		log.Warn("refresh rate limited, backing off", "delay", delay)
		<-c.clock.After(delay)
	}

	res := c.settle(f, current, pair, exp, err, class)
	took := c.clock.Since(f.startedAt)
	c.observer.RefreshFinished(res.Outcome, took)

	switch res.Outcome {
	case OutcomeRefreshed:
		log.Info("access token refreshed", "expires_at", exp.UTC(), "duration", took)
	case OutcomeTerminal:
		log.Warn("refresh failed terminally", "error", err, "class", class.String())
	case OutcomeShuttingDown:
		log.Info("refresh outcome discarded after shutdown", "error", err)
	default:
		log.Warn("refresh failed", "error", err, "class", class.String(), "outcome", res.Outcome.String())
	}

	return res
}

func (c *Coordinator) call(ctx context.Context, refreshToken string) (pair TokenPair, err error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTransportPanic, r)
		}
	}()

	return c.transport.Refresh(ctx, refreshToken)
}

// settle folds the outcome of flight f into the coordinator state. A flight
// that was dropped by Reset or ClearStuckRefresh no longer owns the state;
// its waiters still get an answer but nothing is recorded. Once shut down,
// the outcome is discarded and waiters see ErrorKindShuttingDown.
func (c *Coordinator) settle(
	f *flight,
	current SessionToken,
	pair TokenPair,
	exp time.Time,
	err error,
	class failureClass,
) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	tracked := c.inFlight == f
	if tracked {
		c.inFlight = nil
	}

	if c.shuttingDown {
		return Result{Token: current.WithError(ErrorKindShuttingDown), Outcome: OutcomeShuttingDown, Err: err}
	}

	if err == nil {
		if tracked {
			c.retryCount = 0
		}

		refreshToken := pair.RefreshToken
		if refreshToken == "" {
			refreshToken = current.RefreshToken
		}

		return Result{
			Token: SessionToken{
				AccessToken:  pair.AccessToken,
				RefreshToken: refreshToken,
				ExpiresAt:    exp.Unix(),
			},
			Outcome: OutcomeRefreshed,
		}
	}

	if !tracked {
		return Result{Token: current, Outcome: OutcomeUnchanged, Err: err}
	}

	if class == failureRejected {
		c.retryCount = c.cfg.MaxRetries
	} else {
		c.retryCount = min(c.retryCount+1, c.cfg.MaxRetries)
	}

	if c.retryCount >= c.cfg.MaxRetries {
		return Result{
			Token:   current.WithError(ErrorKindRefreshAccessToken),
			Outcome: OutcomeTerminal,
			Err:     err,
		}
	}

	return Result{Token: current, Outcome: OutcomeRetryable, Err: err}
}

func (c *Coordinator) release(f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight == f {
		c.inFlight = nil
	}
}

// dropFlightLocked stops tracking the in-flight refresh. The network call is
// not cancelled; later callers simply start a fresh flight. c.mu must be held.
func (c *Coordinator) dropFlightLocked() bool {
	if c.inFlight == nil {
		return false
	}
	c.flights.Forget(c.inFlight.key)
	c.inFlight = nil
	return true
}

// Shutdown makes the coordinator inert: every later Refresh returns
// immediately with ErrorKindShuttingDown until Reset. Idempotent.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.shuttingDown {
		c.logger.Info("token coordinator shutting down")
	}
	c.shuttingDown = true
	c.dropFlightLocked()
	c.retryCount = 0
}

// Reset returns the coordinator to its initial state.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropFlightLocked()
	c.lastAttemptAt = time.Time{}
	c.retryCount = 0
	c.shuttingDown = false
	c.logger.Info("token coordinator reset")
}

// ClearStuckRefresh forgets the in-flight refresh without touching anything
// else. It reports whether there was one.
func (c *Coordinator) ClearStuckRefresh() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	var since time.Time
	if c.inFlight != nil {
		since = c.inFlight.startedAt
	}

	cleared := c.dropFlightLocked()
	if cleared {
		c.logger.Warn("cleared stuck refresh", "in_flight_since", since.UTC())
	}
	return cleared
}

// Ended reports whether the coordinator will refuse every refresh until
// Reset: it was shut down or ran out of retries.
func (c *Coordinator) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shuttingDown || c.retryCount >= c.cfg.MaxRetries
}

// State returns a snapshot of the coordinator.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := State{
		RefreshInFlight:      c.inFlight != nil,
		LastRefreshAttemptAt: c.lastAttemptAt,
		RetryCount:           c.retryCount,
		ShuttingDown:         c.shuttingDown,
	}
	if c.inFlight != nil {
		s.InFlightSince = c.inFlight.startedAt
	}
	return s
}
