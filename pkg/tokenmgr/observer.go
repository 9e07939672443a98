package tokenmgr

import "time"

// Observer receives coordinator events. It replaces ad-hoc debugging hooks
// with an explicit port; internal/metrics implements it with Prometheus.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	// RefreshStarted is called when a new transport call is about to begin.
	RefreshStarted()

	// RefreshFinished is called once per transport call with the outcome
	// the call produced and its duration (including any backoff wait).
	RefreshFinished(outcome Outcome, took time.Duration)

	// RefreshSkipped is called when Refresh returns without starting or
	// joining a transport call (shutdown, terminal, cooldown).
	RefreshSkipped(outcome Outcome)

	// RefreshCoalesced is called when a caller joins an in-flight refresh.
	RefreshCoalesced()

	// Backoff is called before waiting out a rate-limit response.
	Backoff(delay time.Duration)
}

type nopObserver struct{}

func (nopObserver) RefreshStarted() {}
func (nopObserver) RefreshFinished(Outcome, time.Duration) {}
func (nopObserver) RefreshSkipped(Outcome) {}
func (nopObserver) RefreshCoalesced() {}
func (nopObserver) Backoff(time.Duration) {}

// NopObserver returns an Observer that ignores every event.
func NopObserver() Observer { return nopObserver{} }
