package tokenmgr

import "time"

// Defaults applied by NewCoordinator to zero Config fields.
const (
	DefaultCooldown    = 5 * time.Second
	DefaultMaxRetries  = 3
	DefaultBaseBackoff = time.Second
	DefaultMaxBackoff  = 30 * time.Second
)

// BackoffDelay returns min(base * 2^retryCount, max). Negative counts are
// treated as zero.
func BackoffDelay(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if base <= 0 {
		base = DefaultBaseBackoff
	}
	if max < base {
		max = base
	}

	d := base
	for range retryCount {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}

// CooldownRemaining returns how long until a new attempt may start. A zero
// last means no attempt has ever been made.
func CooldownRemaining(last, now time.Time, cooldown time.Duration) time.Duration {
	if last.IsZero() {
		return 0
	}
	if left := cooldown - now.Sub(last); left > 0 {
		return left
	}
	return 0
}
