package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/backoffice/internal/gateway/session"
	"github.com/aussiebroadwan/backoffice/pkg/idx"
	"github.com/aussiebroadwan/backoffice/pkg/tokenmgr"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func failingTransport() tokenmgr.Transport {
	return tokenmgr.TransportFunc(func(context.Context, string) (tokenmgr.TokenPair, error) {
		return tokenmgr.TokenPair{}, context.DeadlineExceeded
	})
}

func TestRegistryGet(t *testing.T) {
	var sizes []int
	reg := session.NewRegistry(session.RegistryConfig{
		Transport:    failingTransport(),
		Clock:        clockwork.NewFakeClock(),
		OnSizeChange: func(n int) { sizes = append(sizes, n) },
	})

	a, b := idx.New(), idx.New()

	ca := reg.Get(a)
	require.Same(t, ca, reg.Get(a))
	require.NotSame(t, ca, reg.Get(b))
	require.Equal(t, 2, reg.Len())
	require.Equal(t, []int{1, 2}, sizes)

	got, ok := reg.Lookup(a)
	require.True(t, ok)
	require.Same(t, ca, got)

	_, ok = reg.Lookup(idx.New())
	require.False(t, ok)
	require.Equal(t, 2, reg.Len(), "lookup never creates")
}

func TestRegistrySweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := session.NewRegistry(session.RegistryConfig{
		Transport: failingTransport(),
		IdleTTL:   time.Hour,
		Clock:     clock,
	})

	idle, busy := idx.New(), idx.New()
	reg.Get(idle)
	reg.Get(busy)

	clock.Advance(50 * time.Minute)
	reg.Get(busy)
	require.Zero(t, reg.Sweep())

	clock.Advance(20 * time.Minute)
	require.Equal(t, 1, reg.Sweep())

	_, ok := reg.Lookup(idle)
	require.False(t, ok)
	_, ok = reg.Lookup(busy)
	require.True(t, ok)
}

func TestRegistrySweepKeepsInFlight(t *testing.T) {
	clock := clockwork.NewFakeClock()
	started := make(chan struct{})
	release := make(chan struct{})

	reg := session.NewRegistry(session.RegistryConfig{
		Transport: tokenmgr.TransportFunc(func(context.Context, string) (tokenmgr.TokenPair, error) {
			close(started)
			<-release
			return tokenmgr.TokenPair{}, context.Canceled
		}),
		IdleTTL: time.Minute,
		Clock:   clock,
	})

	id := idx.New()
	done := make(chan struct{})
	go func() {
		reg.Get(id).Refresh(context.Background(), tokenmgr.SessionToken{RefreshToken: "rt"})
		close(done)
	}()
	<-started

	clock.Advance(time.Hour)
	require.Zero(t, reg.Sweep())

	close(release)
	<-done
	require.Eventually(t, func() bool { return reg.Sweep() == 1 }, time.Second, time.Millisecond)
}

func TestRegistryJanitor(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := session.NewRegistry(session.RegistryConfig{
		Transport: failingTransport(),
		IdleTTL:   time.Minute,
		Interval:  5 * time.Minute,
		Clock:     clock,
	})
	reg.Get(idx.New())

	reg.Start()
	defer reg.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(5 * time.Minute)
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, time.Millisecond)
}

func TestRegistrySweepKeepsEnded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := session.NewRegistry(session.RegistryConfig{
		Transport: failingTransport(),
		IdleTTL:   time.Hour,
		EndedTTL:  24 * time.Hour,
		Clock:     clock,
	})

	id := idx.New()
	reg.Get(id).Shutdown()

	clock.Advance(2 * time.Hour)
	require.Zero(t, reg.Sweep())

	coord := reg.Get(id)
	require.True(t, coord.State().ShuttingDown)
	res := coord.Refresh(context.Background(), tokenmgr.SessionToken{RefreshToken: "rt"})
	require.Equal(t, tokenmgr.OutcomeShuttingDown, res.Outcome)

	clock.Advance(25 * time.Hour)
	require.Equal(t, 1, reg.Sweep())
}

func TestRegistrySweepKeepsExhausted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := session.NewRegistry(session.RegistryConfig{
		Transport:   failingTransport(),
		Coordinator: tokenmgr.Config{MaxRetries: 1},
		IdleTTL:     time.Hour,
		Clock:       clock,
	})

	id := idx.New()
	res := reg.Get(id).Refresh(context.Background(), tokenmgr.SessionToken{RefreshToken: "rt"})
	require.Equal(t, tokenmgr.OutcomeTerminal, res.Outcome)

	clock.Advance(2 * time.Hour)
	require.Zero(t, reg.Sweep())
	require.True(t, reg.Get(id).Ended())
}

func TestRegistryStopTwice(t *testing.T) {
	reg := session.NewRegistry(session.RegistryConfig{
		Transport: failingTransport(),
		Clock:     clockwork.NewFakeClock(),
	})

	// Never started.
	require.NotPanics(t, reg.Stop)
	require.NotPanics(t, reg.Stop)

	started := session.NewRegistry(session.RegistryConfig{
		Transport: failingTransport(),
		Clock:     clockwork.NewFakeClock(),
	})
	started.Start()
	require.NotPanics(t, started.Stop)
	require.NotPanics(t, started.Stop)
}
