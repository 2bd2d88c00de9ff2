package refreshflow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/ulm/pkg/refreshflow"
	"github.com/stretchr/testify/require"
)

// gatedRefresh blocks every refresh until release is closed and counts calls.
type gatedRefresh struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	token   string
	err     error
}

func newGatedRefresh(token string, err error) *gatedRefresh {
	return &gatedRefresh{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
		token:   token,
		err:     err,
	}
}

func (g *gatedRefresh) fn(ctx context.Context, _ string) (refreshflow.Result, error) {
	g.calls.Add(1)
	g.started <- struct{}{}
	<-g.release
	return refreshflow.Result{Token: g.token, Session: "refresh"}, g.err
}

// waitPending polls until n callers are queued behind the leader.
func waitPending(t *testing.T, c *refreshflow.Coordinator, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Pending() == n }, 2*time.Second, time.Millisecond)
}

func TestCoordinatorSingleFlight(t *testing.T) {
	t.Parallel()

	const callers = 8
	g := newGatedRefresh("fresh", nil)

	var cleared, logouts atomic.Int32
	c := refreshflow.NewCoordinator(g.fn, refreshflow.Hooks{
		ClearCredentials: func(context.Context, string) { cleared.Add(1) },
		LogoutRequired:   func() { logouts.Add(1) },
	})

	type result struct {
		token string
		err   error
	}
	results := make(chan result, callers)

	go func() {
		tok, err := c.Token(t.Context(), "stale")
		results <- result{tok, err}
	}()
	<-g.started
	require.True(t, c.Refreshing())

	for range callers - 1 {
		go func() {
			tok, err := c.Token(t.Context(), "stale")
			results <- result{tok, err}
		}()
	}
	waitPending(t, c, callers-1)

	close(g.release)
	for range callers {
		r := <-results
		require.NoError(t, r.err)
		require.Equal(t, "fresh", r.token)
	}

	require.EqualValues(t, 1, g.calls.Load(), "exactly one refresh call")
	require.False(t, c.Refreshing())
	require.Zero(t, c.Pending())
	require.Zero(t, cleared.Load())
	require.Zero(t, logouts.Load())
}

func TestCoordinatorFailurePropagatesToAll(t *testing.T) {
	t.Parallel()

	boom := errors.New("refresh rejected")
	g := newGatedRefresh("", boom)

	var cleared, logouts atomic.Int32
	c := refreshflow.NewCoordinator(g.fn, refreshflow.Hooks{
		ClearCredentials: func(context.Context, string) { cleared.Add(1) },
		LogoutRequired:   func() { logouts.Add(1) },
	})

	var wg sync.WaitGroup
	errs := make(chan error, 5)

	wg.Go(func() {
		_, err := c.Token(t.Context(), "stale")
		errs <- err
	})
	<-g.started
	for range 4 {
		wg.Go(func() {
			_, err := c.Token(t.Context(), "stale")
			errs <- err
		})
	}
	waitPending(t, c, 4)

	close(g.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.ErrorIs(t, err, boom)
	}
	require.EqualValues(t, 1, g.calls.Load())
	require.EqualValues(t, 1, cleared.Load())
	require.EqualValues(t, 1, logouts.Load(), "logout fires once per failed refresh")
	require.Zero(t, c.Pending())
}

func TestCoordinatorWaiterCancellation(t *testing.T) {
	t.Parallel()

	g := newGatedRefresh("fresh", nil)
	c := refreshflow.NewCoordinator(g.fn, refreshflow.Hooks{})

	leader := make(chan error, 1)
	go func() {
		_, err := c.Token(t.Context(), "stale")
		leader <- err
	}()
	<-g.started

	ctx, cancel := context.WithCancel(t.Context())
	waiter := make(chan error, 1)
	go func() {
		_, err := c.Token(ctx, "stale")
		waiter <- err
	}()
	waitPending(t, c, 1)

	cancel()
	require.ErrorIs(t, <-waiter, context.Canceled)

	// The abandoned waiter must not block delivery or affect the leader.
	close(g.release)
	require.NoError(t, <-leader)
	require.Zero(t, c.Pending())
}

func TestCoordinatorLeaderCancellationDoesNotAbortRefresh(t *testing.T) {
	t.Parallel()

	var sawCancel atomic.Bool
	c := refreshflow.NewCoordinator(func(ctx context.Context, _ string) (refreshflow.Result, error) {
		time.Sleep(20 * time.Millisecond)
		sawCancel.Store(ctx.Err() != nil)
		return refreshflow.Result{Token: "fresh"}, nil
	}, refreshflow.Hooks{})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	tok, err := c.Token(ctx, "stale")
	require.NoError(t, err)
	require.Equal(t, "fresh", tok)
	require.False(t, sawCancel.Load())
}

func TestCoordinatorNewEpisodeAfterLogin(t *testing.T) {
	t.Parallel()

	var logouts atomic.Int32
	c := refreshflow.NewCoordinator(func(context.Context, string) (refreshflow.Result, error) {
		return refreshflow.Result{}, errors.New("no refresh token")
	}, refreshflow.Hooks{LogoutRequired: func() { logouts.Add(1) }})

	_, err := c.Token(t.Context(), "")
	require.Error(t, err)
	_, err = c.Token(t.Context(), "")
	require.Error(t, err)
	require.EqualValues(t, 1, logouts.Load())

	c.CredentialsStored()
	c.Unrecoverable(t.Context(), c.Epoch(), "")
	require.EqualValues(t, 2, logouts.Load())
}

func TestCoordinatorSequentialRefreshes(t *testing.T) {
	t.Parallel()

	var n atomic.Int32
	c := refreshflow.NewCoordinator(func(context.Context, string) (refreshflow.Result, error) {
		return refreshflow.Result{Token: string(rune('a' + n.Add(1) - 1))}, nil
	}, refreshflow.Hooks{})

	first, err := c.Token(t.Context(), "")
	require.NoError(t, err)
	second, err := c.Token(t.Context(), "")
	require.NoError(t, err)

	require.Equal(t, "a", first)
	require.Equal(t, "b", second)
}

func TestCoordinatorLoginDuringFailingRefresh(t *testing.T) {
	t.Parallel()

	g := newGatedRefresh("", errors.New("refresh rejected"))

	var cleared []string
	var logouts atomic.Int32
	c := refreshflow.NewCoordinator(g.fn, refreshflow.Hooks{
		ClearCredentials: func(_ context.Context, session string) { cleared = append(cleared, session) },
		LogoutRequired:   func() { logouts.Add(1) },
	})

	leader := make(chan error, 1)
	go func() {
		_, err := c.Token(t.Context(), "stale")
		leader <- err
	}()
	<-g.started

	c.CredentialsStored()
	close(g.release)

	require.Error(t, <-leader)
	require.Empty(t, cleared, "the new session must survive")
	require.Zero(t, logouts.Load())
	require.False(t, c.Refreshing())
}

func TestCoordinatorLogoutDuringRefresh(t *testing.T) {
	t.Parallel()

	g := newGatedRefresh("", errors.New("refresh rejected"))

	var cleared, logouts atomic.Int32
	c := refreshflow.NewCoordinator(g.fn, refreshflow.Hooks{
		ClearCredentials: func(context.Context, string) { cleared.Add(1) },
		LogoutRequired:   func() { logouts.Add(1) },
	})

	leader := make(chan error, 1)
	go func() {
		_, err := c.Token(t.Context(), "stale")
		leader <- err
	}()
	<-g.started

	c.SessionEnded()
	close(g.release)

	require.Error(t, <-leader)
	require.Zero(t, cleared.Load())
	require.Zero(t, logouts.Load())
}

func TestCoordinatorClearCarriesSession(t *testing.T) {
	t.Parallel()

	var got string
	c := refreshflow.NewCoordinator(func(context.Context, string) (refreshflow.Result, error) {
		return refreshflow.Result{Session: "r1"}, errors.New("rejected")
	}, refreshflow.Hooks{
		ClearCredentials: func(_ context.Context, session string) { got = session },
	})

	_, err := c.Token(t.Context(), "stale")
	require.Error(t, err)
	require.Equal(t, "r1", got)
}

func TestCoordinatorPanickingRefreshReleasesWaiters(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	c := refreshflow.NewCoordinator(func(context.Context, string) (refreshflow.Result, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			panic("refresh exploded")
		}
		return refreshflow.Result{Token: "fresh"}, nil
	}, refreshflow.Hooks{})

	leader := make(chan any, 1)
	go func() {
		defer func() { leader <- recover() }()
		_, _ = c.Token(context.Background(), "stale")
	}()
	<-started

	waiter := make(chan error, 1)
	go func() {
		_, err := c.Token(context.Background(), "stale")
		waiter <- err
	}()
	waitPending(t, c, 1)

	close(release)
	require.Equal(t, "refresh exploded", <-leader, "the panic reaches the leader")
	require.ErrorContains(t, <-waiter, "refresh aborted")
	require.False(t, c.Refreshing())
	require.Zero(t, c.Pending())

	tok, err := c.Token(t.Context(), "stale")
	require.NoError(t, err)
	require.Equal(t, "fresh", tok)
}
