package refreshflow

import (
	"context"
	"fmt"
	"sync"
)

// Result is what a RefreshFunc produced. Session is the refresh token the
// attempt ran against and must be set on failure too.
type Result struct {
	Token   string
	Session string
}

// RefreshFunc obtains a new access token. stale is the token the caller
// considered expired, so implementations can skip the network call when the
// stored token has already moved on.
type RefreshFunc func(ctx context.Context, stale string) (Result, error)

// Hooks are the side effects the Coordinator executes on behalf of the
// Machine. Nil hooks are skipped.
type Hooks struct {
	// ClearCredentials drops both stored tokens if session is still the
	// stored refresh token.
	ClearCredentials func(ctx context.Context, session string)

	// LogoutRequired is called once per unrecoverable episode.
	LogoutRequired func()
}

// Coordinator makes refreshes single-flight for one client instance.
type Coordinator struct {
	refresh RefreshFunc
	hooks   Hooks

	mu      sync.Mutex
	machine Machine
}

// NewCoordinator returns an idle Coordinator.
func NewCoordinator(refresh RefreshFunc, hooks Hooks) *Coordinator {
	return &Coordinator{refresh: refresh, hooks: hooks}
}

// Token returns a fresh access token, running the refresh if no other caller
// is already doing so and waiting for that caller otherwise.
//
// The refresh itself ignores ctx cancellation. A waiter whose ctx ends stops
// waiting and gets ctx.Err().
func (c *Coordinator) Token(ctx context.Context, stale string) (string, error) {
	c.mu.Lock()
	effect := c.machine.RequestToken()
	c.mu.Unlock()

	if await, ok := effect.(Await); ok {
		select {
		case o := <-await.Waiter:
			return o.Token, o.Err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	outcome := c.lead(ctx, stale)
	return outcome.Token, outcome.Err
}

// lead runs the refresh and settles the machine. If the RefreshFunc panics
// the waiters are failed and the panic continues up the leader's stack.
func (c *Coordinator) lead(ctx context.Context, stale string) (outcome Outcome) {
	settled := false
	defer func() {
		if settled {
			return
		}
		r := recover()

		c.mu.Lock()
		effects := c.machine.Abort(fmt.Errorf("refreshflow: refresh aborted: %v", r))
		c.mu.Unlock()
		c.apply(effects)

		if r != nil {
			panic(r)
		}
	}()

	res, err := c.refresh(context.WithoutCancel(ctx), stale)
	outcome = Outcome{Token: res.Token, Session: res.Session, Err: err}
	settled = true

	c.mu.Lock()
	effects := c.clearLocked(ctx, c.machine.Settle(outcome))
	c.mu.Unlock()

	c.apply(effects)
	return outcome
}

// Epoch returns the current session epoch, for use with Unrecoverable.
func (c *Coordinator) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Epoch()
}

// Unrecoverable reports an auth failure that happened outside Token, e.g. a
// caller hit the refresh endpoint directly and was rejected. epoch is the
// value of Epoch before the call; session is the refresh token it used.
func (c *Coordinator) Unrecoverable(ctx context.Context, epoch uint64, session string) {
	c.mu.Lock()
	effects := c.clearLocked(ctx, c.machine.Unrecoverable(epoch, session))
	c.mu.Unlock()

	c.apply(effects)
}

// CredentialsStored starts a new session epoch and re-arms the logout
// notification. Call it before storing the new credentials.
func (c *Coordinator) CredentialsStored() {
	c.mu.Lock()
	c.machine.CredentialsStored()
	c.mu.Unlock()
}

// SessionEnded starts a new session epoch after an explicit logout. Call it
// before clearing the stored credentials.
func (c *Coordinator) SessionEnded() {
	c.mu.Lock()
	c.machine.SessionEnded()
	c.mu.Unlock()
}

// Refreshing reports whether a refresh is in flight.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Refreshing()
}

// Pending returns the number of callers waiting on the in-flight refresh.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Pending()
}

// clearLocked runs ClearCredentials effects while c.mu is held and returns
// the remaining effects. No caller may read the refresh token between a
// failed Settle and the clear.
func (c *Coordinator) clearLocked(ctx context.Context, effects []Effect) []Effect {
	rest := effects[:0:0]
	for _, e := range effects {
		if cc, ok := e.(ClearCredentials); ok {
			if c.hooks.ClearCredentials != nil {
				c.hooks.ClearCredentials(context.WithoutCancel(ctx), cc.Session)
			}
			continue
		}
		rest = append(rest, e)
	}
	return rest
}

// apply runs the remaining effects outside the lock; LogoutRequired is user
// code and may call back into the client.
func (c *Coordinator) apply(effects []Effect) {
	for _, e := range effects {
		switch e := e.(type) {
		case NotifyLogout:
			if c.hooks.LogoutRequired != nil {
				c.hooks.LogoutRequired()
			}
		case Deliver:
			for _, w := range e.Waiters {
				w <- e.Outcome
			}
		}
	}
}
