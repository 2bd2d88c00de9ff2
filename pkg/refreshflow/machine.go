package refreshflow

// Outcome is the result of one refresh attempt, shared by the caller that
// ran it and every waiter queued behind it. Session is the refresh token the
// attempt ran against; it is empty when none was stored.
type Outcome struct {
	Token   string
	Session string
	Err     error
}

// Waiter receives exactly one Outcome. It is buffered so delivery never
// blocks, even if the waiting caller has already given up.
type Waiter chan Outcome

func newWaiter() Waiter { return make(Waiter, 1) }

// Effect is a side effect requested by a Machine transition.
type Effect interface{ isEffect() }

// StartRefresh asks the caller to perform the refresh and report back with
// Settle.
type StartRefresh struct{}

// Await asks the caller to block on Waiter.
type Await struct{ Waiter Waiter }

// Deliver asks the caller to send Outcome to every waiter, in order.
type Deliver struct {
	Waiters []Waiter
	Outcome Outcome
}

// ClearCredentials asks the caller to drop both stored tokens, provided
// Session is still the stored refresh token.
type ClearCredentials struct{ Session string }

// NotifyLogout asks the caller to signal that the session is unrecoverable.
type NotifyLogout struct{}

func (StartRefresh) isEffect()     {}
func (Await) isEffect()            {}
func (Deliver) isEffect()          {}
func (ClearCredentials) isEffect() {}
func (NotifyLogout) isEffect()     {}

// Machine holds the refresh coordination state. The zero value is ready to
// use: idle, no waiters, logout armed.
//
// The epoch advances whenever the session is replaced or ended. A refresh
// that settles in a later epoch than it started in no longer speaks for the
// stored session and produces no session effects.
type Machine struct {
	refreshing bool
	waiters    []Waiter
	loggedOut  bool
	epoch      uint64
	started    uint64
}

// Epoch returns the current session epoch.
func (m *Machine) Epoch() uint64 { return m.epoch }

// Refreshing reports whether a refresh is in flight.
func (m *Machine) Refreshing() bool { return m.refreshing }

// Pending returns the number of queued waiters.
func (m *Machine) Pending() int { return len(m.waiters) }

// RequestToken is the event "a caller needs a fresh token". The first caller
// becomes the leader and gets StartRefresh; everyone else gets Await.
func (m *Machine) RequestToken() Effect {
	if m.refreshing {
		w := newWaiter()
		m.waiters = append(m.waiters, w)
		return Await{Waiter: w}
	}

	m.refreshing = true
	m.started = m.epoch
	return StartRefresh{}
}

// Settle is the event "the in-flight refresh finished". It always returns to
// idle and hands back the whole queue, so no waiter is left behind. On
// failure the credentials are cleared and logout is notified before any
// waiter hears about it, unless the session changed while the refresh ran.
func (m *Machine) Settle(o Outcome) []Effect {
	waiters := m.drain()

	effects := make([]Effect, 0, 3)
	if o.Err != nil && m.started == m.epoch {
		effects = append(effects, m.sessionLost(o.Session)...)
	}
	if len(waiters) > 0 {
		effects = append(effects, Deliver{Waiters: waiters, Outcome: o})
	}
	return effects
}

// Abort is the event "the in-flight refresh ended without a result". It
// returns to idle and fails every waiter with err, leaving the session alone.
func (m *Machine) Abort(err error) []Effect {
	waiters := m.drain()
	if len(waiters) == 0 {
		return nil
	}
	return []Effect{Deliver{Waiters: waiters, Outcome: Outcome{Err: err}}}
}

// Unrecoverable is the event "auth failed outside a coordinated refresh",
// e.g. a direct call to the refresh endpoint was rejected. epoch is the
// epoch the failed call started in; session is the refresh token it used.
func (m *Machine) Unrecoverable(epoch uint64, session string) []Effect {
	if epoch != m.epoch {
		return nil
	}
	return m.sessionLost(session)
}

// CredentialsStored is the event "a new session was established". It starts
// a new epoch and re-arms the logout notification.
func (m *Machine) CredentialsStored() {
	m.epoch++
	m.loggedOut = false
}

// SessionEnded is the event "the session was ended on purpose". It starts a
// new epoch so an in-flight refresh cannot act on the ended session.
func (m *Machine) SessionEnded() {
	m.epoch++
}

func (m *Machine) drain() []Waiter {
	waiters := m.waiters
	m.waiters = nil
	m.refreshing = false
	return waiters
}

func (m *Machine) sessionLost(session string) []Effect {
	effects := []Effect{ClearCredentials{Session: session}}
	if !m.loggedOut {
		m.loggedOut = true
		effects = append(effects, NotifyLogout{})
	}
	return effects
}
