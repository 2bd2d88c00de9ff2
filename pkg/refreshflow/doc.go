/*
Package refreshflow coordinates access-token refreshes for a single client.

The package is split in two layers:

  - Machine is the pure state machine. It owns the "refresh in flight" flag,
    the FIFO queue of waiters and the logout latch. Every transition returns
    the side effects the caller must perform; the machine itself performs no
    I/O and is not safe for concurrent use.
  - Coordinator drives a Machine behind a mutex and executes its effects:
    it calls the injected RefreshFunc, delivers outcomes to waiters, clears
    stored credentials and fires the logout callback.

Guarantees:

  - At most one refresh call is in flight per Coordinator.
  - Callers arriving while a refresh is in flight wait for its outcome
    instead of starting another one.
  - When a refresh settles, the waiter queue is swapped out and emptied in
    one step. A caller arriving after that starts a new cycle.
  - A failed refresh clears credentials and notifies logout once per
    episode; the latch is re-armed by Machine.CredentialsStored.
  - Login and logout start a new epoch. A refresh that settles after the
    epoch moved on is delivered to its waiters but neither clears the new
    session nor notifies logout for it.
  - A RefreshFunc that panics still releases its waiters.
*/
package refreshflow
