/*
Package tokenmgr coordinates access-token refreshes for one authenticated
session.

A Coordinator owns the refresh state of a session: at most one refresh is in
flight at a time, concurrent callers share its outcome, a cooldown stops
refresh storms, rate limiting is absorbed with capped exponential backoff and
repeated failures end in a terminal state that forces a new login.

Failures never surface as Go errors. Refresh always returns a Result whose
Outcome tells the caller which of three things happened:

  - the token was refreshed (OutcomeRefreshed)
  - nothing useful happened yet, try again later (OutcomeUnchanged, OutcomeRetryable)
  - the session is over (OutcomeTerminal, OutcomeShuttingDown)

The returned SessionToken carries the matching error tag so it can be stored
back into the session as-is:

	res := coord.Refresh(ctx, sess.Token)
	sess.Token = res.Token
	if res.Outcome.Ended() {
		// redirect to login
	}

Lifecycle controls are Shutdown (logout, makes the coordinator inert), Reset
(back to a pristine state), ClearStuckRefresh (stop waiting on a refresh that
never returns) and State (diagnostics snapshot).
*/
package tokenmgr
