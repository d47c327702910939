// Package errors classifies framework errors so callers can decide between
// retrying, rejecting the input and giving up.
//
// # Classes
//
// Every error carries one of three classes:
//
//   - Transient: timeouts, cancelled contexts, temporarily unavailable
//     resources. Retrying may succeed.
//   - Invalid: a request that breaks a rule of the component it was sent
//     to: a value outside a control's domain, a transition that is not in
//     the graph, an unknown URI scheme. Retrying the same request fails the
//     same way.
//   - Fatal: the component can no longer make progress. Its state machine
//     moves to INVALID and stays there.
//
// Errors that were never classified are inspected: context errors and
// net.Error timeouts are transient, everything else is invalid.
//
// # Kinds
//
// The package exports error kinds such as ErrNotFound, ErrInvalidTransition,
// ErrResourceConflict and ErrOutOfWindow. They are matched with errors.Is
// and survive every wrapper, so a caller several layers up can still tell a
// missing component from a busy one:
//
//	if errors.Is(err, errors.ErrTransitionInFlight) {
//	    // another SetState is running; try again later
//	}
//
// # Wrapping
//
// Wrappers add "component.method: action failed" context. Wrap keeps the
// class of the wrapped error; WrapTransient, WrapInvalid and WrapFatal set
// it:
//
//	if err := conn.Send(h); err != nil {
//	    return errors.Wrap(err, "Passthrough", "loop", "forward buffer")
//	}
//
// Newf builds a classified error of a given kind with a formatted message:
//
//	return errors.Newf(errors.ErrorInvalid, errors.ErrNotFound, "Registry", "Get",
//	    "no provider offers %q", name)
//
// # Retry
//
// RetryConfig decides whether an error is worth another attempt and how
// long to wait. Only transient errors are retried. ToRetryConfig converts it
// for use with the pkg/retry helpers.
package errors
