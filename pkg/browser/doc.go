// Package browser leases isolated browser contexts from one shared automation
// driver and defines the driver boundary the rest of rednote is written against.
//
// # Architecture
//
// The package is built around three concepts:
//
// 1. Driver: an automation backend (Playwright in production, the static
// HTML driver in tests and offline replay) that creates cookie-isolated
// browser contexts
// 2. Manager: owns the driver process and hands out leases, bounded by a
// maximum number of concurrent leases
// 3. Lease: one browser context plus its page, owned by exactly one operation
//
// # Lease Lifecycle
//
//  1. Acquire: a new context is created, the profile's cookies are injected
//     and a page is opened
//  2. Use: the operation navigates and inspects the page through the lease
//  3. Release: the page and context are closed; Release is idempotent and
//     callers defer it right after Acquire
//
// # Interruption
//
// A lease remembers whether a close was initiated by Release (or Manager
// shutdown). When the page closes while that flag is unset, the close came
// from outside the process (a human closed the window, the browser crashed)
// and the lease's context is cancelled with ErrInterrupted as its cause.
// Polling loops observe the context and operations classify the result as
// interrupted instead of failed.
//
// # Example Usage
//
//	lease, err := manager.Acquire(ctx, Profile{Cookies: sess.Cookies})
//	if err != nil {
//	    return err
//	}
//	defer lease.Release()
//
//	if err := lease.Goto(searchURL); err != nil {
//	    return lease.Classify(err)
//	}
package browser
