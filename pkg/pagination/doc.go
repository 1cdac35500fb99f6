// Package pagination drives a single-flight, self-pacing fetch of every
// provider page for one name and caches the assembled result set.
//
// A Coordinator runs one Session at a time, handed to it together with the
// provider gate token. The session is a small state machine:
//
//	Fetching ──> AwaitingDelay ──> Fetching ... ──> Writing ──> Done
//	    │
//	    └──> Failed
//
//   - Fetching requests the page at the session offset and accumulates its
//     records. A failure moves to Failed. A total of zero ends in Done with no
//     index write. Otherwise the pacing delay for the declared total is
//     computed and the session either waits for the next page or, when all
//     pages are in, moves to Writing.
//   - AwaitingDelay suspends for the pacing delay before the next request.
//   - Writing bulk-writes all records under ids 1..N, then waits out the
//     pacing delay once more so the next gate holder cannot call the provider
//     sooner than the provider tolerates.
//
// The gate token is released exactly once, when FetchAndCache returns. Once
// started, a session ignores caller cancellation and runs to Done or Failed.
//
// Example usage:
//
//	coord := pagination.NewCoordinator(upstreamClient, idx, ratelimit.DefaultPolicy(), pagination.DefaultConfig())
//	if token, ok := gate.TryAcquire(); ok {
//		records, err := coord.FetchAndCache(ctx, "stringer", token)
//	}
package pagination
