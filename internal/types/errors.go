package types

import "errors"

// Sentinel errors classifying failures per the error taxonomy: operators
// and the orchestrator branch on these with errors.Is, the idiomatic Go
// replacement for the distilled Rust AppError enum.
var (
	// ErrConfiguration marks a fatal startup configuration error (empty
	// selector, zero buffer, invalid numeric bound).
	ErrConfiguration = errors.New("configuration error")

	// ErrAuth marks a 401/403 from the cluster. Terminal for the affected
	// follower or the watcher; the first occurrence triggers shutdown.
	ErrAuth = errors.New("authentication/authorization error")

	// ErrNotFound marks a 404 on log open. Non-fatal: the follower exits
	// and lets the watcher drive pod lifecycle.
	ErrNotFound = errors.New("not found")

	// ErrRetry marks a transient failure (429, 5xx, network error).
	// Handled locally with capped jittered backoff.
	ErrRetry = errors.New("transient error")

	// ErrDownstreamClosed marks a broken-pipe write. Non-fatal: the
	// merger exits cleanly.
	ErrDownstreamClosed = errors.New("downstream closed")

	// ErrWriterError marks any other write failure. Fatal.
	ErrWriterError = errors.New("writer error")

	// ErrWatcherTerminated marks the underlying watch ending or erroring
	// permanently. Treated as a shutdown reason.
	ErrWatcherTerminated = errors.New("watcher terminated")
)
