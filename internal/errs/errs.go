// Package errs defines the error kinds the core surfaces to its host
// (spec §7). Transient errors (rate-limit, contention, peer failures) are
// absorbed inside the packages that produce them and never reach here;
// only durable errors are meant to propagate up to an error$ stream.
package errs

import "fmt"

// Sentinel errors, compared with errors.Is. Wrap with fmt.Errorf("...: %w", ...)
// at the point of occurrence so callers keep the underlying cause.
var (
	// ErrInvalidRoot means the configured folderPath is empty, "", "/" or "root".
	ErrInvalidRoot = fmt.Errorf("invalid root: folderPath must not be empty or root")

	// ErrRateLimited is returned only after the Object Store Client has
	// exhausted its internal retry budget for a 429/5xx response.
	ErrRateLimited = fmt.Errorf("rate limited")

	// ErrEtagMismatch signals a lost compare-and-set race on a conditional
	// write. This is a normal signal inside Transaction and must never
	// surface past internal/txn.
	ErrEtagMismatch = fmt.Errorf("etag mismatch")

	// ErrWALNotDrained means the caller tried to stage into a non-empty
	// WAL. This is a programming error: WAL must be drained before staging.
	ErrWALNotDrained = fmt.Errorf("wal not drained")

	// ErrTransactionTakenOver means the caller's lease expired and another
	// peer has since become holder. Handled silently by takeover; commit
	// is then a no-op.
	ErrTransactionTakenOver = fmt.Errorf("transaction timed out: taken over by another peer")

	// ErrPeer wraps a WebRTC peer failure. Logged (an ICE failure also
	// emits a resync); the peer is evicted only once its connection
	// closes, and the poll loop carries on. Never surfaced past
	// internal/signaling.
	ErrPeer = fmt.Errorf("peer error")
)

// FetchError represents a non-2xx HTTP response the Object Store Client
// could not classify as retryable.
type FetchError struct {
	Status int
	Body   string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error: HTTP %d: %s", e.Status, e.Body)
}
