// Package hostapi defines the consumed-collaborator boundary named in
// spec.md §1 and §6: the host document database, the OAuth flow, and
// the leader-election gate are explicitly out of scope for this
// module. These interfaces exist only so the orchestrator has
// something concrete to call, and so tests can fake them without a
// real browser-side collection or OAuth token.
package hostapi

import "context"

// WriteRow is one row the host collection wants pushed upstream,
// carrying the document's new state and, if the host knows the write
// was based on a specific prior version, the state it assumed.
type WriteRow struct {
	PrimaryKey         string         `json:"primaryKey"`
	NewDocumentState   map[string]any `json:"newDocumentState"`
	AssumedMasterState map[string]any `json:"assumedMasterState,omitempty"`
}

// Collection is the host document database this replication serves
// (spec.md §6 "a collection with schema.primaryPath and a stream of
// write rows"). PrimaryKeyField names the field `uploadMultipart`
// sanitizes into a document filename.
type Collection interface {
	PrimaryKeyField() string
	// WriteRows streams host-side writes the orchestrator should push
	// upstream on its next push cycle.
	WriteRows() <-chan []WriteRow
}

// PullHandler fetches changes after checkpoint (an opaque downstream
// cursor, round-tripped through the host exactly as returned) and
// returns up to batchSize documents plus the checkpoint to resume from.
// Mirrors spec.md §6's `pull.handler`.
type PullHandler func(ctx context.Context, checkpoint any, batchSize int) (documents []any, newCheckpoint any, err error)

// PushHandler stages rows upstream and returns any conflicts the host's
// conflict resolver must reconcile before retrying. Mirrors spec.md
// §6's `push.handler`.
type PushHandler func(ctx context.Context, rows []WriteRow) (conflicts []any, err error)

// ReplicationEngine is the host's single-flight pull/push scheduler
// (spec.md §6's `{pull, push, live, retryTime, autoStart}`). The
// orchestrator registers its pull/push handlers with it; the engine
// owns batching, retry policy, and applying returned documents/
// conflicts to the host collection.
type ReplicationEngine interface {
	RegisterPull(handler PullHandler)
	RegisterPush(handler PushHandler)
	// TriggerPull requests an out-of-band pull cycle outside the
	// engine's normal schedule, mirroring spec.md §9's `resync$`
	// nudging `pull.stream$`. Called whenever Signaling observes a
	// peer ping; a no-op engine is free to ignore it; correctness
	// never depends on that pull actually running before the next
	// scheduled one does.
	TriggerPull()
}

// LeaderGate nominates one process/tab to run the replication
// (spec.md §6 "leader-election gate"). Nothing in this module calls
// it: calling Orchestrator.Start on gaining leadership and Cancel on
// losing it is left to the host.
type LeaderGate interface {
	WaitForLeadership(ctx context.Context) error
}

// ErrorStream is the host's durable-error sink (spec.md §7's `error$`):
// only errors that cannot be absorbed internally (auth failure,
// malformed schema, path rejection) are ever sent here.
type ErrorStream interface {
	Emit(err error)
}
