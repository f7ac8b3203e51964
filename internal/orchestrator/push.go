package orchestrator

import (
	"context"
	"fmt"

	"drivesync/internal/docfile"
	"drivesync/internal/hostapi"
	"drivesync/internal/wal"
)

// pushHandler builds the hostapi.PushHandler this orchestrator
// registers with the engine: inside a transaction, stage the batch and
// notify peers on successful commit, unless a contender is already
// waiting for the lock (spec §4.3: "its presence causes a currently
// running upstream to skip emitting RESYNC early").
func (o *Orchestrator) pushHandler() hostapi.PushHandler {
	return func(ctx context.Context, rows []hostapi.WriteRow) ([]any, error) {
		walRows := make([]wal.Row, len(rows))
		for i, r := range rows {
			walRows[i] = toWalRow(r)
		}

		var conflicts []wal.Conflict
		var skipNotify bool

		err := o.txn.RunInTransaction(ctx, o.upstream.ProcessWalFile, func(ctx context.Context) error {
			c, err := o.upstream.HandleUpstreamBatch(ctx, walRows)
			if err != nil {
				return err
			}
			conflicts = c
			skipNotify = o.txn.HasContender(ctx)
			return nil
		}, func() {
			if !skipNotify {
				o.NotifyPeers()
			}
		})

		o.markInitialReplication(err)
		if err != nil {
			return nil, fmt.Errorf("push: %w", err)
		}

		out := make([]any, len(conflicts))
		for i, c := range conflicts {
			out[i] = conflictToAny(c)
		}
		return out, nil
	}
}

func toWalRow(row hostapi.WriteRow) wal.Row {
	out := wal.Row{
		PrimaryKey:       row.PrimaryKey,
		NewDocumentState: docfile.New(row.NewDocumentState),
	}
	if row.AssumedMasterState != nil {
		assumed := docfile.New(row.AssumedMasterState)
		out.AssumedMasterState = &assumed
	}
	return out
}

func conflictToAny(c wal.Conflict) map[string]any {
	return map[string]any{
		"primaryKey":           c.Row.PrimaryKey,
		"currentDocumentState": c.CurrentDocument.Fields,
		"currentTombstone":     c.CurrentDocument.Tombstone,
	}
}
