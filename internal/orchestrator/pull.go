package orchestrator

import (
	"context"
	"fmt"

	"drivesync/internal/downstream"
	"drivesync/internal/hostapi"
)

// pullHandler builds the hostapi.PullHandler this orchestrator
// registers with the engine: inside a transaction, fetch changes after
// checkpoint and return them (spec §4.7 "Pull handler").
func (o *Orchestrator) pullHandler() hostapi.PullHandler {
	return func(ctx context.Context, checkpoint any, batchSize int) ([]any, any, error) {
		if batchSize <= 0 {
			batchSize = o.opts.BatchSize
		}
		ckpt, _ := checkpoint.(downstream.Checkpoint)

		var result downstream.Result
		err := o.txn.RunInTransaction(ctx, o.upstream.ProcessWalFile, func(ctx context.Context) error {
			r, err := o.puller.FetchChanges(ctx, ckpt, batchSize)
			if err != nil {
				return err
			}
			result = r
			return nil
		}, nil)

		o.markInitialReplication(err)
		if err != nil {
			return nil, nil, fmt.Errorf("pull: %w", err)
		}

		documents := make([]any, len(result.Changes))
		for i, c := range result.Changes {
			documents[i] = c
		}
		return documents, result.Checkpoint, nil
	}
}
