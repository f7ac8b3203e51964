// Package wal implements the upstream write path of spec §4.4: conflict
// detection against each row's assumed master state, staging accepted
// rows into the shared wal file, and draining that file by applying
// updates/inserts to docs/ with bounded concurrency.
//
// Grounded on the teacher's internal/store/wal.go for the "write-ahead,
// replay on restart" idiom (here: replay on next transaction instead of
// process restart) and on internal/cluster/node.go's
// executeWriteQuorum/executeReadQuorum for the bounded fan-out shape
// (goroutine + sync.WaitGroup + mutex-guarded accumulator).
package wal

import (
	"context"
	"fmt"
	"sync"

	"drivesync/internal/docfile"
	"drivesync/internal/driveapi"
	"drivesync/internal/errs"
	"drivesync/internal/layout"
)

// DefaultConcurrency is the fan-out width for draining the WAL (spec
// §4.4: "applied concurrently with a fixed concurrency (default 5)").
const DefaultConcurrency = 5

// Upstream runs the write path for one replication. Must only be called
// from inside a held Transaction (spec §4.4: "runs inside a
// transaction").
type Upstream struct {
	client      *driveapi.Client
	ds          layout.DriveStructure
	concurrency int
}

// New creates an Upstream. concurrency <= 0 uses DefaultConcurrency.
func New(client *driveapi.Client, ds layout.DriveStructure, concurrency int) *Upstream {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Upstream{client: client, ds: ds, concurrency: concurrency}
}

// HandleUpstreamBatch detects conflicts, stages the non-conflicting rows
// into the wal file, and returns the conflicts for the caller to resolve
// and retry (spec §4.4 steps 1-4). Per-primary-key order within rows is
// preserved by processing sequentially; this is a single caller-owned
// batch, not the fan-out drain phase, so there is no concurrency here.
func (u *Upstream) HandleUpstreamBatch(ctx context.Context, rows []Row) ([]Conflict, error) {
	var conflicts []Conflict
	var accepted []Row

	for _, row := range rows {
		if row.AssumedMasterState == nil {
			accepted = append(accepted, row)
			continue
		}

		var current docfile.Document
		existing, ok, err := u.client.FindByName(ctx, u.ds.DocsFolderID, layout.SanitizeName(row.PrimaryKey))
		if err != nil {
			return nil, fmt.Errorf("handle upstream batch: lookup %s: %w", row.PrimaryKey, err)
		}
		if ok {
			if err := u.client.DownloadJSON(ctx, existing.ID, &current); err != nil {
				return nil, fmt.Errorf("handle upstream batch: download %s: %w", row.PrimaryKey, err)
			}
		}

		if current.SameState(*row.AssumedMasterState) {
			accepted = append(accepted, row)
		} else {
			conflicts = append(conflicts, Conflict{Row: row, CurrentDocument: current})
		}
	}

	if len(accepted) > 0 {
		if err := u.stage(ctx, accepted); err != nil {
			return nil, err
		}
	}

	return conflicts, nil
}

// stage writes accepted rows to the wal file. Per spec §4.4 step 3,
// writing to a non-empty WAL is a programming error.
func (u *Upstream) stage(ctx context.Context, rows []Row) error {
	current, err := u.readWAL(ctx)
	if err != nil {
		return fmt.Errorf("stage wal: read: %w", err)
	}
	if len(current.Rows) > 0 {
		return errs.ErrWALNotDrained
	}

	if err := u.client.PatchMedia(ctx, u.ds.WALFileID, File{Rows: rows}); err != nil {
		return fmt.Errorf("stage wal: %w", err)
	}
	return nil
}

// readWAL downloads and decodes the wal file, treating an empty (zero-
// byte) file as a File with no rows rather than a decode error.
func (u *Upstream) readWAL(ctx context.Context) (File, error) {
	var file File
	if err := u.client.DownloadJSON(ctx, u.ds.WALFileID, &file); err != nil {
		return File{}, nil
	}
	return file, nil
}

// ProcessWalFile drains a staged wal file: partitions rows by whether
// their document already exists under docs/, applies updates and
// inserts concurrently (bounded by u.concurrency), and blanks the WAL
// on success (spec §4.4). Called both defensively at the start of every
// transaction body and after a successful HandleUpstreamBatch.
//
// Idempotent under a crash at any point: re-classifying against current
// state on replay means a partially-applied drain is safely resumed.
func (u *Upstream) ProcessWalFile(ctx context.Context) error {
	file, err := u.readWAL(ctx)
	if err != nil {
		return fmt.Errorf("process wal: read: %w", err)
	}
	if len(file.Rows) == 0 {
		return nil
	}

	if err := u.applyRows(ctx, file.Rows); err != nil {
		return fmt.Errorf("process wal: apply: %w", err)
	}

	if err := u.client.PatchMedia(ctx, u.ds.WALFileID, File{}); err != nil {
		return fmt.Errorf("process wal: blank: %w", err)
	}
	return nil
}

// applyRows fans rows out across u.concurrency workers, each applying
// one row (update if the document file exists, insert otherwise). The
// first error observed is returned after all in-flight work finishes.
func (u *Upstream) applyRows(ctx context.Context, rows []Row) error {
	sem := make(chan struct{}, u.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, row := range rows {
		wg.Add(1)
		sem <- struct{}{}
		go func(row Row) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := u.applyRow(ctx, row); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(row)
	}

	wg.Wait()
	return firstErr
}

func (u *Upstream) applyRow(ctx context.Context, row Row) error {
	name := layout.SanitizeName(row.PrimaryKey)
	existing, ok, err := u.client.FindByName(ctx, u.ds.DocsFolderID, name)
	if err != nil {
		return fmt.Errorf("apply %s: lookup: %w", row.PrimaryKey, err)
	}

	if ok {
		if err := u.client.PatchMedia(ctx, existing.ID, row.NewDocumentState); err != nil {
			return fmt.Errorf("apply %s: update: %w", row.PrimaryKey, err)
		}
		return nil
	}

	if _, err := u.client.UploadMultipart(ctx, u.ds.DocsFolderID, name, row.NewDocumentState); err != nil {
		return fmt.Errorf("apply %s: insert: %w", row.PrimaryKey, err)
	}
	return nil
}
