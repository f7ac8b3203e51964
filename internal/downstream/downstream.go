// Package downstream implements the read path of spec §4.5: paginate
// docs/ in (modifiedTime, name) order with overfetch to tolerate
// eventually-consistent listings, carry forward any tie cluster that
// straddles a page boundary, and download bodies with bounded
// concurrency.
//
// Grounded on the teacher's internal/cluster/node.go executeReadQuorum:
// concurrent fetch fanned out with a WaitGroup and a buffered channel,
// then the results are collected and reconciled by the caller.
package downstream

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"drivesync/internal/driveapi"
	"drivesync/internal/layout"
)

// overfetch is added to batchSize when listing, to reduce the chance
// that a newly-written sibling with an equal modifiedTime is missed
// (spec §4.5: "6 is a heuristic the implementer may tune").
const overfetch = 6

// DefaultConcurrency is the fan-out width for downloading document
// bodies (spec §4.5 step 5).
const DefaultConcurrency = 5

// Puller fetches paginated changes from docs/ for one replication.
type Puller struct {
	client      *driveapi.Client
	ds          layout.DriveStructure
	concurrency int
}

// New creates a Puller. concurrency <= 0 uses DefaultConcurrency.
func New(client *driveapi.Client, ds layout.DriveStructure, concurrency int) *Puller {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Puller{client: client, ds: ds, concurrency: concurrency}
}

// FetchChanges returns up to batchSize documents after checkpoint, plus
// the checkpoint to resume from on the next call (spec §4.5). Calling
// repeatedly with the returned checkpoint eventually converges on
// {Changes: nil, Checkpoint: unchanged}.
func (p *Puller) FetchChanges(ctx context.Context, checkpoint Checkpoint, batchSize int) (Result, error) {
	listOpts := driveapi.ListOptions{
		Query:    fmt.Sprintf("parent = %q and trashed = false", p.ds.DocsFolderID),
		OrderBy:  "modifiedTime asc, name asc",
		PageSize: batchSize + overfetch,
	}
	if !checkpoint.ModifiedTime.IsZero() {
		listOpts.ModifiedTimeGTE = checkpoint.ModifiedTime
	}

	files, err := p.client.ListFolder(ctx, p.ds.DocsFolderID, listOpts)
	if err != nil {
		return Result{}, fmt.Errorf("fetch changes: list: %w", err)
	}

	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].ModifiedTime.Equal(files[j].ModifiedTime) {
			return files[i].ModifiedTime.Before(files[j].ModifiedTime)
		}
		return files[i].Name < files[j].Name
	})

	var filtered []driveapi.FileMeta
	for _, f := range files {
		if f.ModifiedTime.Equal(checkpoint.ModifiedTime) && checkpoint.hasName(f.Name) {
			continue
		}
		filtered = append(filtered, f)
	}

	if len(filtered) > batchSize {
		filtered = filtered[:batchSize]
	}

	if len(filtered) == 0 {
		return Result{Changes: nil, Checkpoint: checkpoint}, nil
	}

	newCheckpoint := nextCheckpoint(checkpoint, filtered)

	changes, err := p.downloadAll(ctx, filtered)
	if err != nil {
		return Result{}, fmt.Errorf("fetch changes: download: %w", err)
	}

	return Result{Changes: changes, Checkpoint: newCheckpoint}, nil
}

// nextCheckpoint computes the checkpoint to resume from (spec §4.5 step
// 4): modifiedTime of the last returned file; tie names are every
// returned file sharing that modifiedTime, plus the old checkpoint's tie
// names if the first returned file's modifiedTime equals the old
// checkpoint's (the page straddles a tie cluster).
func nextCheckpoint(old Checkpoint, filtered []driveapi.FileMeta) Checkpoint {
	last := filtered[len(filtered)-1].ModifiedTime

	var tieNames []string
	for _, f := range filtered {
		if f.ModifiedTime.Equal(last) {
			tieNames = append(tieNames, f.Name)
		}
	}

	if filtered[0].ModifiedTime.Equal(old.ModifiedTime) {
		for _, n := range old.TieNames {
			if !contains(tieNames, n) {
				tieNames = append(tieNames, n)
			}
		}
	}

	return Checkpoint{ModifiedTime: last, TieNames: tieNames}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// downloadAll fetches each file's JSON content with bounded concurrency,
// preserving the caller's ordering in the result slice.
func (p *Puller) downloadAll(ctx context.Context, files []driveapi.FileMeta) ([]Change, error) {
	changes := make([]Change, len(files))
	errsOut := make([]error, len(files))

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup

	for i, f := range files {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, f driveapi.FileMeta) {
			defer wg.Done()
			defer func() { <-sem }()

			var doc any
			if err := p.client.DownloadJSON(ctx, f.ID, &doc); err != nil {
				errsOut[i] = fmt.Errorf("download %s: %w", f.Name, err)
				return
			}
			changes[i] = Change{PrimaryKey: layout.PrimaryKeyFromName(f.Name), Document: doc}
		}(i, f)
	}

	wg.Wait()

	for _, err := range errsOut {
		if err != nil {
			return nil, err
		}
	}
	return changes, nil
}
