package downstream

import "time"

// Checkpoint marks a position in the docs/ listing order (spec §3):
// names, not file ids, are stored because listing returns names
// consistently whereas ids change across re-creations.
type Checkpoint struct {
	ModifiedTime time.Time `json:"modifiedTime"`
	// TieNames holds every primary-key name already delivered at
	// ModifiedTime, so a tie cluster straddling a page boundary is
	// never re-delivered nor dropped.
	TieNames []string `json:"docIdsWithSameModifiedTime"`
}

// hasName reports whether name is already recorded as delivered at this
// checkpoint's ModifiedTime.
func (c Checkpoint) hasName(name string) bool {
	for _, n := range c.TieNames {
		if n == name {
			return true
		}
	}
	return false
}

// Change pairs a delivered document with the primary key it was stored
// under (spec §4.5 step 5).
type Change struct {
	PrimaryKey string
	Document   any
}

// Result is FetchChanges' return value.
type Result struct {
	Changes    []Change
	Checkpoint Checkpoint
}
