package wal

import "drivesync/internal/docfile"

// Row is one staged mutation (spec §3 WAL, §4.4).
type Row struct {
	PrimaryKey string `json:"primaryKey"`
	// NewDocumentState is the document to write.
	NewDocumentState docfile.Document `json:"newDocumentState"`
	// AssumedMasterState is what the caller believed the document looked
	// like before this write. A nil pointer means "pure insert, cannot
	// conflict"; a non-nil Document, even one with no fields, is compared
	// against the stored state.
	AssumedMasterState *docfile.Document `json:"assumedMasterState,omitempty"`
}

// File is the on-disk shape of the wal file (spec §3).
type File struct {
	Rows []Row `json:"rows"`
}

// Conflict describes a row that was not staged because the live
// document had already moved past the caller's assumed state.
type Conflict struct {
	Row             Row
	CurrentDocument docfile.Document
}
