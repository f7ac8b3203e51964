package driveapi

import "time"

// FileMeta is the subset of the cloud file service's file resource this
// module cares about.
type FileMeta struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ETag         string    `json:"etag"`
	ModifiedTime time.Time `json:"modifiedTime"`
	CreatedTime  time.Time `json:"createdTime"`
	Trashed      bool      `json:"trashed"`
	MimeType     string    `json:"mimeType,omitempty"`
}

// FileHandle is returned by operations that create or conditionally
// write a file: just enough to address it and to race-detect the next
// conditional write.
type FileHandle struct {
	ID   string
	ETag string
}

const folderMimeType = "application/vnd.drivesync.folder"

// ListOptions configures ListFolder (spec §4.1, used by §4.5 downstream
// pagination and by §4.6 signaling's poll loop).
type ListOptions struct {
	// Query, when non-empty, replaces ListFolder's default
	// `parent = <folderID> and trashed = false` filter entirely, so it
	// must name the parent itself. ModifiedTimeGTE is still appended.
	Query string
	// ModifiedTimeGTE restricts results to files modified at or after
	// this time. Zero value means no lower bound.
	ModifiedTimeGTE time.Time
	// OrderBy is passed through verbatim, e.g. "modifiedTime asc, name asc"
	// or "createdTime desc".
	OrderBy string
	// PageSize caps the number of results; 0 means the server default.
	PageSize int
}
