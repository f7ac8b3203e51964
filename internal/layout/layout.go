// Package layout materializes the fixed folder hierarchy under a
// replication's folderPath and caches the opaque ids that name it
// (spec §4.2): root, docs/, signaling/, transaction, blocker, wal.
//
// Grounded on the teacher's internal/store.New: an ordered multi-step
// idempotent startup sequence (ensure dir -> load -> open -> replay).
package layout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"drivesync/internal/driveapi"
	"drivesync/internal/errs"
)

const (
	docsSubfolder      = "docs"
	signalingSubfolder = "signaling"
	transactionFile    = "transaction"
	blockerFile         = "blocker"
	walFile            = "wal"
)

// DriveStructure is an immutable record of opaque ids for one
// replication. It is owned by the orchestrator for the replication's
// lifetime; every component receives it by value (spec §3 Ownership).
type DriveStructure struct {
	ReplicationIdentifier string
	RootFolderID          string
	DocsFolderID          string
	SignalingFolderID     string
	TransactionFileID     string
	BlockerFileID         string
	WALFileID             string
}

// Options configures InitDriveStructure (spec §6 configuration:
// googleDrive.folderPath + replicationIdentifier salt inputs).
type Options struct {
	FolderPath string
	// PrimaryKeyField is mixed into ReplicationIdentifier so two
	// replications over the same folder but different primary keys
	// don't collide.
	PrimaryKeyField string
}

// InitDriveStructure validates folderPath, ensures the folder chain and
// fixed files/subfolders exist, and returns the resulting DriveStructure.
// Two concurrent calls for the same options must resolve to
// byte-identical DriveStructure values (spec §4.2) because every
// underlying driveapi call is itself idempotent.
func InitDriveStructure(ctx context.Context, client *driveapi.Client, opts Options) (DriveStructure, error) {
	if err := validateFolderPath(opts.FolderPath); err != nil {
		return DriveStructure{}, err
	}

	rootID, err := ensureFolderChain(ctx, client, opts.FolderPath)
	if err != nil {
		return DriveStructure{}, fmt.Errorf("init drive structure: %w", err)
	}

	docsID, err := client.EnsureFolder(ctx, rootID, docsSubfolder)
	if err != nil {
		return DriveStructure{}, fmt.Errorf("init drive structure: ensure docs/: %w", err)
	}
	signalingID, err := client.EnsureFolder(ctx, rootID, signalingSubfolder)
	if err != nil {
		return DriveStructure{}, fmt.Errorf("init drive structure: ensure signaling/: %w", err)
	}

	txHandle, err := client.CreateEmptyFile(ctx, rootID, transactionFile)
	if err != nil {
		return DriveStructure{}, fmt.Errorf("init drive structure: ensure transaction: %w", err)
	}
	blockerHandle, err := client.CreateEmptyFile(ctx, rootID, blockerFile)
	if err != nil {
		return DriveStructure{}, fmt.Errorf("init drive structure: ensure blocker: %w", err)
	}
	walHandle, err := client.CreateEmptyFile(ctx, rootID, walFile)
	if err != nil {
		return DriveStructure{}, fmt.Errorf("init drive structure: ensure wal: %w", err)
	}

	return DriveStructure{
		ReplicationIdentifier: replicationIdentifier(opts.FolderPath, opts.PrimaryKeyField),
		RootFolderID:          rootID,
		DocsFolderID:          docsID,
		SignalingFolderID:     signalingID,
		TransactionFileID:     txHandle.ID,
		BlockerFileID:         blockerHandle.ID,
		WALFileID:             walHandle.ID,
	}, nil
}

// validateFolderPath rejects the empty path and the two spellings of
// root (spec §4.2, §6).
func validateFolderPath(folderPath string) error {
	trimmed := strings.Trim(folderPath, "/")
	if folderPath == "" || folderPath == "/" || strings.EqualFold(trimmed, "root") || trimmed == "" {
		return errs.ErrInvalidRoot
	}
	return nil
}

// ensureFolderChain walks folderPath segment by segment, ensuring each
// level exists under its parent, starting from the cloud file service's
// implicit root.
func ensureFolderChain(ctx context.Context, client *driveapi.Client, folderPath string) (string, error) {
	parent := "root"
	for _, segment := range strings.Split(strings.Trim(folderPath, "/"), "/") {
		if segment == "" {
			continue
		}
		id, err := client.EnsureFolder(ctx, parent, segment)
		if err != nil {
			return "", fmt.Errorf("ensure folder chain at %q: %w", segment, err)
		}
		parent = id
	}
	return parent, nil
}

// replicationIdentifier derives a stable hash from the folder path and
// primary-key field, per spec §3's Drive Structure definition. Grounded
// on internal/cluster/ring.go's hash method, which also truncates a
// stdlib hash to a fixed-width id.
func replicationIdentifier(folderPath, primaryKeyField string) string {
	h := sha256.Sum256([]byte(folderPath + "\x00" + primaryKeyField))
	return hex.EncodeToString(h[:8])
}

// SanitizeName derives the docs/ filename for a primary key (spec §3:
// "<primaryKey>.json"). Kept here because it's part of the same
// naming contract InitDriveStructure establishes, and internal/wal and
// internal/downstream both need it to agree on the same mapping.
func SanitizeName(primaryKey string) string {
	return primaryKey + ".json"
}

// PrimaryKeyFromName reverses SanitizeName, used by downstream when
// reconstructing primary keys from listed filenames.
func PrimaryKeyFromName(name string) string {
	return strings.TrimSuffix(name, ".json")
}
