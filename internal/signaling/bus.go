package signaling

import (
	"context"
	"fmt"
	"time"

	"drivesync/internal/driveapi"
	"drivesync/internal/layout"
)

// DefaultMaxMessageAge is cleanupOldSignalingMessages' default cutoff
// (spec §4.6: "deletes files older than maxAgeMs (default 24h)").
const DefaultMaxMessageAge = 24 * time.Hour

// gcPageSize bounds how many stale files a single cleanup pass deletes,
// mirroring the batch endpoint's intended use (SPEC_FULL.md §4.8).
const gcPageSize = 100

// bus wraps the raw driveapi calls signaling needs: sending a message
// file, listing the log, and garbage-collecting old entries. Split out
// from Signaling so the poll/dispatch logic in mesh.go can be tested
// independently of the message-file format.
type bus struct {
	client *driveapi.Client
	ds     layout.DriveStructure
}

// sendMessage writes payload, wrapped in a Message envelope, as a new
// file in signaling/ under this peer's sessionID (spec §3 naming
// scheme). Each send gets a fresh timestamp and messageId so concurrent
// sends from the same peer never collide.
func (b *bus) sendMessage(ctx context.Context, sessionID string, payload []byte) error {
	msg := Message{
		SessionID: sessionID,
		Timestamp: time.Now().UTC().UnixMilli(),
		MessageID: newMessageID(),
		Payload:   payload,
	}
	_, err := b.client.UploadMultipart(ctx, b.ds.SignalingFolderID, fileName(msg.SessionID, msg.Timestamp, msg.MessageID), msg)
	if err != nil {
		return fmt.Errorf("send signal message: %w", err)
	}
	return nil
}

// listMessages lists signaling/ ordered oldest-first (spec §4.6: list by
// createdTime desc, limit 1000, then reverse client-side), up to 1000
// entries.
func (b *bus) listMessages(ctx context.Context) ([]driveapi.FileMeta, error) {
	files, err := b.client.ListFolder(ctx, b.ds.SignalingFolderID, driveapi.ListOptions{
		OrderBy:  "createdTime desc",
		PageSize: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("list signaling messages: %w", err)
	}
	reverse(files)
	return files, nil
}

func reverse(files []driveapi.FileMeta) {
	for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
		files[i], files[j] = files[j], files[i]
	}
}

// downloadMessage fetches and decodes one signal file's content.
func (b *bus) downloadMessage(ctx context.Context, fileID string) (Message, error) {
	var msg Message
	if err := b.client.DownloadJSON(ctx, fileID, &msg); err != nil {
		return Message{}, fmt.Errorf("download signal message: %w", err)
	}
	return msg, nil
}

// cleanupOldSignalingMessages deletes signal files older than maxAge
// (spec §4.6). The reference implementation's early return before doing
// any work is treated as a bug (DESIGN.md Open Question 1): this runs
// the real list/filter/batch-delete body.
func (b *bus) cleanupOldSignalingMessages(ctx context.Context, maxAge time.Duration) error {
	if maxAge <= 0 {
		maxAge = DefaultMaxMessageAge
	}
	files, err := b.client.ListFolder(ctx, b.ds.SignalingFolderID, driveapi.ListOptions{PageSize: 1000})
	if err != nil {
		return fmt.Errorf("cleanup signaling messages: list: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var stale []string
	for _, f := range files {
		created := f.CreatedTime
		if created.IsZero() {
			created = f.ModifiedTime
		}
		if created.Before(cutoff) {
			stale = append(stale, f.ID)
		}
	}

	for start := 0; start < len(stale); start += gcPageSize {
		end := start + gcPageSize
		if end > len(stale) {
			end = len(stale)
		}
		if err := b.client.BatchDelete(ctx, stale[start:end]); err != nil {
			return fmt.Errorf("cleanup signaling messages: batch delete: %w", err)
		}
	}
	return nil
}
