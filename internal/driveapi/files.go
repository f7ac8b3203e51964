package driveapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"drivesync/internal/errs"
)

// ListFolder lists the children of folderID, optionally filtered and
// ordered (spec §4.1; used by §4.5 downstream pagination and §4.6
// signaling polling).
func (c *Client) ListFolder(ctx context.Context, folderID string, opts ListOptions) ([]FileMeta, error) {
	q := url.Values{}
	query := opts.Query
	if query == "" {
		query = fmt.Sprintf("parent = %q and trashed = false", folderID)
	}
	if !opts.ModifiedTimeGTE.IsZero() {
		query += fmt.Sprintf(" and modifiedTime >= %q", opts.ModifiedTimeGTE.UTC().Format(time.RFC3339Nano))
	}
	q.Set("q", query)
	if opts.OrderBy != "" {
		q.Set("orderBy", opts.OrderBy)
	}
	if opts.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(opts.PageSize))
	}

	resp, err := c.request(ctx, http.MethodGet, "/drive/v3/files", q, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", folderID, err)
	}
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out struct {
		Files []FileMeta `json:"files"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, fmt.Errorf("list folder %s: decode: %w", folderID, err)
	}
	return out.Files, nil
}

// FindByName looks up the file named name directly under parentID,
// returning ok=false if none exists. Used by internal/wal for conflict
// lookups and to partition staged rows into updates vs inserts.
func (c *Client) FindByName(ctx context.Context, parentID, name string) (meta FileMeta, ok bool, err error) {
	existing, err := c.listChildrenByName(ctx, parentID, name, "")
	if err != nil {
		return FileMeta{}, false, fmt.Errorf("find %q: %w", name, err)
	}
	if len(existing) == 0 {
		return FileMeta{}, false, nil
	}
	return firstFileByID(existing), true, nil
}

// GetMeta fetches fileID's metadata (id, name, etag, modifiedTime)
// without downloading its content. internal/txn uses this to read the
// transaction/blocker file's current etag and lease start time before
// attempting a conditional write.
func (c *Client) GetMeta(ctx context.Context, fileID string) (FileMeta, error) {
	resp, err := c.request(ctx, http.MethodGet, "/drive/v3/files/"+fileID, nil, nil, nil)
	if err != nil {
		return FileMeta{}, fmt.Errorf("get meta %s: %w", fileID, err)
	}
	if err := checkStatus(resp); err != nil {
		return FileMeta{}, err
	}
	var out FileMeta
	if err := decodeJSON(resp, &out); err != nil {
		return FileMeta{}, fmt.Errorf("get meta %s: decode: %w", fileID, err)
	}
	return out, nil
}

// DownloadJSON fetches fileID's media content and decodes it as JSON
// into out.
func (c *Client) DownloadJSON(ctx context.Context, fileID string, out any) error {
	resp, err := c.request(ctx, http.MethodGet, "/drive/v3/files/"+fileID, url.Values{"alt": {"media"}}, nil, nil)
	if err != nil {
		return fmt.Errorf("download %s: %w", fileID, err)
	}
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := decodeJSON(resp, out); err != nil {
		return fmt.Errorf("download %s: decode: %w", fileID, err)
	}
	return nil
}

// UploadMultipart creates a new file under parentID with the given name
// and JSON payload. It is idempotent by (parentID, name): if a file of
// that name already exists, its id is returned instead of creating a
// duplicate (spec §4.4's insert-idempotence relies on this).
func (c *Client) UploadMultipart(ctx context.Context, parentID, name string, payload any) (FileHandle, error) {
	existing, err := c.listChildrenByName(ctx, parentID, name, "")
	if err != nil {
		return FileHandle{}, fmt.Errorf("upload %q: list: %w", name, err)
	}
	if len(existing) > 0 {
		f := firstFileByID(existing)
		return FileHandle{ID: f.ID, ETag: f.ETag}, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return FileHandle{}, err
	}
	created, err := c.createFile(ctx, parentID, name, "application/json", body)
	if err != nil {
		return FileHandle{}, fmt.Errorf("upload %q: %w", name, err)
	}
	return FileHandle{ID: created.ID, ETag: created.ETag}, nil
}

// PatchMedia overwrites fileID's content unconditionally, used by §4.4's
// WAL apply for existing documents.
func (c *Client) PatchMedia(ctx context.Context, fileID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := c.request(ctx, http.MethodPatch, "/upload/drive/v3/files/"+fileID, url.Values{"uploadType": {"media"}}, nil, body)
	if err != nil {
		return fmt.Errorf("patch media %s: %w", fileID, err)
	}
	return checkStatus(resp)
}

// ConditionalFillIfEtag writes payload to fileID only if its current
// stored etag still equals etag (spec §4.1/§4.3). Used exclusively by
// internal/txn for the transaction and blocker files.
func (c *Client) ConditionalFillIfEtag(ctx context.Context, fileID, etag string, payload any) (FileHandle, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return FileHandle{}, err
	}
	headers := map[string]string{"If-Match": etag}
	resp, err := c.request(ctx, http.MethodPatch, "/upload/drive/v3/files/"+fileID, url.Values{"uploadType": {"media"}}, headers, body)
	if err != nil {
		return FileHandle{}, fmt.Errorf("conditional write %s: %w", fileID, err)
	}
	if resp.StatusCode == http.StatusPreconditionFailed {
		resp.Body.Close()
		return FileHandle{}, errs.ErrEtagMismatch
	}
	if err := checkStatus(resp); err != nil {
		return FileHandle{}, err
	}
	var out FileMeta
	if err := decodeJSON(resp, &out); err != nil {
		return FileHandle{}, err
	}
	return FileHandle{ID: out.ID, ETag: out.ETag}, nil
}

// DeleteFile removes fileID.
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	resp, err := c.request(ctx, http.MethodDelete, "/drive/v3/files/"+fileID, nil, nil, nil)
	if err != nil {
		return fmt.Errorf("delete %s: %w", fileID, err)
	}
	return checkStatus(resp)
}

// BatchDelete removes multiple files in a single round trip via the
// cloud file service's REST v2 batch endpoint (spec §6 names this
// endpoint but no spec.md operation used it; internal/signaling's
// garbage collection is the natural caller — see SPEC_FULL.md §4.8).
func (c *Client) BatchDelete(ctx context.Context, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return nil
	}
	body := struct {
		IDs []string `json:"ids"`
	}{IDs: fileIDs}
	resp, err := c.request(ctx, http.MethodPost, "/batch/drive/v2", nil, nil, mustMarshal(body))
	if err != nil {
		return fmt.Errorf("batch delete: %w", err)
	}
	return checkStatus(resp)
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
