package driveapi

import (
	"context"
	"fmt"
	"net/url"
	"sort"
)

// EnsureFolder creates a folder named name under parentID if one doesn't
// already exist, and is idempotent under concurrent callers: per spec
// §4.1, implemented as list-then-create inside a best-effort
// check-and-set loop. If two peers race and both create a folder with
// the same name, the lexicographically first id wins and the loser is
// left behind (orphaned but harmless — nothing ever references it).
func (c *Client) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	existing, err := c.listChildrenByName(ctx, parentID, name, folderMimeType)
	if err != nil {
		return "", fmt.Errorf("ensure folder %q: list: %w", name, err)
	}
	if len(existing) > 0 {
		return firstByID(existing), nil
	}

	created, err := c.createFolder(ctx, parentID, name)
	if err != nil {
		return "", fmt.Errorf("ensure folder %q: create: %w", name, err)
	}

	// Re-list to detect a concurrent creator. This is the "best-effort
	// check-and-set": the window between our list and our create is
	// where a race can happen, so we re-check afterward.
	after, err := c.listChildrenByName(ctx, parentID, name, folderMimeType)
	if err != nil {
		// We did create a folder; if the re-list fails we still have a
		// usable id, so don't fail the whole call.
		return created, nil
	}
	if len(after) == 0 {
		return created, nil
	}
	return firstByID(after), nil
}

// CreateEmptyFile creates a zero-byte file named name under parentID,
// idempotent by (parentID, name) with the same first-listing-wins policy
// as EnsureFolder (spec §4.1).
func (c *Client) CreateEmptyFile(ctx context.Context, parentID, name string) (FileHandle, error) {
	existing, err := c.listChildrenByName(ctx, parentID, name, "")
	if err != nil {
		return FileHandle{}, fmt.Errorf("create empty file %q: list: %w", name, err)
	}
	if len(existing) > 0 {
		f := firstFileByID(existing)
		return FileHandle{ID: f.ID, ETag: f.ETag}, nil
	}

	created, err := c.createFile(ctx, parentID, name, "", nil)
	if err != nil {
		return FileHandle{}, fmt.Errorf("create empty file %q: %w", name, err)
	}

	after, err := c.listChildrenByName(ctx, parentID, name, "")
	if err != nil || len(after) == 0 {
		return FileHandle{ID: created.ID, ETag: created.ETag}, nil
	}
	f := firstFileByID(after)
	return FileHandle{ID: f.ID, ETag: f.ETag}, nil
}

func (c *Client) listChildrenByName(ctx context.Context, parentID, name, mimeType string) ([]FileMeta, error) {
	q := fmt.Sprintf("parent = %q and name = %q and trashed = false", parentID, name)
	if mimeType != "" {
		q += fmt.Sprintf(" and mimeType = %q", mimeType)
	}
	return c.ListFolder(ctx, parentID, ListOptions{Query: q, OrderBy: "name asc"})
}

func (c *Client) createFolder(ctx context.Context, parentID, name string) (string, error) {
	meta := map[string]any{
		"name":     name,
		"parents":  []string{parentID},
		"mimeType": folderMimeType,
	}
	resp, err := c.request(ctx, "POST", "/drive/v3/files", url.Values{}, nil, mustMarshal(meta))
	if err != nil {
		return "", err
	}
	if err := checkStatus(resp); err != nil {
		return "", err
	}
	var out FileMeta
	if err := decodeJSON(resp, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *Client) createFile(ctx context.Context, parentID, name, mimeType string, content []byte) (FileMeta, error) {
	meta := map[string]any{
		"name":    name,
		"parents": []string{parentID},
	}
	payload := struct {
		Metadata map[string]any `json:"metadata"`
		Content  string         `json:"content,omitempty"`
	}{Metadata: meta, Content: string(content)}

	resp, err := c.request(ctx, "POST", "/upload/drive/v3/files", url.Values{"uploadType": {"multipart"}}, nil, mustMarshal(payload))
	if err != nil {
		return FileMeta{}, err
	}
	if err := checkStatus(resp); err != nil {
		return FileMeta{}, err
	}
	var out FileMeta
	if err := decodeJSON(resp, &out); err != nil {
		return FileMeta{}, err
	}
	return out, nil
}

func firstByID(files []FileMeta) string {
	return firstFileByID(files).ID
}

func firstFileByID(files []FileMeta) FileMeta {
	sorted := make([]FileMeta, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return sorted[0]
}
