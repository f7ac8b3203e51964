package downstream

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// fakeDriveServer is a minimal in-memory stand-in for the cloud file
// service covering the surface internal/downstream and internal/layout
// exercise: folder/file creation, filtered+ordered listing, and media
// download/update.
type fakeDriveServer struct {
	mu      sync.Mutex
	files   map[string]*fileRecord
	content map[string][]byte
	seq     int
}

type fileRecord struct {
	ID           string
	Name         string
	Parent       string
	MimeType     string
	ETag         string
	ModifiedTime time.Time
	Trashed      bool
}

func newFakeDriveServer() *fakeDriveServer {
	return &fakeDriveServer{files: map[string]*fileRecord{}, content: map[string][]byte{}}
}

func (s *fakeDriveServer) nextID() string {
	s.seq++
	return fmt.Sprintf("id-%04d", s.seq)
}

func (s *fakeDriveServer) newEtag(b []byte) string {
	h := sha1.Sum(b)
	return fmt.Sprintf("%x", h[:6])
}

func (s *fakeDriveServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/drive/v3/files", s.handleCollection)
	mux.HandleFunc("/upload/drive/v3/files", s.handleCreateUpload)
	mux.HandleFunc("/drive/v3/files/", s.handleItem)
	mux.HandleFunc("/upload/drive/v3/files/", s.handleMediaUpdate)
	return mux
}

func (s *fakeDriveServer) handleCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query().Get("q")
		parent, name, mimeType, modifiedTimeGTE := parseQuery(q)

		s.mu.Lock()
		defer s.mu.Unlock()
		var out []map[string]any
		for _, f := range s.files {
			if parent != "" && f.Parent != parent {
				continue
			}
			if name != "" && f.Name != name {
				continue
			}
			if mimeType != "" && f.MimeType != mimeType {
				continue
			}
			if !modifiedTimeGTE.IsZero() && f.ModifiedTime.Before(modifiedTimeGTE) {
				continue
			}
			out = append(out, recordJSON(f))
		}
		writeJSON(w, map[string]any{"files": out})
	case http.MethodPost:
		var body struct {
			Name     string `json:"name"`
			MimeType string `json:"mimeType"`
			Parents  []string
		}
		json.NewDecoder(r.Body).Decode(&body)
		s.mu.Lock()
		parent := ""
		if len(body.Parents) > 0 {
			parent = body.Parents[0]
		}
		f := s.insertLocked(body.Name, parent, body.MimeType, nil)
		s.mu.Unlock()
		writeJSON(w, recordJSON(f))
	}
}

func (s *fakeDriveServer) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	var env struct {
		Metadata struct {
			Name    string   `json:"name"`
			Parents []string `json:"parents"`
		} `json:"metadata"`
		Content string `json:"content"`
	}
	json.NewDecoder(r.Body).Decode(&env)

	parent := ""
	if len(env.Metadata.Parents) > 0 {
		parent = env.Metadata.Parents[0]
	}

	s.mu.Lock()
	f := s.insertLocked(env.Metadata.Name, parent, "", []byte(env.Content))
	s.mu.Unlock()
	writeJSON(w, recordJSON(f))
}

func (s *fakeDriveServer) handleItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/drive/v3/files/")
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("alt") == "media" {
			s.mu.Lock()
			b, ok := s.content[id]
			s.mu.Unlock()
			if !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			w.Write(b)
			return
		}
		s.mu.Lock()
		f, ok := s.files[id]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		writeJSON(w, recordJSON(f))
	case http.MethodDelete:
		s.mu.Lock()
		delete(s.files, id)
		delete(s.content, id)
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *fakeDriveServer) handleMediaUpdate(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/upload/drive/v3/files/")
	body := readAll(r)

	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if etag := r.Header.Get("If-Match"); etag != "" && etag != f.ETag {
		http.Error(w, "precondition failed", http.StatusPreconditionFailed)
		return
	}
	f.ETag = s.newEtag(body)
	f.ModifiedTime = time.Now().UTC()
	s.content[id] = body
	writeJSON(w, recordJSON(f))
}

// insertLocked must be called with s.mu held. Dedupes by (parent, name,
// mimeType), mirroring the real service's behavior two racing creators
// would observe after both re-list.
func (s *fakeDriveServer) insertLocked(name, parent, mimeType string, content []byte) *fileRecord {
	for _, f := range s.files {
		if f.Name == name && f.Parent == parent && f.MimeType == mimeType {
			return f
		}
	}
	id := s.nextID()
	f := &fileRecord{
		ID:           id,
		Name:         name,
		Parent:       parent,
		MimeType:     mimeType,
		ETag:         s.newEtag(append([]byte(id), content...)),
		ModifiedTime: time.Now().UTC(),
	}
	s.files[id] = f
	if content != nil {
		s.content[id] = content
	}
	return f
}

func recordJSON(f *fileRecord) map[string]any {
	return map[string]any{
		"id":           f.ID,
		"name":         f.Name,
		"etag":         f.ETag,
		"mimeType":     f.MimeType,
		"modifiedTime": f.ModifiedTime,
		"trashed":      f.Trashed,
	}
}

func parseQuery(q string) (parent, name, mimeType string, modifiedTimeGTE time.Time) {
	for _, clause := range strings.Split(q, " and ") {
		clause = strings.TrimSpace(clause)
		if v, ok := extractQuoted(clause, "parent"); ok {
			parent = v
		}
		if v, ok := extractQuoted(clause, "name"); ok {
			name = v
		}
		if v, ok := extractQuoted(clause, "mimeType"); ok {
			mimeType = v
		}
		if v, ok := extractQuoted(clause, "modifiedTime >="); ok {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				modifiedTimeGTE = t
			}
		}
	}
	return parent, name, mimeType, modifiedTimeGTE
}

func extractQuoted(clause, field string) (string, bool) {
	prefix := field + ` "`
	if !strings.HasSuffix(field, "=") {
		prefix = field + ` = "`
	}
	if !strings.HasPrefix(clause, prefix) {
		return "", false
	}
	rest := clause[len(prefix):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func readAll(r *http.Request) []byte {
	buf := make([]byte, r.ContentLength)
	io.ReadFull(r.Body, buf)
	return buf
}
