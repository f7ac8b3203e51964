package layout

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sync"
)

// fakeDriveServer is a small in-memory stand-in for the cloud file
// service, covering just the folder/file-creation surface
// InitDriveStructure exercises (EnsureFolder, CreateEmptyFile) including
// a (parent,name[,mimeType]) uniqueness check so idempotency can be
// asserted under concurrent callers.
type fakeDriveServer struct {
	mu    sync.Mutex
	seq   int
	files map[string]*fakeFile
}

type fakeFile struct {
	ID       string
	Name     string
	Parent   string
	MimeType string
	ETag     string
}

var queryRe = regexp.MustCompile(`(\w+) = "([^"]*)"`)

func newFakeDriveServer() *fakeDriveServer {
	return &fakeDriveServer{files: map[string]*fakeFile{}}
}

func (s *fakeDriveServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/drive/v3/files" && r.Method == http.MethodGet:
		s.list(w, r)
	case r.URL.Path == "/drive/v3/files" && r.Method == http.MethodPost:
		s.createFolder(w, r)
	case r.URL.Path == "/upload/drive/v3/files" && r.Method == http.MethodPost:
		s.createFile(w, r)
	default:
		http.Error(w, "unsupported in fake: "+r.URL.Path, http.StatusNotImplemented)
	}
}

func (s *fakeDriveServer) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	fields := map[string]string{}
	for _, m := range queryRe.FindAllStringSubmatch(q, -1) {
		fields[m[1]] = m[2]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []map[string]any
	for _, f := range s.files {
		if fields["parent"] != "" && f.Parent != fields["parent"] {
			continue
		}
		if fields["name"] != "" && f.Name != fields["name"] {
			continue
		}
		if mt, ok := fields["mimeType"]; ok && f.MimeType != mt {
			continue
		}
		out = append(out, map[string]any{"id": f.ID, "name": f.Name, "etag": f.ETag, "mimeType": f.MimeType})
	}
	json.NewEncoder(w).Encode(map[string]any{"files": out})
}

func (s *fakeDriveServer) createFolder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string   `json:"name"`
		Parents  []string `json:"parents"`
		MimeType string   `json:"mimeType"`
	}
	json.NewDecoder(r.Body).Decode(&body)

	s.mu.Lock()
	parent := ""
	if len(body.Parents) > 0 {
		parent = body.Parents[0]
	}
	f := s.insertLocked(body.Name, parent, body.MimeType)
	s.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]any{"id": f.ID, "name": f.Name, "etag": f.ETag, "mimeType": f.MimeType})
}

func (s *fakeDriveServer) createFile(w http.ResponseWriter, r *http.Request) {
	var env struct {
		Metadata struct {
			Name    string   `json:"name"`
			Parents []string `json:"parents"`
		} `json:"metadata"`
	}
	json.NewDecoder(r.Body).Decode(&env)

	s.mu.Lock()
	parent := ""
	if len(env.Metadata.Parents) > 0 {
		parent = env.Metadata.Parents[0]
	}
	f := s.insertLocked(env.Metadata.Name, parent, "")
	s.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]any{"id": f.ID, "name": f.Name, "etag": f.ETag})
}

// insertLocked must be called with s.mu held. It performs the same
// "lexicographically first id wins" race resolution the client assumes
// the server-side listing naturally provides: if a matching (parent,
// name, mimeType) record already exists, it's returned unchanged instead
// of creating a duplicate, simulating two concurrent creators converging
// after both re-list.
func (s *fakeDriveServer) insertLocked(name, parent, mimeType string) *fakeFile {
	for _, f := range s.files {
		if f.Name == name && f.Parent == parent && f.MimeType == mimeType {
			return f
		}
	}
	s.seq++
	f := &fakeFile{
		ID:       fmt.Sprintf("id-%04d", s.seq),
		Name:     name,
		Parent:   parent,
		MimeType: mimeType,
		ETag:     fmt.Sprintf("etag-%04d", s.seq),
	}
	s.files[f.ID] = f
	return f
}
