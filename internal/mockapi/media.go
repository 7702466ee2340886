package mockapi

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// maxUpload bounds a multipart request, file included.
const maxUpload = 10 << 20

type mediaFile struct {
	name        string
	contentType string
	data        []byte
	modified    time.Time
}

// MediaStore keeps uploaded images in memory and serves them under /media/.
type MediaStore struct {
	mu    sync.RWMutex
	files map[string]mediaFile
}

// NewMediaStore creates an empty media store.
func NewMediaStore() *MediaStore {
	return &MediaStore{files: make(map[string]mediaFile)}
}

// Save stores an uploaded file and returns its key.
func (m *MediaStore) Save(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	key := uuid.NewString() + ext
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}

	m.mu.Lock()
	m.files[key] = mediaFile{name: fh.Filename, contentType: contentType, data: data, modified: time.Now()}
	m.mu.Unlock()
	return key, nil
}

// Len returns the number of stored files.
func (m *MediaStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// ServeHTTP handles GET /media/{name}.
func (m *MediaStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "name")
	m.mu.RLock()
	f, ok := m.files[key]
	m.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", f.contentType)
	http.ServeContent(w, r, f.name, f.modified, bytes.NewReader(f.data))
}

// mediaURL returns the absolute URL the client uses to fetch key.
func mediaURL(r *http.Request, key string) string {
	return origin(r) + "/media/" + key
}

func origin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
