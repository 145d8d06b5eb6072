package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const metaSuffix = ".meta.json"

// FSStore writes objects below a base directory, one file per key:
//
//	<base>/
//	  __outputs/
//	    proj-1/
//	      index.html
//	      index.html.meta.json (content type and write time)
//
// It also serves the stored objects over HTTP so a local proxy can use it as
// its upstream.
type FSStore struct {
	basePath string
	mu       sync.RWMutex
}

// metadata is the sidecar written next to each object.
type metadata struct {
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	WrittenAt   time.Time `json:"written_at"`
}

// NewFSStore creates the base directory if needed.
func NewFSStore(basePath string) (*FSStore, error) {
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", basePath, err)
	}
	return &FSStore{basePath: basePath}, nil
}

// Put writes the object and its metadata sidecar.
func (fs *FSStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	objectPath, err := fs.objectPath(key)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(objectPath), 0o750); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	// write to a temp file first so readers never see a partial object
	tmp, err := os.CreateTemp(filepath.Dir(objectPath), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp object: %w", err)
	}
	written, copyErr := io.Copy(tmp, body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write object %s: %w", key, errors.Join(copyErr, closeErr))
	}
	if size >= 0 && written != size {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write object %s: wrote %d bytes, expected %d", key, written, size)
	}
	if err := os.Rename(tmp.Name(), objectPath); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("commit object %s: %w", key, err)
	}

	meta := metadata{ContentType: contentType, Size: written, WrittenAt: time.Now().UTC()}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(objectPath+metaSuffix, data, 0o600); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

// Get reads an object and its content type.
func (fs *FSStore) Get(ctx context.Context, key string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	objectPath, err := fs.objectPath(key)
	if err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	// #nosec G304 - objectPath is confined to basePath by objectPath()
	data, err := os.ReadFile(objectPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object: %w", err)
	}
	return &Object{Key: key, ContentType: fs.readContentType(objectPath), Data: data}, nil
}

func (fs *FSStore) readContentType(objectPath string) string {
	// #nosec G304 - sidecar next to a confined object path
	raw, err := os.ReadFile(objectPath + metaSuffix)
	if err != nil {
		return ""
	}
	var meta metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return ""
	}
	return meta.ContentType
}

// objectPath maps a key to a file below basePath, rejecting keys that would
// escape it or collide with metadata sidecars.
func (fs *FSStore) objectPath(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || strings.HasSuffix(clean, metaSuffix) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(fs.basePath, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

// ServeHTTP serves GET and HEAD requests for stored objects; the request path
// is the object key.
func (fs *FSStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	objectPath, err := fs.objectPath(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	// #nosec G304 - objectPath is confined to basePath by objectPath()
	f, err := os.Open(objectPath)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	if ct := fs.readContentType(objectPath); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
