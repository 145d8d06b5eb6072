// Package artifact uploads a build output directory to the object store under
// the project's output prefix.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"git.home.luguber.info/inful/pagedeploy/internal/logfields"
	"git.home.luguber.info/inful/pagedeploy/internal/storage"
)

// OutputsPrefix is the key prefix all published projects live under.
const OutputsPrefix = "__outputs"

// DefaultContentType is used when the extension has no known MIME type.
const DefaultContentType = "application/octet-stream"

// File is one regular file scheduled for upload.
type File struct {
	// RelativePath is slash-separated and relative to the output directory.
	RelativePath string
	SourcePath   string
	ContentType  string
	Size         int64
}

// UploadError reports the file whose upload failed. Files after it were not attempted.
type UploadError struct {
	RelativePath string
	Err          error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.RelativePath, e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// ErrInvalidProjectID is returned for ids that cannot form a single key segment.
var ErrInvalidProjectID = errors.New("invalid project id")

// ValidateProjectID checks that id is usable as one segment of an object key
// and of an upstream URL: non-empty, no slash or backslash, not "." or "..".
func ValidateProjectID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidProjectID)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidProjectID, id)
	case strings.ContainsAny(id, "/\\"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidProjectID, id)
	}
	return nil
}

// ObjectKey returns the storage key for a file of a project:
// __outputs/{projectID}/{relativePath}. The parts are joined verbatim;
// callers validate projectID with ValidateProjectID.
func ObjectKey(projectID, relativePath string) string {
	return OutputsPrefix + "/" + projectID + "/" + strings.TrimPrefix(filepath.ToSlash(relativePath), "/")
}

// ContentType derives a MIME type from the file extension.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return DefaultContentType
}

// Publisher uploads the files of one project.
type Publisher struct {
	store     storage.ObjectStore
	projectID string
	// OnUploaded, when set, is called after each successful upload.
	OnUploaded func(f File)
}

// NewPublisher creates a publisher writing to store for projectID.
func NewPublisher(store storage.ObjectStore, projectID string) *Publisher {
	return &Publisher{store: store, projectID: projectID}
}

// Collect lists the regular files below outputDir sorted by relative path.
// Directories and symlinks are skipped.
func Collect(outputDir string) ([]File, error) {
	var files []File
	err := filepath.WalkDir(outputDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(outputDir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, File{
			RelativePath: filepath.ToSlash(rel),
			SourcePath:   p,
			ContentType:  ContentType(p),
			Size:         info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk output directory: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelativePath < files[j].RelativePath })
	return files, nil
}

// Publish uploads every file below outputDir in lexicographic order of its
// relative path and returns the number uploaded. It stops at the first failed
// upload and returns an *UploadError; objects already written stay in place.
func (p *Publisher) Publish(ctx context.Context, outputDir string) (int, error) {
	if err := ValidateProjectID(p.projectID); err != nil {
		return 0, err
	}
	files, err := Collect(outputDir)
	if err != nil {
		return 0, err
	}

	uploaded := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return uploaded, err
		}
		if err := p.upload(ctx, f); err != nil {
			return uploaded, &UploadError{RelativePath: f.RelativePath, Err: err}
		}
		uploaded++
		if p.OnUploaded != nil {
			p.OnUploaded(f)
		}
	}
	slog.Debug("Artifacts published", logfields.ProjectID(p.projectID), slog.Int("files", uploaded))
	return uploaded, nil
}

func (p *Publisher) upload(ctx context.Context, f File) error {
	// #nosec G304 - SourcePath comes from walking the build output directory
	file, err := os.Open(f.SourcePath)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	key := ObjectKey(p.projectID, f.RelativePath)
	slog.Debug("Uploading object", logfields.Key(key), logfields.File(f.RelativePath))
	return p.store.Put(ctx, key, file, f.Size, f.ContentType)
}
