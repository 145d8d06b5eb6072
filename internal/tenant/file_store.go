package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/pagedeploy/internal/logfields"
)

// DefaultReloadDebounce coalesces bursts of editor writes into one reload.
const DefaultReloadDebounce = 250 * time.Millisecond

// projectsFile is the on-disk YAML layout:
//
//	projects:
//	  - id: 6f1c...
//	    sub_domain: myapp
type projectsFile struct {
	Projects []Project `yaml:"projects"`
}

// FileStore serves projects from a YAML file and reloads it when the file
// changes. A reload that fails keeps the previous project set.
type FileStore struct {
	path     string
	mem      *MemoryStore
	debounce time.Duration
	writeMu  sync.Mutex

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	onReload []func()
	stopChan chan struct{}
	done     chan struct{}
}

// NewFileStore loads path once. Call Watch to pick up later edits.
func NewFileStore(path string) (*FileStore, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve projects file path: %w", err)
	}
	fs := &FileStore{
		path:     absPath,
		mem:      &MemoryStore{bySlug: map[string]Project{}},
		debounce: DefaultReloadDebounce,
	}
	if err := fs.Reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// OnReload registers fn to run after every successful reload, typically a
// cache invalidation hook.
func (fs *FileStore) OnReload(fn func()) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.onReload = append(fs.onReload, fn)
}

// Resolve returns the project registered under slug.
func (fs *FileStore) Resolve(ctx context.Context, slug string) (*Project, error) {
	return fs.mem.Resolve(ctx, slug)
}

// List returns all projects ordered by slug.
func (fs *FileStore) List(ctx context.Context) ([]Project, error) {
	return fs.mem.List(ctx)
}

// Add appends a project and rewrites the file. The in-memory set only
// changes once the file has been replaced.
func (fs *FileStore) Add(ctx context.Context, p Project) error {
	fs.writeMu.Lock()
	defer fs.writeMu.Unlock()

	current, err := fs.mem.List(ctx)
	if err != nil {
		return err
	}
	next, err := NewMemoryStore(append(current, p)...)
	if err != nil {
		return err
	}
	all, err := next.List(ctx)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(projectsFile{Projects: all})
	if err != nil {
		return fmt.Errorf("marshal projects: %w", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write projects file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace projects file: %w", err)
	}
	fs.mem.replace(next.bySlug)
	return nil
}

// Reload re-reads the file and swaps the project set atomically.
func (fs *FileStore) Reload() error {
	projects, err := readProjectsFile(fs.path)
	if err != nil {
		return err
	}
	fs.mem.replace(projects)

	fs.mu.Lock()
	hooks := append([]func(){}, fs.onReload...)
	fs.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	slog.Debug("Projects file loaded", logfields.Path(fs.path), slog.Int("projects", len(projects)))
	return nil
}

func readProjectsFile(path string) (map[string]Project, error) {
	// #nosec G304 - path is operator supplied
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read projects file: %w", err)
	}
	var pf projectsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse projects file: %w", err)
	}
	out := make(map[string]Project, len(pf.Projects))
	for i, p := range pf.Projects {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("projects[%d]: %w", i, err)
		}
		if _, dup := out[p.SubDomain]; dup {
			return nil, fmt.Errorf("projects[%d]: %w: %s", i, ErrDuplicateSubDomain, p.SubDomain)
		}
		out[p.SubDomain] = p
	}
	return out, nil
}

// Watch starts reloading on file changes until ctx is done or Close is called.
func (fs *FileStore) Watch(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.watcher != nil {
		return errors.New("projects file already watched")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory: editors and config management replace the file.
	dir := filepath.Dir(fs.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch projects directory %s: %w", dir, err)
	}

	fs.watcher = watcher
	fs.stopChan = make(chan struct{})
	fs.done = make(chan struct{})
	slog.Info("Watching projects file", logfields.Path(fs.path))
	go fs.watchLoop(ctx, watcher, fs.stopChan, fs.done)
	return nil
}

func (fs *FileStore) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, stop, done chan struct{}) {
	defer close(done)
	name := filepath.Base(fs.path)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&fsnotify.Remove == fsnotify.Remove {
				slog.Warn("Projects file removed; keeping last loaded projects", logfields.Path(event.Name))
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(fs.debounce, func() {
				if err := fs.Reload(); err != nil {
					slog.Error("Failed to reload projects file", logfields.Path(fs.path), logfields.Error(err))
					return
				}
				slog.Info("Projects file reloaded", logfields.Path(fs.path))
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Projects watcher error", logfields.Error(err))
		}
	}
}

// Close stops watching. It is safe to call when Watch was never called.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	watcher, stop, done := fs.watcher, fs.stopChan, fs.done
	fs.watcher = nil
	fs.mu.Unlock()

	if watcher == nil {
		return nil
	}
	close(stop)
	err := watcher.Close()
	<-done
	return err
}
