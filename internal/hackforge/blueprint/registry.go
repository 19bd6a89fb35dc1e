package blueprint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v2"

	hferrors "github.com/dimasma0305/hackforge/internal/hackforge/errors"
	"github.com/dimasma0305/hackforge/internal/log"
)

// blueprintSuffix is the filename suffix blueprints are discovered by
const blueprintSuffix = "_blueprint.yaml"

// Registry holds all loaded blueprints and optionally hot-reloads them when
// the blueprint directory changes.
type Registry struct {
	dir string

	mu   sync.RWMutex
	byID map[string]*Blueprint

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRegistry creates a registry for the given blueprint directory
func NewRegistry(dir string) *Registry {
	return &Registry{
		dir:  dir,
		byID: make(map[string]*Blueprint),
	}
}

// LoadFile parses and validates a single blueprint YAML file
func LoadFile(path string) (*Blueprint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blueprint %s: %w", path, err)
	}

	var bp Blueprint
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("failed to parse blueprint %s: %w", path, err)
	}

	if err := bp.Validate(); err != nil {
		return nil, err
	}

	return &bp, nil
}

// Load discovers all *_blueprint.yaml files in the registry directory.
// Invalid files are logged and skipped so one broken blueprint does not take
// the whole catalog down.
func (r *Registry) Load() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read blueprint directory %s: %w", r.dir, err)
	}

	loaded := make(map[string]*Blueprint)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), blueprintSuffix) {
			continue
		}

		bp, err := LoadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			log.Error("Skipping blueprint %s: %v", entry.Name(), err)
			continue
		}

		if _, dup := loaded[bp.ID]; dup {
			log.Error("Duplicate blueprint id %s in %s, keeping first", bp.ID, entry.Name())
			continue
		}
		loaded[bp.ID] = bp
	}

	r.mu.Lock()
	r.byID = loaded
	r.mu.Unlock()

	log.Info("Loaded %d blueprint(s) from %s", len(loaded), r.dir)
	return nil
}

// Get returns the blueprint with the given id
func (r *Registry) Get(id string) (*Blueprint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bp, ok := r.byID[id]
	if !ok {
		return nil, hferrors.Wrapf(hferrors.ErrBlueprintNotFound, "blueprint %s", id)
	}
	return bp, nil
}

// List returns all blueprints ordered by id
func (r *Registry) List() []*Blueprint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Blueprint, 0, len(r.byID))
	for _, bp := range r.byID {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of loaded blueprints
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Watch reloads the catalog whenever a blueprint file changes. Stop with
// StopWatching.
func (r *Registry) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create blueprint watcher: %w", err)
	}

	if err := watcher.Add(r.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch blueprint directory %s: %w", r.dir, err)
	}

	r.watcher = watcher
	r.done = make(chan struct{})
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, blueprintSuffix) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				log.Debug("Blueprint change detected: %s (%s)", event.Name, event.Op)
				if err := r.Load(); err != nil {
					log.Error("Blueprint reload failed: %v", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Error("Blueprint watcher error: %v", err)
			}
		}
	}()

	log.Info("Watching blueprint directory: %s", r.dir)
	return nil
}

// StopWatching stops the hot-reload watcher
func (r *Registry) StopWatching() {
	if r.watcher == nil {
		return
	}
	close(r.done)
	_ = r.watcher.Close()
	r.wg.Wait()
	r.watcher = nil
}
