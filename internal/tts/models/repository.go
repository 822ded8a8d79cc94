// Package models lists the voice conversion models available on disk and
// resolves loosely-specified model names against them.
//
// A model is either a directory <dir>/<name>/ holding a *.pth weights file and
// an optional *.index retrieval index, or a flat <dir>/<name>.pth with an
// optional <dir>/<name>.index next to it.
package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/fsnotify/fsnotify"
)

// Model file extensions.
const (
	extWeights = ".pth"
	extIndex   = ".index"
)

// Match kinds, in priority order.
const (
	MatchNone MatchKind = iota
	MatchExact
	MatchCaseInsensitive
	MatchSubstring
)

// ErrWatchFailed reports that the directory watcher could not be started.
var ErrWatchFailed = errors.New("failed to watch models directory")

// MatchKind records how a name was resolved.
type MatchKind int

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchCaseInsensitive:
		return "case-insensitive"
	case MatchSubstring:
		return "substring"
	default:
		return "none"
	}
}

// Model is one conversion model on disk.
type Model struct {
	Name      string `json:"name"`
	ModelPath string `json:"modelPath"`
	IndexPath string `json:"indexPath,omitempty"`
}

// Repository lists models under one directory. Listings are cached until
// Invalidate is called or, with Watch running, the directory changes.
type Repository struct {
	dir string
	log *logger.Logger

	mu         sync.RWMutex
	cache      []Model
	cached     bool
	generation uint64
}

// NewRepository creates a repository rooted at dir.
func NewRepository(dir string, log *logger.Logger) *Repository {
	return &Repository{dir: dir, log: log}
}

// Dir returns the repository root.
func (r *Repository) Dir() string {
	return r.dir
}

// Invalidate drops the cached listing.
func (r *Repository) Invalidate() {
	r.mu.Lock()
	r.cache = nil
	r.cached = false
	r.generation++
	r.mu.Unlock()
}

// List returns every model sorted by name. A missing directory is an empty
// repository.
func (r *Repository) List() ([]Model, error) {
	r.mu.RLock()
	if r.cached {
		listing := append([]Model(nil), r.cache...)
		r.mu.RUnlock()

		return listing, nil
	}

	generation := r.generation
	r.mu.RUnlock()

	listing, err := scan(r.dir)
	if err != nil {
		return nil, err
	}

	// A change that landed during the scan leaves the cache empty.
	r.mu.Lock()
	if r.generation == generation {
		r.cache = listing
		r.cached = true
	}
	r.mu.Unlock()

	return append([]Model(nil), listing...), nil
}

// Names returns the model identifiers.
func (r *Repository) Names() ([]string, error) {
	listing, err := r.List()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(listing))
	for _, model := range listing {
		names = append(names, model.Name)
	}

	return names, nil
}

// Match resolves name by exact match, then case-insensitive match, then
// case-insensitive substring match. Substring ties go to the shortest name.
func (r *Repository) Match(name string) (Model, MatchKind, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Model{}, MatchNone, nil
	}

	listing, err := r.List()
	if err != nil {
		return Model{}, MatchNone, err
	}

	for _, model := range listing {
		if model.Name == name {
			return model, MatchExact, nil
		}
	}

	for _, model := range listing {
		if strings.EqualFold(model.Name, name) {
			return model, MatchCaseInsensitive, nil
		}
	}

	lowered := strings.ToLower(name)
	best := -1

	for index, model := range listing {
		if !strings.Contains(strings.ToLower(model.Name), lowered) {
			continue
		}

		if best < 0 || len(model.Name) < len(listing[best].Name) {
			best = index
		}
	}

	if best >= 0 {
		return listing[best], MatchSubstring, nil
	}

	return Model{}, MatchNone, nil
}

// Watch invalidates the cache whenever the models directory or one of its
// model subdirectories changes. It returns once the watcher is running and
// stops it when ctx is done.
func (r *Repository) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWatchFailed, err)
	}

	err = watcher.Add(r.dir)
	if err != nil {
		_ = watcher.Close()

		return fmt.Errorf("%w: %s: %w", ErrWatchFailed, r.dir, err)
	}

	entries, _ := os.ReadDir(r.dir)
	for _, entry := range entries {
		if entry.IsDir() {
			r.addWatch(watcher, filepath.Join(r.dir, entry.Name()))
		}
	}

	go r.watchLoop(ctx, watcher)

	return nil
}

func (r *Repository) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			if event.Has(fsnotify.Create) {
				info, statErr := os.Stat(event.Name)
				if statErr == nil && info.IsDir() {
					r.addWatch(watcher, event.Name)
				}
			}

			r.Invalidate()
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return
			}

			r.log.Warn("Models directory watcher error: %v", watchErr)
			r.Invalidate()
		}
	}
}

func (r *Repository) addWatch(watcher *fsnotify.Watcher, path string) {
	err := watcher.Add(path)
	if err != nil {
		r.log.Warn("Failed to watch model directory '%s': %v", path, err)
	}
}

func scan(dir string) ([]Model, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list models directory %s: %w", dir, err)
	}

	var listing []Model

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			model, ok := scanModelDir(entry.Name(), path)
			if ok {
				listing = append(listing, model)
			}

			continue
		}

		if !strings.EqualFold(filepath.Ext(entry.Name()), extWeights) {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		model := Model{Name: name, ModelPath: path}

		indexPath := filepath.Join(dir, name+extIndex)
		if _, statErr := os.Stat(indexPath); statErr == nil {
			model.IndexPath = indexPath
		}

		listing = append(listing, model)
	}

	sort.Slice(listing, func(i, j int) bool { return listing[i].Name < listing[j].Name })

	return listing, nil
}

func scanModelDir(name, path string) (Model, bool) {
	weights, _ := filepath.Glob(filepath.Join(path, "*"+extWeights))
	if len(weights) == 0 {
		return Model{}, false
	}

	sort.Strings(weights)

	model := Model{Name: name, ModelPath: weights[0]}

	indexes, _ := filepath.Glob(filepath.Join(path, "*"+extIndex))
	if len(indexes) > 0 {
		sort.Strings(indexes)
		model.IndexPath = indexes[0]
	}

	return model, true
}
