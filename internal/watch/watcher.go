// Package watch rebuilds an image whenever its sources change
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/poltergeist/dockerstage/pkg/logger"
	"github.com/poltergeist/dockerstage/pkg/utils"
)

// Watcher reports batches of changed paths under a set of directory trees.
// Events are collected until the trees have been quiet for the settling
// delay, then delivered as one sorted batch.
type Watcher struct {
	fsw        *fsnotify.Watcher
	logger     logger.Logger
	exclusions *utils.ExclusionMatcher
	settling   time.Duration

	mu      sync.RWMutex
	roots   []string
	ignored []string
}

// NewWatcher creates a watcher. Exclusions are matched against paths
// relative to the watched root they fall under.
func NewWatcher(log logger.Logger, exclusions []string, settling time.Duration) (*Watcher, error) {
	matcher, err := utils.NewExclusionMatcher(exclusions)
	if err != nil {
		return nil, fmt.Errorf("invalid watch exclusions: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsw:        fsw,
		logger:     log,
		exclusions: matcher,
		settling:   settling,
	}, nil
}

// Close stops the underlying fsnotify watcher
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Ignore skips every event at or below the given paths
func (w *Watcher) Ignore(paths ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			w.ignored = append(w.ignored, filepath.Clean(abs))
		}
	}
}

// Add watches root and every directory below it
func (w *Watcher) Add(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.roots = append(w.roots, filepath.Clean(abs))
	w.mu.Unlock()

	if err := w.addTree(abs); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}
	w.logger.Debug("Watching directory tree", logger.WithField("root", abs))
	return nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.isExcluded(path) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn(fmt.Sprintf("Failed to watch directory %s: %v", path, err))
		}
		return nil
	})
}

// Run delivers change batches to changes until ctx is done
func (w *Watcher) Run(ctx context.Context, changes chan<- []string) error {
	pending := make(map[string]struct{})

	timer := time.NewTimer(w.settling)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.isExcluded(event.Name) {
				continue
			}

			// New directories need their own watch
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn(fmt.Sprintf("Failed to watch new directory %s: %v", event.Name, err))
					}
				}
			}

			pending[event.Name] = struct{}{}
			timer.Reset(w.settling)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			batch := make([]string, 0, len(pending))
			for p := range pending {
				batch = append(batch, p)
			}
			sort.Strings(batch)
			pending = make(map[string]struct{})

			select {
			case changes <- batch:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", logger.WithError(err))
		}
	}
}

func (w *Watcher) isExcluded(path string) bool {
	path = filepath.Clean(path)

	w.mu.RLock()
	defer w.mu.RUnlock()

	for _, ignored := range w.ignored {
		if within(ignored, path) {
			return true
		}
	}

	for _, root := range w.roots {
		if !within(root, path) {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			continue
		}
		if w.exclusions.IsExcluded(filepath.ToSlash(rel)) {
			return true
		}
	}

	return false
}

func within(dir, path string) bool {
	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}
