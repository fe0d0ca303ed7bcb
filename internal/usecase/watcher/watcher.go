// Package watcher observes project trees and publishes file changes.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"remotedev/internal/domain"
)

// Watcher keeps one fsnotify watcher per project. fsnotify does not
// recurse, so every directory of the tree is added on Watch and new ones
// are added as they appear.
type Watcher struct {
	bus    domain.EventBus
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	projects map[string]*project
}

type project struct {
	path string
	fsw  *fsnotify.Watcher
	done chan struct{}
}

// New creates a Watcher that publishes file.changed events on bus.
func New(bus domain.EventBus, logger *slog.Logger) *Watcher {
	return &Watcher{
		bus:      bus,
		logger:   logger.With(slog.String("component", "watcher")),
		now:      time.Now,
		projects: make(map[string]*project),
	}
}

// Watch starts observing projectPath. Watching an already watched path is
// a no-op.
func (w *Watcher) Watch(projectPath string) error {
	const op = "Watcher.Watch"
	projectPath = filepath.Clean(projectPath)
	if !filepath.IsAbs(projectPath) {
		return domain.NewDomainError(op, domain.ErrInvalidInput, "projectPath must be an absolute path")
	}
	info, err := os.Stat(projectPath)
	if err != nil || !info.IsDir() {
		return domain.NewDomainError(op, domain.ErrInvalidInput, "project path is not a directory")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.projects[projectPath]; ok {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return domain.NewDomainError(op, domain.ErrExecution, err.Error())
	}
	p := &project{path: projectPath, fsw: fsw, done: make(chan struct{})}
	if err := w.addTree(p, projectPath); err != nil {
		_ = fsw.Close()
		return domain.NewDomainError(op, domain.ErrExecution, err.Error())
	}
	w.projects[projectPath] = p
	go w.run(p)

	w.logger.Info("watching project", "project", projectPath)
	return nil
}

// Unwatch stops observing projectPath and releases its handle.
func (w *Watcher) Unwatch(projectPath string) error {
	projectPath = filepath.Clean(projectPath)

	w.mu.Lock()
	p, ok := w.projects[projectPath]
	if ok {
		delete(w.projects, projectPath)
	}
	w.mu.Unlock()

	if !ok {
		return domain.NewDomainError("Watcher.Unwatch", domain.ErrNotFound, projectPath)
	}
	w.stop(p)
	w.logger.Info("stopped watching project", "project", projectPath)
	return nil
}

// StopAll releases every active watch.
func (w *Watcher) StopAll() {
	w.mu.Lock()
	all := make([]*project, 0, len(w.projects))
	for _, p := range w.projects {
		all = append(all, p)
	}
	w.projects = make(map[string]*project)
	w.mu.Unlock()

	for _, p := range all {
		w.stop(p)
	}
}

// Watched returns the watched project paths, sorted.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	out := make([]string, 0, len(w.projects))
	for path := range w.projects {
		out = append(out, path)
	}
	w.mu.Unlock()
	slices.Sort(out)
	return out
}

// WatchAll watches every path in projects, logging the ones that fail.
// It returns the number of projects now watched.
func (w *Watcher) WatchAll(ctx context.Context, projects []string) int {
	for _, p := range projects {
		if ctx.Err() != nil {
			break
		}
		if err := w.Watch(p); err != nil {
			w.logger.Warn("watch project", "project", p, "error", err)
		}
	}
	return len(w.Watched())
}

func (w *Watcher) stop(p *project) {
	_ = p.fsw.Close()
	<-p.done
}

// addTree adds root and every non-ignored directory below it.
func (w *Watcher) addTree(p *project, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories can vanish mid-walk.
			if path == root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != p.path && domain.IsIgnoredName(d.Name()) {
			return filepath.SkipDir
		}
		if err := p.fsw.Add(path); err != nil {
			w.logger.Debug("could not watch directory", "dir", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) run(p *project) {
	defer close(p.done)
	for {
		select {
		case event, ok := <-p.fsw.Events:
			if !ok {
				return
			}
			w.handle(p, event)
		case err, ok := <-p.fsw.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watcher error", "project", p.path, "error", err)
				continue
			}
			w.logger.Warn("watcher event overflow, changes may be missed", "project", p.path)
		}
	}
}

func (w *Watcher) handle(p *project, event fsnotify.Event) {
	rel, err := filepath.Rel(p.path, event.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	if ignored(rel) {
		return
	}

	var kind domain.ChangeKind
	switch {
	case event.Has(fsnotify.Create):
		kind = domain.ChangeAdded
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(p, event.Name); err != nil {
				w.logger.Debug("could not watch new directory", "dir", event.Name, "error", err)
			}
		}
	case event.Has(fsnotify.Write):
		kind = domain.ChangeChanged
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		kind = domain.ChangeRemoved
	default:
		return
	}

	change := domain.FileChange{
		Kind:         kind,
		RelativePath: filepath.ToSlash(rel),
		ProjectPath:  p.path,
		Timestamp:    w.now(),
	}
	evt, err := domain.NewEvent(domain.EventFileChanged, p.path, change)
	if err != nil {
		w.logger.Error("marshal file change", "error", err)
		return
	}
	w.bus.Publish(context.Background(), evt)
}

// ignored reports whether any element of rel is skipped.
func ignored(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if domain.IsIgnoredName(part) {
			return true
		}
	}
	return false
}
