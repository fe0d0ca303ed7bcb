// Package projects discovers codebases under the workspace root and keeps
// a catalogue of their metadata.
package projects

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"remotedev/internal/domain"
)

// Service keeps the project catalogue for one workspace root.
type Service struct {
	root   string
	bus    domain.EventBus
	logger *slog.Logger

	mu       sync.RWMutex
	projects map[string]domain.Project
}

// New creates a Service rooted at root. bus may be nil.
func New(root string, bus domain.EventBus, logger *slog.Logger) *Service {
	return &Service{
		root:     filepath.Clean(root),
		bus:      bus,
		logger:   logger.With(slog.String("component", "projects")),
		projects: make(map[string]domain.Project),
	}
}

// Root returns the workspace root.
func (s *Service) Root() string { return s.root }

// Scan rebuilds the catalogue from the workspace root's direct children.
// A child is a project when it has a package.json or a .git entry.
func (s *Service) Scan(ctx context.Context) ([]domain.Project, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, domain.NewSubSystemError("projects", "Projects.Scan", domain.ErrNotFound, "workspace root: "+err.Error())
	}

	found := make(map[string]domain.Project)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		p, ok := analyze(filepath.Join(s.root, e.Name()))
		if ok {
			found[p.Path] = p
		}
	}

	s.mu.Lock()
	s.projects = found
	s.mu.Unlock()

	s.logger.Info("workspace scanned", "root", s.root, "projects", len(found))
	return s.List(), nil
}

// List returns the catalogue sorted by name.
func (s *Service) List() []domain.Project {
	s.mu.RLock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Project) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Paths returns the path of every catalogued project.
func (s *Service) Paths() []string {
	list := s.List()
	paths := make([]string, len(list))
	for i, p := range list {
		paths[i] = p.Path
	}
	return paths
}

// Get returns a catalogued project.
func (s *Service) Get(path string) (domain.Project, error) {
	s.mu.RLock()
	p, ok := s.projects[filepath.Clean(path)]
	s.mu.RUnlock()
	if !ok {
		return domain.Project{}, domain.NewSubSystemError("projects", "Projects.Get", domain.ErrNotFound, path)
	}
	return p, nil
}

// Refresh re-reads one project's metadata and publishes the update.
func (s *Service) Refresh(ctx context.Context, path string) (domain.Project, error) {
	if path == "" || !filepath.IsAbs(path) {
		return domain.Project{}, domain.NewSubSystemError("projects", "Projects.Refresh", domain.ErrInvalidInput, "path must be an absolute path")
	}
	p, ok := analyze(filepath.Clean(path))
	if !ok {
		s.mu.Lock()
		delete(s.projects, filepath.Clean(path))
		s.mu.Unlock()
		return domain.Project{}, domain.NewSubSystemError("projects", "Projects.Refresh", domain.ErrNotFound, path)
	}

	s.mu.Lock()
	s.projects[p.Path] = p
	s.mu.Unlock()

	s.publish(ctx, p)
	return p, nil
}

// RefreshAll rescans the workspace and publishes an update per project.
func (s *Service) RefreshAll(ctx context.Context) ([]domain.Project, error) {
	list, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		s.publish(ctx, p)
	}
	return list, nil
}

func (s *Service) publish(ctx context.Context, p domain.Project) {
	if s.bus == nil {
		return
	}
	evt, err := domain.NewEvent(domain.EventProjectUpdated, p.Path, p)
	if err != nil {
		s.logger.Error("marshal project event", "error", err)
		return
	}
	s.bus.Publish(ctx, evt)
}

// analyze reads metadata for dir. It reports false when dir is not a project.
func analyze(dir string) (domain.Project, bool) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return domain.Project{}, false
	}
	pkgPath := filepath.Join(dir, "package.json")
	_, pkgErr := os.Stat(pkgPath)
	_, gitErr := os.Stat(filepath.Join(dir, ".git"))
	if pkgErr != nil && gitErr != nil {
		return domain.Project{}, false
	}

	count, exts := survey(dir)
	p := domain.Project{
		Name:         filepath.Base(dir),
		Path:         dir,
		LastModified: info.ModTime().UTC().Format(time.RFC3339),
		FileCount:    count,
	}
	if gitErr == nil {
		p.GitBranch = gitBranch(dir)
	}
	if pkgErr == nil {
		p.Language = "javascript"
		if _, err := os.Stat(filepath.Join(dir, "tsconfig.json")); err == nil {
			p.Language = "typescript"
		}
		p.Framework = framework(pkgPath)
	} else {
		p.Language = languageOf(exts)
	}
	return p, true
}

// survey counts regular files below dir, skipping ignored directories, and
// records which extensions occur.
func survey(dir string) (int, map[string]bool) {
	count := 0
	exts := make(map[string]bool)
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && domain.IsIgnoredName(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		count++
		exts[strings.ToLower(filepath.Ext(d.Name()))] = true
		return nil
	})
	return count, exts
}

var languageByExt = []struct {
	ext      string
	language string
}{
	{".py", "python"},
	{".java", "java"},
	{".go", "go"},
	{".rs", "rust"},
	{".rb", "ruby"},
	{".php", "php"},
}

func languageOf(exts map[string]bool) string {
	for _, l := range languageByExt {
		if exts[l.ext] {
			return l.language
		}
	}
	return ""
}

// gitBranch reads the branch name from .git/HEAD.
func gitBranch(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, ".git", "HEAD"))
	if err != nil {
		return ""
	}
	head := strings.TrimSpace(string(data))
	if ref, ok := strings.CutPrefix(head, "ref: refs/heads/"); ok {
		return ref
	}
	// Detached HEAD.
	if len(head) > 7 {
		return head[:7]
	}
	return head
}

var frameworkDeps = []struct {
	dep       string
	framework string
}{
	{"next", "next"},
	{"nuxt", "nuxt"},
	{"react", "react"},
	{"vue", "vue"},
	{"@angular/core", "angular"},
	{"svelte", "svelte"},
	{"@nestjs/core", "nestjs"},
	{"express", "express"},
	{"fastify", "fastify"},
}

func framework(pkgPath string) string {
	data, err := os.ReadFile(pkgPath)
	if err != nil {
		return ""
	}
	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if json.Unmarshal(data, &pkg) != nil {
		return ""
	}
	for _, fd := range frameworkDeps {
		if _, ok := pkg.Dependencies[fd.dep]; ok {
			return fd.framework
		}
		if _, ok := pkg.DevDependencies[fd.dep]; ok {
			return fd.framework
		}
	}
	return ""
}
