package projects

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotedev/internal/domain"
)

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, evt domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) snapshot() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Event(nil), b.events...)
}

func put(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// newWorkspace lays out a web app, a go service with a git HEAD, and a
// plain directory that is not a project.
func newWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	put(t, filepath.Join(root, "web", "package.json"), `{"dependencies":{"react":"18"}}`)
	put(t, filepath.Join(root, "web", "src", "App.jsx"), "")
	put(t, filepath.Join(root, "web", "node_modules", "react", "index.js"), "")
	put(t, filepath.Join(root, "svc", ".git", "HEAD"), "ref: refs/heads/develop\n")
	put(t, filepath.Join(root, "svc", "main.go"), "package main")
	put(t, filepath.Join(root, "notes", "todo.md"), "")
	return root
}

func newTestService(root string, bus domain.EventBus) *Service {
	return New(root, bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestScan(t *testing.T) {
	root := newWorkspace(t)
	s := newTestService(root, nil)

	list, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 2)

	svc, web := list[0], list[1]
	assert.Equal(t, "svc", svc.Name)
	assert.Equal(t, "develop", svc.GitBranch)
	assert.Equal(t, "go", svc.Language)
	assert.Equal(t, 1, svc.FileCount)

	assert.Equal(t, "web", web.Name)
	assert.Equal(t, "javascript", web.Language)
	assert.Equal(t, "react", web.Framework)
	assert.Equal(t, 2, web.FileCount)
	assert.Empty(t, web.GitBranch)

	assert.Equal(t, []string{filepath.Join(root, "svc"), filepath.Join(root, "web")}, s.Paths())
}

func TestScanMissingRoot(t *testing.T) {
	s := newTestService(filepath.Join(t.TempDir(), "nope"), nil)
	_, err := s.Scan(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetAndRefresh(t *testing.T) {
	root := newWorkspace(t)
	bus := &recordingBus{}
	s := newTestService(root, bus)
	_, err := s.Scan(context.Background())
	require.NoError(t, err)

	webPath := filepath.Join(root, "web")
	got, err := s.Get(webPath)
	require.NoError(t, err)
	assert.Equal(t, 2, got.FileCount)

	put(t, filepath.Join(webPath, "tsconfig.json"), "{}")
	refreshed, err := s.Refresh(context.Background(), webPath)
	require.NoError(t, err)
	assert.Equal(t, "typescript", refreshed.Language)
	assert.Equal(t, 3, refreshed.FileCount)

	events := bus.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventProjectUpdated, events[0].Type)
	assert.Equal(t, webPath, events[0].ProjectPath)

	_, err = s.Get(filepath.Join(root, "notes"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Refresh(context.Background(), filepath.Join(root, "notes"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Refresh(context.Background(), "web")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRefreshAllPublishesPerProject(t *testing.T) {
	root := newWorkspace(t)
	bus := &recordingBus{}
	s := newTestService(root, bus)

	list, err := s.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Len(t, bus.snapshot(), 2)

	require.NoError(t, os.RemoveAll(filepath.Join(root, "svc")))
	list, err = s.RefreshAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
	_, err = s.Get(filepath.Join(root, "svc"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGitBranchDetached(t *testing.T) {
	dir := t.TempDir()
	put(t, filepath.Join(dir, ".git", "HEAD"), "0123456789abcdef\n")
	assert.Equal(t, "0123456", gitBranch(dir))
}
