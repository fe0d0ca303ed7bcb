package watcher

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotedev/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingBus struct {
	mu      sync.Mutex
	changes []domain.FileChange
	raw     []json.RawMessage
}

func (b *recordingBus) Publish(_ context.Context, evt domain.Event) {
	if evt.Type != domain.EventFileChanged {
		return
	}
	var c domain.FileChange
	if err := json.Unmarshal(evt.Payload, &c); err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.changes = append(b.changes, c)
	b.raw = append(b.raw, evt.Payload)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()                { return func() {} }
func (b *recordingBus) Close()                                                 {}

func (b *recordingBus) has(kind domain.ChangeKind, rel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.changes {
		if c.Kind == kind && c.RelativePath == rel {
			return true
		}
	}
	return false
}

func (b *recordingBus) paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.changes {
		out = append(out, c.RelativePath)
	}
	return out
}

func newWatcher(t *testing.T) (*Watcher, *recordingBus) {
	t.Helper()
	bus := &recordingBus{}
	w := New(bus, newTestLogger())
	t.Cleanup(w.StopAll)
	return w, bus
}

func TestChangePayloadFieldNames(t *testing.T) {
	w, bus := newWatcher(t)
	dir := t.TempDir()
	require.NoError(t, w.Watch(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<p>"), 0o644))
	require.Eventually(t, func() bool { return bus.has(domain.ChangeAdded, "index.html") }, 5*time.Second, 20*time.Millisecond)

	bus.mu.Lock()
	first := bus.raw[0]
	bus.mu.Unlock()
	var fields map[string]any
	require.NoError(t, json.Unmarshal(first, &fields))
	assert.Equal(t, "added", fields["changeKind"])
	assert.Equal(t, "index.html", fields["relativePath"])
	assert.NotEmpty(t, fields["projectPath"])
	assert.Contains(t, fields, "timestamp")
}

func TestWatchEmitsTypedChanges(t *testing.T) {
	w, bus := newWatcher(t)
	dir := t.TempDir()
	require.NoError(t, w.Watch(dir))

	file := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(file, []byte("package main"), 0o644))
	require.Eventually(t, func() bool { return bus.has(domain.ChangeAdded, "main.go") }, 3*time.Second, 10*time.Millisecond)

	f, err := os.OpenFile(file, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Eventually(t, func() bool { return bus.has(domain.ChangeChanged, "main.go") }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(file))
	require.Eventually(t, func() bool { return bus.has(domain.ChangeRemoved, "main.go") }, 3*time.Second, 10*time.Millisecond)
}

func TestWatchIsRecursiveIncludingNewDirectories(t *testing.T) {
	w, bus := newWatcher(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "lib"), 0o755))
	require.NoError(t, w.Watch(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "lib", "a.ts"), nil, 0o644))
	require.Eventually(t, func() bool { return bus.has(domain.ChangeAdded, "src/lib/a.ts") }, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Mkdir(filepath.Join(dir, "pkg"), 0o755))
	require.Eventually(t, func() bool { return bus.has(domain.ChangeAdded, "pkg") }, 3*time.Second, 10*time.Millisecond)
	// Give the watcher a moment to register the new directory.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "b.ts"), nil, 0o644))
	require.Eventually(t, func() bool { return bus.has(domain.ChangeAdded, "pkg/b.ts") }, 3*time.Second, 10*time.Millisecond)
}

func TestWatchAppliesIgnoreRules(t *testing.T) {
	w, bus := newWatcher(t)
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "x"), 0o755))
	require.NoError(t, w.Watch(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "node_modules", "x", "index.js"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".DS_Store"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), nil, 0o644))

	require.Eventually(t, func() bool { return bus.has(domain.ChangeAdded, ".env") }, 3*time.Second, 10*time.Millisecond)
	for _, p := range bus.paths() {
		assert.NotContains(t, p, "node_modules")
		assert.NotEqual(t, ".DS_Store", p)
	}
}

func TestWatchTwiceIsNoop(t *testing.T) {
	w, _ := newWatcher(t)
	dir := t.TempDir()
	require.NoError(t, w.Watch(dir))
	require.NoError(t, w.Watch(dir))
	assert.Equal(t, []string{dir}, w.Watched())
}

func TestUnwatchStopsEvents(t *testing.T) {
	w, bus := newWatcher(t)
	dir := t.TempDir()
	require.NoError(t, w.Watch(dir))
	require.NoError(t, w.Unwatch(dir))
	assert.Empty(t, w.Watched())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "late.txt"), nil, 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, bus.paths())

	assert.ErrorIs(t, w.Unwatch(dir), domain.ErrNotFound)
}

func TestWatchRejectsBadPaths(t *testing.T) {
	w, _ := newWatcher(t)
	assert.ErrorIs(t, w.Watch("relative"), domain.ErrInvalidInput)
	assert.ErrorIs(t, w.Watch(filepath.Join(t.TempDir(), "missing")), domain.ErrInvalidInput)
}

func TestWatchAllAndStopAll(t *testing.T) {
	w, _ := newWatcher(t)
	a, b := t.TempDir(), t.TempDir()

	n := w.WatchAll(context.Background(), []string{a, b, filepath.Join(a, "missing")})
	assert.Equal(t, 2, n)

	w.StopAll()
	assert.Empty(t, w.Watched())
}

func TestIgnored(t *testing.T) {
	tests := []struct {
		rel  string
		want bool
	}{
		{"src/app.ts", false},
		{".gitignore", false},
		{".env.example", false},
		{".vscode/settings.json", true},
		{"node_modules/react/index.js", true},
		{"web/dist/bundle.js", true},
		{"coverage", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ignored(tt.rel), tt.rel)
	}
}
