package devserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotedev/internal/domain"
	"remotedev/internal/usecase/process"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

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

func (b *recordingBus) types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Type)
	}
	return out
}

// fakeProber reports a fixed set of busy ports.
type fakeProber struct {
	mu   sync.Mutex
	busy map[int]bool
	next int
}

func (p *fakeProber) setBusy(port int, busy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.busy == nil {
		p.busy = make(map[int]bool)
	}
	p.busy[port] = busy
}

func (p *fakeProber) IsPortInUse(_ context.Context, port int, _ string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy[port]
}

func (p *fakeProber) FindAvailable(_ context.Context, preferred []int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next != 0 {
		return p.next, nil
	}
	for _, port := range preferred {
		if !p.busy[port] {
			return port, nil
		}
	}
	return 49152, nil
}

func (p *fakeProber) Available(_ context.Context, candidates []int) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int
	for _, port := range candidates {
		if !p.busy[port] {
			out = append(out, port)
		}
	}
	return out
}

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

// writeScript writes a shell script into a fresh project dir and returns
// the dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.sh"), []byte(body), 0o644))
	return dir
}

type fixture struct {
	mgr    *Manager
	runner *process.Runner
	prober *fakeProber
	bus    *recordingBus
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	runner := process.NewRunner(process.RunnerConfig{KillGrace: 500 * time.Millisecond}, newTestLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runner.Shutdown(ctx)
	})
	prober := &fakeProber{}
	bus := &recordingBus{}
	mgr := NewManager(Config{ReadyTimeout: timeout}, runner, prober, bus, newTestLogger())
	return &fixture{mgr: mgr, runner: runner, prober: prober, bus: bus}
}

const readyScript = `echo "  Local: http://localhost:$PORT"
exec sleep 30
`

func TestStartBecomesRunningOnReadyLine(t *testing.T) {
	skipWithoutShell(t)
	f := newFixture(t, 10*time.Second)
	dir := writeScript(t, readyScript)

	start := time.Now()
	srv, err := f.mgr.Start(context.Background(), StartRequest{ProjectPath: dir, Command: "sh server.sh", Port: 3000})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, domain.DevServerRunning, srv.Status)
	assert.Equal(t, domain.DevServerKey(dir, 3000), srv.ID)
	assert.Equal(t, "http://localhost:3000", srv.URL)
	assert.Equal(t, "Dev Server (Unknown)", srv.Name)
	assert.Positive(t, srv.PID)
	assert.Equal(t, []domain.EventType{domain.EventDevServerStarted}, f.bus.types())
	assert.True(t, f.runner.IsActive(processKey(srv.ID)))
}

func TestStartReportsRunningAfterReadinessTimeout(t *testing.T) {
	skipWithoutShell(t)
	f := newFixture(t, 200*time.Millisecond)
	dir := writeScript(t, "exec sleep 30\n")

	srv, err := f.mgr.Start(context.Background(), StartRequest{ProjectPath: dir, Command: "sh server.sh", Port: 3001})
	require.NoError(t, err)
	assert.Equal(t, domain.DevServerRunning, srv.Status)
}

func TestStartTwiceOnSameKeyIsBusy(t *testing.T) {
	skipWithoutShell(t)
	f := newFixture(t, 10*time.Second)
	dir := writeScript(t, readyScript)

	_, err := f.mgr.Start(context.Background(), StartRequest{ProjectPath: dir, Command: "sh server.sh", Port: 3000})
	require.NoError(t, err)

	_, err = f.mgr.Start(context.Background(), StartRequest{ProjectPath: dir, Command: "sh server.sh", Port: 3000})
	require.ErrorIs(t, err, domain.ErrDevServerRunning)
	assert.ErrorIs(t, err, domain.ErrResourceBusy)
	assert.Len(t, f.runner.Active(), 1)
}

func TestStartExitBeforeReadyIsError(t *testing.T) {
	skipWithoutShell(t)
	f := newFixture(t, 10*time.Second)
	dir := writeScript(t, "echo nope >&2\nexit 3\n")

	srv, err := f.mgr.Start(context.Background(), StartRequest{ProjectPath: dir, Command: "sh server.sh", Port: 3000})
	require.Error(t, err)
	assert.Equal(t, domain.DevServerError, srv.Status)
	assert.NotEmpty(t, srv.Error)
	assert.Empty(t, f.bus.types())

	// A terminal record does not block a fresh start on the same key.
	ok := writeScript(t, readyScript)
	_, err = f.mgr.Start(context.Background(), StartRequest{ProjectPath: ok, Command: "sh server.sh", Port: 3000})
	require.NoError(t, err)
}

func TestStartLaunchFailure(t *testing.T) {
	f := newFixture(t, time.Second)
	dir := t.TempDir()

	srv, err := f.mgr.Start(context.Background(), StartRequest{ProjectPath: dir, Command: "definitely-not-a-binary-xyz", Port: 3000})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExecution)
	assert.Equal(t, domain.DevServerError, srv.Status)
}

func TestStartRejectsBadProjectPath(t *testing.T) {
	f := newFixture(t, time.Second)

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"relative", "some/dir"},
		{"missing", filepath.Join(t.TempDir(), "missing")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.mgr.Start(context.Background(), StartRequest{ProjectPath: tt.path, Command: "true"})
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestStartPicksPortAndDetectsFramework(t *testing.T) {
	skipWithoutShell(t)
	f := newFixture(t, 10*time.Second)
	f.prober.setBusy(3000, true)
	dir := writeScript(t, readyScript)
	pkg := `{"scripts":{"dev":"sh server.sh"},"dependencies":{"next":"14.0.0"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(pkg), 0o644))

	srv, err := f.mgr.Start(context.Background(), StartRequest{ProjectPath: dir, Command: "sh server.sh"})
	require.NoError(t, err)
	assert.Equal(t, 3001, srv.Port)
	assert.Equal(t, "next", srv.Framework)
	assert.Equal(t, "Dev Server (next)", srv.Name)
}

func TestStopTerminatesOwnedServer(t *testing.T) {
	skipWithoutShell(t)
	f := newFixture(t, 10*time.Second)
	dir := writeScript(t, readyScript)

	srv, err := f.mgr.Start(context.Background(), StartRequest{ProjectPath: dir, Command: "sh server.sh", Port: 3000})
	require.NoError(t, err)

	stopped, err := f.mgr.Stop(context.Background(), dir, srv.ID)
	require.NoError(t, err)
	require.Len(t, stopped, 1)
	assert.Equal(t, domain.DevServerStopped, stopped[0].Status)

	require.Eventually(t, func() bool { return !f.runner.IsActive(processKey(srv.ID)) }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []domain.EventType{domain.EventDevServerStarted, domain.EventDevServerStopped}, f.bus.types())

	list := f.mgr.List(dir)
	require.Len(t, list, 1)
	assert.Equal(t, domain.DevServerStopped, list[0].Status)
}

// stopFirstRunner stops the project's servers right before spawning, the
// window between Start registering its record and the process existing.
type stopFirstRunner struct {
	*process.Runner
	mgr     *Manager
	project string
}

func (r *stopFirstRunner) Run(ctx context.Context, key string, spec process.RunSpec) (*process.Handle, error) {
	if _, err := r.mgr.Stop(ctx, r.project, ""); err != nil {
		return nil, err
	}
	return r.Runner.Run(ctx, key, spec)
}

func TestStopDuringLaunchLeavesNoProcess(t *testing.T) {
	skipWithoutShell(t)
	f := newFixture(t, 10*time.Second)
	dir := writeScript(t, readyScript)

	wrapped := &stopFirstRunner{Runner: f.runner, project: dir}
	mgr := NewManager(Config{ReadyTimeout: 10 * time.Second}, wrapped, f.prober, f.bus, newTestLogger())
	wrapped.mgr = mgr

	srv, err := mgr.Start(context.Background(), StartRequest{ProjectPath: dir, Command: "sh server.sh", Port: 3999})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExecution)
	assert.Equal(t, domain.DevServerStopped, srv.Status)
	assert.Zero(t, srv.PID)

	list := mgr.List(dir)
	require.Len(t, list, 1)
	assert.Equal(t, domain.DevServerStopped, list[0].Status)
	assert.Zero(t, list[0].PID)

	require.Eventually(t, func() bool { return len(f.runner.Active()) == 0 }, 5*time.Second, 20*time.Millisecond)
	assert.NotContains(t, f.bus.types(), domain.EventDevServerStarted)

	// The key is free again for a fresh start.
	started, err := f.mgr.Start(context.Background(), StartRequest{ProjectPath: dir, Command: "sh server.sh", Port: 3999})
	require.NoError(t, err)
	assert.Equal(t, domain.DevServerRunning, started.Status)
}

func TestStopUnknownID(t *testing.T) {
	f := newFixture(t, time.Second)
	_, err := f.mgr.Stop(context.Background(), "/tmp", "/tmp:1234")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStopWithoutIDStopsEveryActiveServer(t *testing.T) {
	skipWithoutShell(t)
	f := newFixture(t, 10*time.Second)
	dir := writeScript(t, readyScript)

	for _, port := range []int{3000, 3001} {
		_, err := f.mgr.Start(context.Background(), StartRequest{ProjectPath: dir, Command: "sh server.sh", Port: port})
		require.NoError(t, err)
	}

	stopped, err := f.mgr.Stop(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Len(t, stopped, 2)
	require.Eventually(t, func() bool { return len(f.runner.Active()) == 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestExitAfterRunningMarksStopped(t *testing.T) {
	skipWithoutShell(t)
	f := newFixture(t, 10*time.Second)
	dir := writeScript(t, "echo ready\nsleep 0.3\n")

	srv, err := f.mgr.Start(context.Background(), StartRequest{ProjectPath: dir, Command: "sh server.sh", Port: 3000})
	require.NoError(t, err)
	require.Equal(t, domain.DevServerRunning, srv.Status)

	require.Eventually(t, func() bool {
		list := f.mgr.List(dir)
		return len(list) == 1 && list[0].Status == domain.DevServerStopped
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, f.bus.types(), domain.EventDevServerStopped)
}

func TestDetectRecordsPassiveServers(t *testing.T) {
	f := newFixture(t, time.Second)
	dir := t.TempDir()
	f.prober.setBusy(8080, true)

	found, err := f.mgr.Detect(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].Detected)
	assert.Equal(t, "Dev Server (Port 8080)", found[0].Name)
	assert.Equal(t, domain.DevServerRunning, found[0].Status)

	// Stopping a passive record only forgets it.
	stopped, err := f.mgr.Stop(context.Background(), dir, found[0].ID)
	require.NoError(t, err)
	assert.Len(t, stopped, 1)
	assert.Empty(t, f.mgr.List(dir))

	// Released ports drop passive records on the next detection.
	_, err = f.mgr.Detect(context.Background(), dir)
	require.NoError(t, err)
	f.prober.setBusy(8080, false)
	found, err = f.mgr.Detect(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Empty(t, f.mgr.List(dir))
}

func TestStatusCountsRunningAndFreePorts(t *testing.T) {
	f := newFixture(t, time.Second)
	dir := t.TempDir()
	f.prober.setBusy(3000, true)
	f.prober.setBusy(9000, true)

	_, err := f.mgr.Detect(context.Background(), dir)
	require.NoError(t, err)

	st := f.mgr.Status(context.Background(), dir)
	assert.Equal(t, dir, st.ProjectPath)
	assert.Equal(t, 1, st.TotalRunning)
	assert.Equal(t, []int{3001, 8080, 8000, 5000, 4000}, st.AvailablePorts)

	raw, err := json.Marshal(st)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"totalRunning":1`)
}

func TestStopAll(t *testing.T) {
	skipWithoutShell(t)
	f := newFixture(t, 10*time.Second)
	a := writeScript(t, readyScript)
	b := writeScript(t, readyScript)

	_, err := f.mgr.Start(context.Background(), StartRequest{ProjectPath: a, Command: "sh server.sh", Port: 3000})
	require.NoError(t, err)
	_, err = f.mgr.Start(context.Background(), StartRequest{ProjectPath: b, Command: "sh server.sh", Port: 3000})
	require.NoError(t, err)

	f.mgr.StopAll(context.Background())
	require.Eventually(t, func() bool { return len(f.runner.Active()) == 0 }, 5*time.Second, 20*time.Millisecond)
}
