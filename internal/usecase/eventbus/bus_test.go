package eventbus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remotedev/internal/domain"
)

// recorder collects delivered events; safe for use from handler goroutines.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) handle(_ context.Context, e domain.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) projects() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.ProjectPath
	}
	return out
}

func newBus() *Bus {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func jobEvent(t *testing.T, id string, status domain.JobStatus) domain.Event {
	t.Helper()
	e, err := domain.NewEvent(domain.EventJobUpdated, "/ws/app", map[string]any{"id": id, "status": status})
	require.NoError(t, err)
	return e
}

func TestTypedSubscriberSeesOnlyItsType(t *testing.T) {
	bus := newBus()
	jobs, files := &recorder{}, &recorder{}
	bus.Subscribe(domain.EventJobUpdated, jobs.handle)
	bus.Subscribe(domain.EventFileChanged, files.handle)

	ctx := context.Background()
	bus.Publish(ctx, jobEvent(t, "j1", domain.JobRunning))
	bus.Publish(ctx, domain.Event{Type: domain.EventFileChanged, ProjectPath: "/ws/app"})
	bus.Publish(ctx, domain.Event{Type: domain.EventGitUpdated, ProjectPath: "/ws/app"})
	bus.Close()

	assert.Equal(t, []domain.EventType{domain.EventJobUpdated}, jobs.types())
	assert.Equal(t, []domain.EventType{domain.EventFileChanged}, files.types())
}

func TestSubscribeAllReceivesEveryTypeInOrder(t *testing.T) {
	bus := newBus()
	all := &recorder{}
	bus.SubscribeAll(all.handle)

	ctx := context.Background()
	sequence := []domain.EventType{
		domain.EventDevServerStarted,
		domain.EventFileChanged,
		domain.EventProjectUpdated,
		domain.EventDevServerStopped,
	}
	for _, typ := range sequence {
		bus.Publish(ctx, domain.Event{Type: typ})
	}
	bus.Close()

	assert.Equal(t, sequence, all.types())
}

func TestPayloadArrivesIntact(t *testing.T) {
	bus := newBus()
	all := &recorder{}
	bus.SubscribeAll(all.handle)

	bus.Publish(context.Background(), jobEvent(t, "j7", domain.JobCompleted))
	bus.Close()

	require.Len(t, all.events, 1)
	var payload struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(all.events[0].Payload, &payload))
	assert.Equal(t, "j7", payload.ID)
	assert.Equal(t, string(domain.JobCompleted), payload.Status)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := newBus()
	kept, dropped, droppedAll := &recorder{}, &recorder{}, &recorder{}
	bus.Subscribe(domain.EventGitUpdated, kept.handle)
	unsub := bus.Subscribe(domain.EventGitUpdated, dropped.handle)
	unsubAll := bus.SubscribeAll(droppedAll.handle)

	unsub()
	unsubAll()
	unsub() // second call is harmless
	bus.Publish(context.Background(), domain.Event{Type: domain.EventGitUpdated})
	bus.Close()

	assert.Len(t, kept.events, 1)
	assert.Empty(t, dropped.events)
	assert.Empty(t, droppedAll.events)
}

func TestPerSubscriberOrderUnderLoad(t *testing.T) {
	bus := newBus()
	slow := &recorder{}
	var n int
	bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		n++ // handler goroutine only
		if n%5 == 0 {
			time.Sleep(time.Millisecond)
		}
		slow.handle(ctx, e)
	})

	var want []string
	for i := range 40 {
		p := "/ws/p" + string(rune('a'+i%26))
		want = append(want, p)
		bus.Publish(context.Background(), domain.Event{Type: domain.EventFileChanged, ProjectPath: p})
	}
	bus.Close()

	assert.Equal(t, want, slow.projects())
}

func TestConcurrentPublishersLoseNothing(t *testing.T) {
	bus := newBus()
	all := &recorder{}
	bus.Subscribe(domain.EventGitUpdated, all.handle)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				bus.Publish(context.Background(), domain.Event{Type: domain.EventGitUpdated})
			}
		}()
	}
	wg.Wait()
	bus.Close()

	assert.Len(t, all.events, 200)
}

func TestBlockedSubscriberIsIsolated(t *testing.T) {
	bus := newBus()
	release := make(chan struct{})
	bus.Subscribe(domain.EventJobUpdated, func(context.Context, domain.Event) { <-release })

	delivered := make(chan struct{}, 3)
	bus.Subscribe(domain.EventJobUpdated, func(context.Context, domain.Event) { delivered <- struct{}{} })

	for range 3 {
		bus.Publish(context.Background(), domain.Event{Type: domain.EventJobUpdated})
	}
	for range 3 {
		select {
		case <-delivered:
		case <-time.After(2 * time.Second):
			t.Fatal("publish or the second subscriber was held up by the first")
		}
	}
	close(release)
	bus.Close()
}

func TestPanickingHandlerKeepsItsMailbox(t *testing.T) {
	bus := newBus()
	var calls int
	rec := &recorder{}
	bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		calls++
		if calls == 1 {
			panic("first event explodes")
		}
		rec.handle(ctx, e)
	})

	bus.Publish(context.Background(), domain.Event{Type: domain.EventGitUpdated, ProjectPath: "/a"})
	bus.Publish(context.Background(), domain.Event{Type: domain.EventGitUpdated, ProjectPath: "/b"})
	bus.Close()

	assert.Equal(t, []string{"/b"}, rec.projects())
}

func TestCloseDeliversQueuedThenDropsNew(t *testing.T) {
	bus := newBus()
	rec := &recorder{}
	bus.SubscribeAll(func(ctx context.Context, e domain.Event) {
		time.Sleep(10 * time.Millisecond)
		rec.handle(ctx, e)
	})

	for range 3 {
		bus.Publish(context.Background(), domain.Event{Type: domain.EventProjectUpdated})
	}
	bus.Close()
	require.Len(t, rec.events, 3, "Close waits for queued events")

	bus.Publish(context.Background(), domain.Event{Type: domain.EventProjectUpdated})
	bus.Close()
	assert.Len(t, rec.events, 3)
}

func TestHandlerContextOutlivesPublisher(t *testing.T) {
	bus := newBus()
	type ctxKey struct{}
	seen := make(chan context.Context, 1)
	bus.SubscribeAll(func(ctx context.Context, _ domain.Event) { seen <- ctx })

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "req-1"))
	cancel()
	bus.Publish(ctx, domain.Event{Type: domain.EventJobUpdated})
	bus.Close()

	got := <-seen
	assert.NoError(t, got.Err())
	assert.Equal(t, "req-1", got.Value(ctxKey{}), "values survive, cancellation does not")
}

func TestBusSatisfiesDomainInterface(t *testing.T) {
	var _ domain.EventBus = newBus()
}
