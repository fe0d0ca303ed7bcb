package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"remotedev/internal/domain"
	"remotedev/internal/usecase/hub"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- test doubles ---

type fakeJobs struct {
	jobs      map[string]domain.Job
	cancelled []string
}

func (f *fakeJobs) Get(id string) (domain.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, domain.NewSubSystemError("job", "Registry.Get", domain.ErrNotFound, id)
	}
	return j, nil
}

func (f *fakeJobs) List() []domain.Job {
	out := make([]domain.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

func (f *fakeJobs) Cancel(_ context.Context, id string) error {
	if _, err := f.Get(id); err != nil {
		return err
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakeDevServers struct{}

func (fakeDevServers) List(projectPath string) []domain.DevServer {
	return []domain.DevServer{{ID: projectPath + ":3000", ProjectPath: projectPath, Port: 3000}}
}

type fixture struct {
	hub  *hub.Hub
	srv  *Server
	http *httptest.Server
	jobs *fakeJobs
}

func startTestServer(t *testing.T, key string) *fixture {
	t.Helper()
	h := hub.New(hub.Config{}, newTestLogger())
	srv := NewServer(h, NewAPIKeyAuth(key), Options{}, newTestLogger())
	jobs := &fakeJobs{jobs: map[string]domain.Job{
		"01J": {ID: "01J", Status: domain.JobRunning, Kind: domain.JobKindCommand},
	}}
	RegisterDefaultHandlers(srv, HandlerDeps{Jobs: jobs, DevServers: fakeDevServers{}})

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Shutdown()
		ts.Close()
	})
	return &fixture{hub: h, srv: srv, http: ts, jobs: jobs}
}

func (f *fixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws" + query
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var f Frame
	require.NoError(t, wsjson.Read(ctx, ws, &f))
	return f
}

func writeFrame(t *testing.T, ws *websocket.Conn, f Frame) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, ws, f))
}

// connect dials and consumes the connected acknowledgement.
func (f *fixture) connect(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	ws := f.dial(t, "")
	ack := readFrame(t, ws)
	require.Equal(t, hub.EventConnected, ack.Event)
	var p hub.ConnectedPayload
	require.NoError(t, json.Unmarshal(ack.Payload, &p))
	return ws, p.ClientID
}

// --- tests ---

func TestConnectedAcknowledgementIsFirst(t *testing.T) {
	f := startTestServer(t, "")
	ws := f.dial(t, "")

	frame := readFrame(t, ws)
	assert.Equal(t, FrameTypeEvent, frame.Type)
	assert.Equal(t, hub.EventConnected, frame.Event)

	var p hub.ConnectedPayload
	require.NoError(t, json.Unmarshal(frame.Payload, &p))
	assert.NotEmpty(t, p.ClientID)
	assert.True(t, f.hub.IsConnected(p.ClientID))
}

func TestAuthRejectsMissingKey(t *testing.T) {
	f := startTestServer(t, "secret")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}

	ws := f.dial(t, "?token=secret")
	assert.Equal(t, hub.EventConnected, readFrame(t, ws).Event)
}

func TestJoinProjectReceivesRoomEvents(t *testing.T) {
	f := startTestServer(t, "")
	ws, id := f.connect(t)

	writeFrame(t, ws, Frame{Type: FrameTypeEvent, Event: MsgJoinProject, Payload: json.RawMessage(`{"projectPath":"/p"}`)})
	ack := readFrame(t, ws)
	assert.Equal(t, AckJoinedProject, ack.Event)
	assert.JSONEq(t, `{"projectPath":"/p"}`, string(ack.Payload))
	assert.Equal(t, []string{domain.ProjectRoom("/p")}, f.hub.Rooms(id))

	f.hub.Broadcast(domain.ProjectRoom("/p"), hub.EventDevServerStarted, map[string]int{"port": 3000})
	f.hub.Broadcast(domain.ProjectRoom("/other"), hub.EventDevServerStarted, map[string]int{"port": 1})
	f.hub.Broadcast(domain.ProjectRoom("/p"), hub.EventDevServerStopped, map[string]int{"port": 3000})

	assert.Equal(t, hub.EventDevServerStarted, readFrame(t, ws).Event)
	assert.Equal(t, hub.EventDevServerStopped, readFrame(t, ws).Event)

	writeFrame(t, ws, Frame{Type: FrameTypeEvent, Event: MsgLeaveProject, Payload: json.RawMessage(`{"projectPath":"/p"}`)})
	assert.Equal(t, AckLeftProject, readFrame(t, ws).Event)
	assert.Empty(t, f.hub.Rooms(id))
}

func TestSubscriptionsMapToRooms(t *testing.T) {
	f := startTestServer(t, "")
	ws, id := f.connect(t)

	writeFrame(t, ws, Frame{Type: FrameTypeEvent, Event: MsgSubscribeFileChanges, Payload: json.RawMessage(`{"projectPath":"/p"}`)})
	assert.Equal(t, AckSubscribedFileChanges, readFrame(t, ws).Event)
	writeFrame(t, ws, Frame{Type: FrameTypeEvent, Event: MsgSubscribeCursorUpdates, Payload: json.RawMessage(`{"projectPath":"/p"}`)})
	assert.Equal(t, AckSubscribedCursorUpdates, readFrame(t, ws).Event)
	writeFrame(t, ws, Frame{Type: FrameTypeEvent, Event: MsgSubscribeJob})
	assert.Equal(t, AckSubscribedJob, readFrame(t, ws).Event)
	writeFrame(t, ws, Frame{Type: FrameTypeEvent, Event: MsgSubscribeJob, Payload: json.RawMessage(`{"jobId":"01J"}`)})
	assert.Equal(t, AckSubscribedJob, readFrame(t, ws).Event)

	assert.ElementsMatch(t, []string{
		domain.FileChangesRoom("/p"),
		domain.RoomCursorUpdates,
		domain.CursorUpdatesRoom("/p"),
		domain.RoomJobs,
		domain.JobRoom("01J"),
	}, f.hub.Rooms(id))
}

func TestLeaveNeverJoinedIsAcknowledged(t *testing.T) {
	f := startTestServer(t, "")
	ws, _ := f.connect(t)

	writeFrame(t, ws, Frame{Type: FrameTypeEvent, Event: MsgUnsubscribeFileChanges, Payload: json.RawMessage(`{"projectPath":"/never"}`)})
	assert.Equal(t, AckUnsubscribedFileChanges, readFrame(t, ws).Event)
}

func TestPingPong(t *testing.T) {
	f := startTestServer(t, "")
	ws, _ := f.connect(t)

	writeFrame(t, ws, Frame{Type: FrameTypeEvent, Event: MsgPing})
	pong := readFrame(t, ws)
	assert.Equal(t, EventPong, pong.Event)

	var p pongPayload
	require.NoError(t, json.Unmarshal(pong.Payload, &p))
	assert.WithinDuration(t, time.Now(), p.Timestamp, 5*time.Second)
}

func TestInvalidPayloadIsError(t *testing.T) {
	f := startTestServer(t, "")
	ws, id := f.connect(t)

	writeFrame(t, ws, Frame{Type: FrameTypeEvent, Event: MsgJoinProject, Payload: json.RawMessage(`{}`)})
	assert.Equal(t, EventError, readFrame(t, ws).Event)

	writeFrame(t, ws, Frame{Type: FrameTypeEvent, Event: "teleport"})
	assert.Equal(t, EventError, readFrame(t, ws).Event)
	assert.Empty(t, f.hub.Rooms(id))
}

func TestRPCJobMethods(t *testing.T) {
	f := startTestServer(t, "")
	ws, _ := f.connect(t)

	writeFrame(t, ws, Frame{Type: FrameTypeRequest, ID: 1, Method: "job.get", Payload: json.RawMessage(`{"jobId":"01J"}`)})
	resp := readFrame(t, ws)
	assert.Equal(t, FrameTypeResponse, resp.Type)
	assert.Equal(t, uint64(1), resp.ID)
	assert.Empty(t, resp.Error)
	var job domain.Job
	require.NoError(t, json.Unmarshal(resp.Payload, &job))
	assert.Equal(t, "01J", job.ID)

	writeFrame(t, ws, Frame{Type: FrameTypeRequest, ID: 2, Method: "job.get", Payload: json.RawMessage(`{"jobId":"nope"}`)})
	resp = readFrame(t, ws)
	assert.Equal(t, uint64(2), resp.ID)
	assert.Equal(t, string(domain.CodeJobNotFound), resp.Code)

	writeFrame(t, ws, Frame{Type: FrameTypeRequest, ID: 3, Method: "job.cancel", Payload: json.RawMessage(`{"jobId":"01J"}`)})
	resp = readFrame(t, ws)
	assert.Empty(t, resp.Error)
	assert.Equal(t, []string{"01J"}, f.jobs.cancelled)

	writeFrame(t, ws, Frame{Type: FrameTypeRequest, ID: 4, Method: "job.cancel"})
	resp = readFrame(t, ws)
	assert.Equal(t, string(domain.CodeInvalidInput), resp.Code)
}

func TestRPCDevServerList(t *testing.T) {
	f := startTestServer(t, "")
	ws, _ := f.connect(t)

	writeFrame(t, ws, Frame{Type: FrameTypeRequest, ID: 7, Method: "devserver.list", Payload: json.RawMessage(`{"projectPath":"/p"}`)})
	resp := readFrame(t, ws)
	var servers []domain.DevServer
	require.NoError(t, json.Unmarshal(resp.Payload, &servers))
	require.Len(t, servers, 1)
	assert.Equal(t, "/p:3000", servers[0].ID)
}

func TestRPCUnknownMethod(t *testing.T) {
	f := startTestServer(t, "")
	ws, _ := f.connect(t)

	writeFrame(t, ws, Frame{Type: FrameTypeRequest, ID: 9, Method: "nonexistent"})
	resp := readFrame(t, ws)
	assert.Equal(t, uint64(9), resp.ID)
	assert.Equal(t, string(domain.CodeRPCMethodNotFound), resp.Code)
}

func TestDisconnectUnregisters(t *testing.T) {
	f := startTestServer(t, "")
	ws, id := f.connect(t)

	writeFrame(t, ws, Frame{Type: FrameTypeEvent, Event: MsgJoinProject, Payload: json.RawMessage(`{"projectPath":"/p"}`)})
	readFrame(t, ws)

	require.NoError(t, ws.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return !f.hub.IsConnected(id) }, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, f.hub.Broadcast(domain.ProjectRoom("/p"), hub.EventGitUpdate, nil))
}

func TestShutdownClosesConnections(t *testing.T) {
	f := startTestServer(t, "")
	ws, _ := f.connect(t)

	f.srv.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var frame Frame
	err := wsjson.Read(ctx, ws, &frame)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusNormalClosure, websocket.CloseStatus(err))
	assert.Empty(t, f.hub.Clients())
}
