package hub

import (
	"context"
	"encoding/json"

	"remotedev/internal/domain"
)

// Client-facing event names.
const (
	EventJobUpdate         = "job_update"
	EventDevServerStarted  = "dev_server_started"
	EventDevServerStopped  = "dev_server_stopped"
	EventFileChange        = "file_change"
	EventGitUpdate         = "git_update"
	EventProjectUpdate     = "project_update"
	EventProjectListUpdate = "project_list_update"
	EventCursorUpdate      = "cursor_update"
)

// Route maps a bus event to the client event name and the rooms it targets.
// An empty room list with All set means every connection.
type Route struct {
	Event string
	Rooms []string
	All   bool
}

// RoutesFor returns where a bus event is delivered. Unknown event types
// return nil and are not forwarded.
func RoutesFor(evt domain.Event) []Route {
	p := evt.ProjectPath
	switch evt.Type {
	case domain.EventJobUpdated:
		rooms := []string{domain.RoomJobs}
		var j struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(evt.Payload, &j) == nil && j.ID != "" {
			rooms = append(rooms, domain.JobRoom(j.ID))
		}
		cursorRooms := []string{domain.RoomCursorUpdates}
		if p != "" {
			rooms = append(rooms, domain.ProjectRoom(p))
			cursorRooms = append(cursorRooms, domain.CursorUpdatesRoom(p))
		}
		return []Route{
			{Event: EventJobUpdate, Rooms: rooms},
			{Event: EventCursorUpdate, Rooms: cursorRooms},
		}
	case domain.EventDevServerStarted:
		return []Route{{Event: EventDevServerStarted, Rooms: []string{domain.ProjectRoom(p)}}}
	case domain.EventDevServerStopped:
		return []Route{{Event: EventDevServerStopped, Rooms: []string{domain.ProjectRoom(p)}}}
	case domain.EventFileChanged:
		return []Route{{Event: EventFileChange, Rooms: []string{domain.FileChangesRoom(p)}}}
	case domain.EventGitUpdated:
		return []Route{{Event: EventGitUpdate, Rooms: []string{domain.ProjectRoom(p)}}}
	case domain.EventProjectUpdated:
		return []Route{
			{Event: EventProjectUpdate, Rooms: []string{domain.ProjectRoom(p)}},
			{Event: EventProjectListUpdate, All: true},
		}
	}
	return nil
}

// Bridge forwards bus events to the hub.
type Bridge struct {
	hub   *Hub
	unsub func()
}

// NewBridge subscribes to every bus event and routes it into h.
func NewBridge(bus domain.EventBus, h *Hub) *Bridge {
	b := &Bridge{hub: h}
	b.unsub = bus.SubscribeAll(b.forward)
	return b
}

// Close stops forwarding.
func (b *Bridge) Close() {
	if b.unsub != nil {
		b.unsub()
	}
}

func (b *Bridge) forward(_ context.Context, evt domain.Event) {
	for _, r := range RoutesFor(evt) {
		if r.All {
			b.hub.BroadcastAll(r.Event, evt.Payload)
			continue
		}
		b.hub.BroadcastRooms(r.Rooms, r.Event, evt.Payload)
	}
}
