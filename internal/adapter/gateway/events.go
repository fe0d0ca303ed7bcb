package gateway

import (
	"encoding/json"
	"time"

	"remotedev/internal/domain"
)

// Client messages and their acknowledgements.
const (
	MsgJoinProject              = "join_project"
	MsgLeaveProject             = "leave_project"
	MsgSubscribeFileChanges     = "subscribe_file_changes"
	MsgUnsubscribeFileChanges   = "unsubscribe_file_changes"
	MsgSubscribeCursorUpdates   = "subscribe_cursor_updates"
	MsgUnsubscribeCursorUpdates = "unsubscribe_cursor_updates"
	MsgSubscribeJob             = "subscribe_job"
	MsgUnsubscribeJob           = "unsubscribe_job"
	MsgPing                     = "ping"

	AckJoinedProject             = "joined_project"
	AckLeftProject               = "left_project"
	AckSubscribedFileChanges     = "subscribed_file_changes"
	AckUnsubscribedFileChanges   = "unsubscribed_file_changes"
	AckSubscribedCursorUpdates   = "subscribed_cursor_updates"
	AckUnsubscribedCursorUpdates = "unsubscribed_cursor_updates"
	AckSubscribedJob             = "subscribed_job"
	AckUnsubscribedJob           = "unsubscribed_job"
	EventPong                    = "pong"
	EventError                   = "error"
)

type projectPayload struct {
	ProjectPath string `json:"projectPath"`
}

type jobPayload struct {
	JobID string `json:"jobId,omitempty"`
}

type pongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// subscription describes how a client message maps to rooms.
type subscription struct {
	ack      string
	join     bool
	optional bool // the projectPath/jobId may be empty
	rooms    func(key string) []string
	payload  func(key string) any
}

func projectAck(key string) any { return projectPayload{ProjectPath: key} }
func jobAck(key string) any     { return jobPayload{JobID: key} }

func cursorRooms(p string) []string {
	if p == "" {
		return []string{domain.RoomCursorUpdates}
	}
	return []string{domain.RoomCursorUpdates, domain.CursorUpdatesRoom(p)}
}

func one(f func(string) string) func(string) []string {
	return func(key string) []string { return []string{f(key)} }
}

var subscriptions = map[string]subscription{
	MsgJoinProject:              {ack: AckJoinedProject, join: true, rooms: one(domain.ProjectRoom), payload: projectAck},
	MsgLeaveProject:             {ack: AckLeftProject, rooms: one(domain.ProjectRoom), payload: projectAck},
	MsgSubscribeFileChanges:     {ack: AckSubscribedFileChanges, join: true, rooms: one(domain.FileChangesRoom), payload: projectAck},
	MsgUnsubscribeFileChanges:   {ack: AckUnsubscribedFileChanges, rooms: one(domain.FileChangesRoom), payload: projectAck},
	MsgSubscribeCursorUpdates:   {ack: AckSubscribedCursorUpdates, join: true, optional: true, rooms: cursorRooms, payload: projectAck},
	MsgUnsubscribeCursorUpdates: {ack: AckUnsubscribedCursorUpdates, optional: true, rooms: cursorRooms, payload: projectAck},
	MsgSubscribeJob:             {ack: AckSubscribedJob, join: true, optional: true, rooms: one(domain.JobRoom), payload: jobAck},
	MsgUnsubscribeJob:           {ack: AckUnsubscribedJob, optional: true, rooms: one(domain.JobRoom), payload: jobAck},
}

// handleClientEvent applies a room subscription message or answers a ping.
// Acknowledgements go through the hub queue so they stay ordered with
// events for the same connection.
func (s *Server) handleClientEvent(cc *clientConn, f Frame) {
	id := cc.conn.ID()

	if f.Event == MsgPing {
		s.sendEvent(id, EventPong, pongPayload{Timestamp: time.Now()})
		return
	}

	sub, ok := subscriptions[f.Event]
	if !ok {
		s.sendError(cc, "unknown event: "+f.Event)
		return
	}

	key, err := subscriptionKey(f.Event, f.Payload)
	if err != nil || (key == "" && !sub.optional) {
		s.sendError(cc, "invalid payload for "+f.Event)
		return
	}

	for _, room := range sub.rooms(key) {
		if sub.join {
			err = s.hub.Join(id, room)
		} else {
			err = s.hub.Leave(id, room)
		}
		if err != nil {
			s.sendError(cc, err.Error())
			return
		}
	}
	s.sendEvent(id, sub.ack, sub.payload(key))
}

func subscriptionKey(event string, raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if event == MsgSubscribeJob || event == MsgUnsubscribeJob {
		var p jobPayload
		err := json.Unmarshal(raw, &p)
		return p.JobID, err
	}
	var p projectPayload
	err := json.Unmarshal(raw, &p)
	return p.ProjectPath, err
}

func (s *Server) sendEvent(id, event string, payload any) {
	if err := s.hub.SendTo(id, event, payload); err != nil {
		s.logger.Debug("send to client", "conn_id", id, "event", event, "error", err)
	}
}

func (s *Server) sendError(cc *clientConn, msg string) {
	s.sendEvent(cc.conn.ID(), EventError, errorPayload{Message: msg})
}
