package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventJobUpdated       EventType = "job.updated"
	EventDevServerStarted EventType = "dev_server.started"
	EventDevServerStopped EventType = "dev_server.stopped"
	EventFileChanged      EventType = "file.changed"
	EventGitUpdated       EventType = "git.updated"
	EventProjectUpdated   EventType = "project.updated"
)

// Event is the envelope published on the event bus.
// ProjectPath scopes the event to a project's rooms; it is empty for
// events that are not tied to a single project.
type Event struct {
	Type        EventType       `json:"type"`
	Timestamp   time.Time       `json:"timestamp"`
	ProjectPath string          `json:"project_path,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// NewEvent marshals payload into an Event stamped with the current time.
func NewEvent(typ EventType, projectPath string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Type:        typ,
		Timestamp:   time.Now(),
		ProjectPath: projectPath,
		Payload:     data,
	}, nil
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
