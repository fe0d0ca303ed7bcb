package domain

import (
	"fmt"
	"time"
)

// DevServerStatus is the lifecycle state of a Dev Server record.
type DevServerStatus string

const (
	DevServerStarting DevServerStatus = "starting"
	DevServerRunning  DevServerStatus = "running"
	DevServerStopped  DevServerStatus = "stopped"
	DevServerError    DevServerStatus = "error"
)

// IsActive reports whether the record still owns (or observes) a live server.
func (s DevServerStatus) IsActive() bool {
	return s == DevServerStarting || s == DevServerRunning
}

// DevServer tracks one locally running development server.
type DevServer struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	ProjectPath string          `json:"projectPath"`
	Port        int             `json:"port"`
	URL         string          `json:"url"`
	Status      DevServerStatus `json:"status"`
	Command     string          `json:"command,omitempty"`
	PID         int             `json:"pid,omitempty"`
	Framework   string          `json:"framework,omitempty"`
	Detected    bool            `json:"detected,omitempty"`
	Error       string          `json:"error,omitempty"`
	LastStarted time.Time       `json:"lastStarted"`
}

// DevServerKey returns the record key for a project and port.
func DevServerKey(projectPath string, port int) string {
	return fmt.Sprintf("%s:%d", projectPath, port)
}

// LocalURL returns the browser URL for a server on port.
func LocalURL(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}
