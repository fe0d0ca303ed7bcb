package domain

import "strings"

// Room prefixes. A room is a derived broadcast scope, never a stored object.
const (
	RoomPrefixProject     = "project:"
	RoomPrefixFileChanges = "file_changes:"
	RoomCursorUpdates     = "cursor_updates"
	RoomJobs              = "jobs"
)

// ProjectRoom returns the room that receives lifecycle events for projectPath.
func ProjectRoom(projectPath string) string { return RoomPrefixProject + projectPath }

// FileChangesRoom returns the room that receives file changes under projectPath.
func FileChangesRoom(projectPath string) string { return RoomPrefixFileChanges + projectPath }

// CursorUpdatesRoom returns the project-scoped cursor room, or the global
// one when projectPath is empty.
func CursorUpdatesRoom(projectPath string) string {
	if projectPath == "" {
		return RoomCursorUpdates
	}
	return RoomCursorUpdates + ":" + projectPath
}

// JobRoom returns the room for a single job, or the room for all jobs when
// jobID is empty.
func JobRoom(jobID string) string {
	if jobID == "" {
		return RoomJobs
	}
	return RoomJobs + ":" + jobID
}

// IsValidRoom reports whether name uses one of the known room shapes.
func IsValidRoom(name string) bool {
	switch {
	case name == RoomCursorUpdates, name == RoomJobs:
		return true
	case strings.HasPrefix(name, RoomPrefixProject):
		return len(name) > len(RoomPrefixProject)
	case strings.HasPrefix(name, RoomPrefixFileChanges):
		return len(name) > len(RoomPrefixFileChanges)
	case strings.HasPrefix(name, RoomCursorUpdates+":"):
		return len(name) > len(RoomCursorUpdates)+1
	case strings.HasPrefix(name, RoomJobs+":"):
		return len(name) > len(RoomJobs)+1
	}
	return false
}
