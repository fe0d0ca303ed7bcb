package domain

import "time"

// ChangeKind classifies a filesystem notification.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeChanged ChangeKind = "changed"
	ChangeRemoved ChangeKind = "removed"
)

// FileChange is emitted by the filesystem watcher for every relevant notification.
type FileChange struct {
	Kind         ChangeKind `json:"changeKind"`
	RelativePath string     `json:"relativePath"`
	ProjectPath  string     `json:"projectPath"`
	Timestamp    time.Time  `json:"timestamp"`
}
