package domain

// FileInfo describes a file or directory inside a project.
type FileInfo struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	RelativePath string `json:"relativePath"`
	IsDirectory  bool   `json:"isDirectory"`
	Type         string `json:"type,omitempty"`
	Language     string `json:"language,omitempty"`
	Size         int64  `json:"size,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
	Content      string `json:"content,omitempty"`
}

// GitFileStatus is one entry of a working tree status.
type GitFileStatus struct {
	File   string `json:"file"`
	Status string `json:"status"`
	Staged string `json:"staged,omitempty"`
}

// GitCommit describes a single commit.
type GitCommit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Email   string `json:"email,omitempty"`
}

// GitDiff holds the diff text for one file.
type GitDiff struct {
	File string `json:"file"`
	Diff string `json:"diff"`
}

// Project is a directory under the workspace root that looks like a codebase.
type Project struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	LastModified string `json:"lastModified,omitempty"`
	FileCount    int    `json:"fileCount"`
	GitBranch    string `json:"gitBranch,omitempty"`
	Language     string `json:"language,omitempty"`
	Framework    string `json:"framework,omitempty"`
}
