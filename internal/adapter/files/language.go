package files

import (
	"path/filepath"
	"strings"
)

var languages = map[string]string{
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".py":   "python",
	".java": "java",
	".go":   "go",
	".rs":   "rust",
	".php":  "php",
	".rb":   "ruby",
	".css":  "css",
	".scss": "scss",
	".sass": "sass",
	".less": "less",
	".html": "html",
	".htm":  "html",
	".xml":  "xml",
	".json": "json",
	".yaml": "yaml",
	".yml":  "yaml",
	".md":   "markdown",
	".sql":  "sql",
	".sh":   "shell",
	".bat":  "batch",
	".ps1":  "powershell",
}

// types extends languages with file kinds that have no editor language.
var types = map[string]string{
	".txt":        "text",
	".dockerfile": "dockerfile",
	".gitignore":  "gitignore",
	".env":        "env",
}

// Language returns the editor language for name, or "" when unknown.
func Language(name string) string {
	return languages[strings.ToLower(filepath.Ext(name))]
}

// FileType classifies name for display. Unknown files are "text".
func FileType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := languages[ext]; ok {
		return t
	}
	if t, ok := types[ext]; ok {
		return t
	}
	return "text"
}
