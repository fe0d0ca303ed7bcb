package git

import (
	"strings"

	"remotedev/internal/domain"
)

const (
	staged   = "staged"
	unstaged = "unstaged"
)

// parseStatus reads `git status --porcelain=v1` output.
func parseStatus(out string) []domain.GitFileStatus {
	files := []domain.GitFileStatus{}
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		x, y, path := line[0], line[1], line[3:]
		stage := unstaged
		if x != ' ' && x != '?' {
			stage = staged
		}

		var status string
		switch {
		case x == '?' && y == '?':
			status = "untracked"
		case x == 'R':
			status = "renamed"
		case x == 'D' || y == 'D':
			status = "deleted"
		case x == 'A':
			status = "added"
		case x == 'M' || y == 'M':
			status = "modified"
		default:
			status = "changed"
		}
		files = append(files, domain.GitFileStatus{File: unquote(path), Status: status, Staged: stage})
	}
	return files
}

// parseDiff splits unified diff output into one entry per file.
func parseDiff(out string) []domain.GitDiff {
	diffs := []domain.GitDiff{}
	var file string
	var body strings.Builder
	flush := func() {
		if file != "" {
			diffs = append(diffs, domain.GitDiff{File: file, Diff: strings.TrimSpace(body.String())})
		}
		body.Reset()
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "diff --git ") {
			flush()
			file = ""
			if fields := strings.Fields(line); len(fields) >= 3 {
				file = strings.TrimPrefix(fields[2], "a/")
			}
		}
		if file != "" {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	flush()
	return diffs
}

// parseLog reads records written with logFormat.
func parseLog(out string) []domain.GitCommit {
	commits := []domain.GitCommit{}
	for _, rec := range strings.Split(out, "\x1e") {
		rec = strings.TrimSpace(rec)
		if rec == "" {
			continue
		}
		f := strings.Split(rec, "\x1f")
		if len(f) < 5 {
			continue
		}
		commits = append(commits, domain.GitCommit{
			Hash:    f[0],
			Message: f[1],
			Author:  f[2],
			Date:    f[3],
			Email:   f[4],
		})
	}
	return commits
}

func unquote(path string) string {
	if len(path) >= 2 && path[0] == '"' && path[len(path)-1] == '"' {
		return path[1 : len(path)-1]
	}
	return path
}
