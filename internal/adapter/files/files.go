// Package files reads and writes project files on behalf of remote clients.
// Every path is resolved against the project root and must stay inside it.
package files

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"remotedev/internal/domain"
)

// DefaultMaxSize caps the size of files returned by Read.
const DefaultMaxSize int64 = 10 << 20

// Service implements the file collaborator.
type Service struct {
	maxSize int64
	logger  *slog.Logger
}

// New creates a Service. maxSize <= 0 uses DefaultMaxSize.
func New(maxSize int64, logger *slog.Logger) *Service {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Service{maxSize: maxSize, logger: logger.With(slog.String("component", "files"))}
}

// List returns the entries of dir (relative to projectPath), directories
// first and then files, each group sorted by name. Hidden and build
// entries are skipped.
func (s *Service) List(projectPath, dir string) ([]domain.FileInfo, error) {
	const op = "Files.List"
	root, full, err := resolve(op, projectPath, dir)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return nil, notFound(op, "directory not found: "+dir, err)
	}
	if !info.IsDir() {
		return nil, domain.NewSubSystemError("files", op, domain.ErrInvalidInput, "path is not a directory: "+dir)
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, domain.NewSubSystemError("files", op, domain.ErrExecution, err.Error())
	}

	out := make([]domain.FileInfo, 0, len(entries))
	for _, e := range entries {
		if domain.IsIgnoredName(e.Name()) {
			continue
		}
		fi := describe(root, filepath.Join(full, e.Name()), e.IsDir())
		if !e.IsDir() {
			if st, err := e.Info(); err == nil {
				fi.Size = st.Size()
				fi.LastModified = st.ModTime().UTC().Format(time.RFC3339)
			}
		}
		out = append(out, fi)
	}

	slices.SortFunc(out, func(a, b domain.FileInfo) int {
		if a.IsDirectory != b.IsDirectory {
			if a.IsDirectory {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Read returns a file with its content.
func (s *Service) Read(projectPath, file string) (domain.FileInfo, error) {
	const op = "Files.Read"
	root, full, err := resolve(op, projectPath, file)
	if err != nil {
		return domain.FileInfo{}, err
	}

	st, err := os.Stat(full)
	if err != nil {
		return domain.FileInfo{}, notFound(op, "file not found: "+file, err)
	}
	if st.IsDir() {
		return domain.FileInfo{}, domain.NewSubSystemError("files", op, domain.ErrInvalidInput, "path is a directory, not a file: "+file)
	}
	if st.Size() > s.maxSize {
		return domain.FileInfo{}, domain.NewSubSystemError("files", op, domain.ErrInvalidInput, "file too large")
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return domain.FileInfo{}, domain.NewSubSystemError("files", op, domain.ErrExecution, err.Error())
	}

	fi := describe(root, full, false)
	fi.Content = string(data)
	fi.Size = st.Size()
	fi.LastModified = st.ModTime().UTC().Format(time.RFC3339)
	return fi, nil
}

// Write creates or replaces a file, creating missing parent directories.
func (s *Service) Write(projectPath, file, content string) (domain.FileInfo, error) {
	const op = "Files.Write"
	root, full, err := resolve(op, projectPath, file)
	if err != nil {
		return domain.FileInfo{}, err
	}
	if full == root {
		return domain.FileInfo{}, domain.NewSubSystemError("files", op, domain.ErrInvalidInput, "filePath is required")
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return domain.FileInfo{}, domain.NewSubSystemError("files", op, domain.ErrExecution, err.Error())
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return domain.FileInfo{}, domain.NewSubSystemError("files", op, domain.ErrExecution, err.Error())
	}

	s.logger.Debug("file written", "path", full, "bytes", len(content))
	fi := describe(root, full, false)
	fi.Content = content
	fi.Size = int64(len(content))
	fi.LastModified = time.Now().UTC().Format(time.RFC3339)
	return fi, nil
}

// Delete removes a file, or a directory with everything below it.
func (s *Service) Delete(projectPath, file string) error {
	const op = "Files.Delete"
	root, full, err := resolve(op, projectPath, file)
	if err != nil {
		return err
	}
	if full == root {
		return domain.NewSubSystemError("files", op, domain.ErrInvalidInput, "refusing to delete the project root")
	}
	if _, err := os.Lstat(full); err != nil {
		return notFound(op, "file not found: "+file, err)
	}
	if err := os.RemoveAll(full); err != nil {
		return domain.NewSubSystemError("files", op, domain.ErrExecution, err.Error())
	}
	s.logger.Info("path deleted", "path", full)
	return nil
}

// Mkdir creates a directory and its parents. An existing path is an error.
func (s *Service) Mkdir(projectPath, dir string) (domain.FileInfo, error) {
	const op = "Files.Mkdir"
	root, full, err := resolve(op, projectPath, dir)
	if err != nil {
		return domain.FileInfo{}, err
	}
	if _, err := os.Stat(full); err == nil {
		return domain.FileInfo{}, domain.NewSubSystemError("files", op, domain.ErrInvalidInput, "directory already exists: "+dir)
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return domain.FileInfo{}, domain.NewSubSystemError("files", op, domain.ErrExecution, err.Error())
	}
	return describe(root, full, true), nil
}

// resolve joins rel onto projectPath and rejects results outside the root.
func resolve(op, projectPath, rel string) (root, full string, err error) {
	if projectPath == "" || !filepath.IsAbs(projectPath) {
		return "", "", domain.NewSubSystemError("files", op, domain.ErrInvalidInput, "projectPath must be an absolute path")
	}
	root = filepath.Clean(projectPath)
	full = filepath.Join(root, filepath.FromSlash(rel))
	if full != root && !strings.HasPrefix(full, root+string(filepath.Separator)) {
		return "", "", domain.NewSubSystemError("files", op, domain.ErrPathOutsideRoot, rel)
	}
	return root, full, nil
}

func notFound(op, detail string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NewSubSystemError("files", op, domain.ErrNotFound, detail)
	}
	return domain.NewSubSystemError("files", op, domain.ErrExecution, err.Error())
}

func describe(root, full string, isDir bool) domain.FileInfo {
	rel, _ := filepath.Rel(root, full)
	fi := domain.FileInfo{
		Name:         filepath.Base(full),
		Path:         full,
		RelativePath: filepath.ToSlash(rel),
		IsDirectory:  isDir,
	}
	if isDir {
		fi.Type = "directory"
		return fi
	}
	fi.Type = FileType(fi.Name)
	fi.Language = Language(fi.Name)
	return fi
}
