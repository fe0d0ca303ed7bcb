package devserver

import (
	"strings"
	"sync"
)

// DefaultReadyPatterns are the output fragments that mark a dev server as
// serving.
var DefaultReadyPatterns = []string{"Local:", "ready", "started"}

// readinessScanner is an io.Writer that closes ready the first time the
// written stream contains one of patterns. It keeps a short tail so a
// pattern split across writes is still found.
type readinessScanner struct {
	patterns []string
	keep     int

	mu    sync.Mutex
	tail  string
	once  sync.Once
	ready chan struct{}
}

func newReadinessScanner(patterns []string) *readinessScanner {
	keep := 0
	for _, p := range patterns {
		keep = max(keep, len(p))
	}
	return &readinessScanner{
		patterns: patterns,
		keep:     keep,
		ready:    make(chan struct{}),
	}
}

func (s *readinessScanner) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.ready:
		return len(p), nil
	default:
	}

	window := s.tail + string(p)
	for _, pat := range s.patterns {
		if pat != "" && strings.Contains(window, pat) {
			s.once.Do(func() { close(s.ready) })
			s.tail = ""
			return len(p), nil
		}
	}
	if len(window) > s.keep {
		window = window[len(window)-s.keep:]
	}
	s.tail = window
	return len(p), nil
}

// Ready is closed once a pattern has been seen.
func (s *readinessScanner) Ready() <-chan struct{} { return s.ready }
