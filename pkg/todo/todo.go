// Package todo parses a todo.txt-style task list.
package todo

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/nstogner/companion/pkg/domain"
)

const (
	// NoTodos is rendered when the list has no items.
	NoTodos = "No todos defined."
	// AllDone is rendered when every item is completed.
	AllDone = "All todos completed!"
)

// Parse reads one item per non-blank line. A leading "x " marks the item
// completed; a following "(A) " (one uppercase letter) sets its priority.
func Parse(content string) []domain.TodoItem {
	var items []domain.TodoItem
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var item domain.TodoItem
		if rest, ok := strings.CutPrefix(line, "x "); ok {
			item.Completed = true
			line = rest
		}
		if len(line) >= 4 && line[0] == '(' && line[2] == ')' && line[3] == ' ' &&
			line[1] >= 'A' && line[1] <= 'Z' {
			item.Priority = line[1:2]
			line = strings.TrimSpace(line[4:])
		}
		item.Text = line
		items = append(items, item)
	}
	return items
}

// Render formats the incomplete items as "- (A) text" lines.
func Render(items []domain.TodoItem) string {
	if len(items) == 0 {
		return NoTodos
	}
	var lines []string
	for _, item := range items {
		if item.Completed {
			continue
		}
		prefix := ""
		if item.Priority != "" {
			prefix = "(" + item.Priority + ") "
		}
		lines = append(lines, "- "+prefix+item.Text)
	}
	if len(lines) == 0 {
		return AllDone
	}
	return strings.Join(lines, "\n")
}

// Store holds the current todo items. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	items []domain.TodoItem
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Load replaces the items with the contents of path. A missing or unreadable
// file leaves the store empty.
func (s *Store) Load(path string) {
	var items []domain.TodoItem
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("Todo file not found", "path", path)
	case err != nil:
		slog.Error("Failed to read todo file", "path", path, "error", err)
	default:
		items = Parse(string(data))
		slog.Info("Loaded todo items", "count", len(items))
	}

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

// Items returns a copy of all items, including completed ones.
func (s *Store) Items() []domain.TodoItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.TodoItem(nil), s.items...)
}

// Text returns the rendered list of incomplete items.
func (s *Store) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Render(s.items)
}
