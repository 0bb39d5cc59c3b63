// Package persona loads named prompt templates and tracks the active one.
package persona

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/nstogner/companion/pkg/domain"
)

// FallbackPrompt is returned when no persona has been loaded at all.
const FallbackPrompt = "You are a helpful assistant."

// DefaultIcon is shown for personas that do not set one.
const DefaultIcon = "󰚩"

// Builtin is used whenever the personas file is missing or unusable.
var Builtin = domain.Persona{
	Name:        "Assistant",
	Description: "A helpful productivity assistant",
	Tone:        "friendly",
	FocusAreas:  []string{"productivity", "focus"},
	PromptTemplate: "You are a helpful, friendly productivity assistant. Your goal is to help " +
		"the user stay focused and productive without being intrusive.",
}

// Set is the result of loading a personas source.
type Set struct {
	Personas []domain.Persona
	Default  string
	// Fallback is true when Personas holds only the built-in persona because
	// the source could not be used.
	Fallback bool
}

type fileFormat struct {
	Personas []domain.Persona `json:"personas"`
	Default  string           `json:"default"`
}

// Parse decodes a personas document. Personas without a name or template are
// rejected, as are duplicate names.
func Parse(data []byte) ([]domain.Persona, string, error) {
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, "", fmt.Errorf("decode personas: %w", err)
	}
	seen := make(map[string]bool, len(f.Personas))
	for i, p := range f.Personas {
		if strings.TrimSpace(p.Name) == "" {
			return nil, "", fmt.Errorf("persona %d: missing name", i)
		}
		if strings.TrimSpace(p.PromptTemplate) == "" {
			return nil, "", fmt.Errorf("persona %q: missing prompt_template", p.Name)
		}
		if seen[p.Name] {
			return nil, "", fmt.Errorf("persona %q: duplicate name", p.Name)
		}
		seen[p.Name] = true
	}
	if len(f.Personas) == 0 {
		return nil, "", errors.New("no personas defined")
	}
	return f.Personas, f.Default, nil
}

// LoadFile reads and parses path. It never fails: a missing or malformed
// file yields a Set holding only Builtin with Fallback set.
func LoadFile(path string) Set {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Personas file not found", "path", path)
		} else {
			slog.Error("Failed to read personas file", "path", path, "error", err)
		}
		return fallbackSet()
	}
	personas, def, err := Parse(data)
	if err != nil {
		slog.Error("Failed to load personas", "path", path, "error", err)
		return fallbackSet()
	}
	return Set{Personas: personas, Default: def}
}

func fallbackSet() Set {
	return Set{Personas: []domain.Persona{Builtin}, Default: Builtin.Name, Fallback: true}
}

// Store holds the loaded personas and the active selection.
// It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	personas []domain.Persona
	active   int // index into personas, -1 when empty
	fallback bool
}

// NewStore returns a store with no personas loaded.
func NewStore() *Store {
	return &Store{active: -1}
}

// Load replaces the store's contents with those of path.
func (s *Store) Load(path string) {
	s.Replace(LoadFile(path))
}

// Replace installs set. If the currently active persona still exists by name
// it stays active; otherwise the set's default is activated, falling back to
// the first persona when the default names nothing.
func (s *Store) Replace(set Set) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := ""
	if s.active >= 0 {
		prev = s.personas[s.active].Name
	}

	s.personas = append([]domain.Persona(nil), set.Personas...)
	s.fallback = set.Fallback
	s.active = -1
	if len(s.personas) == 0 {
		return
	}
	if i := s.indexOf(prev); prev != "" && i >= 0 {
		s.active = i
	} else if i := s.indexOf(set.Default); i >= 0 {
		s.active = i
	} else {
		s.active = 0
	}
	slog.Info("Loaded personas", "count", len(s.personas), "active", s.personas[s.active].Name, "fallback", s.fallback)
}

func (s *Store) indexOf(name string) int {
	for i, p := range s.personas {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Activate makes the persona with exactly this name active. It reports false
// and changes nothing when no such persona exists.
func (s *Store) Activate(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(name)
	if i < 0 {
		return false
	}
	s.active = i
	slog.Info("Switched persona", "name", name)
	return true
}

// Active returns the active persona, if any.
func (s *Store) Active() (domain.Persona, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active < 0 {
		return domain.Persona{}, false
	}
	return s.personas[s.active], true
}

// ActiveName returns the active persona's name, or "Default" when none is loaded.
func (s *Store) ActiveName() string {
	if p, ok := s.Active(); ok {
		return p.Name
	}
	return "Default"
}

// ActivePromptTemplate returns the active persona's template or FallbackPrompt.
func (s *Store) ActivePromptTemplate() string {
	if p, ok := s.Active(); ok {
		return p.PromptTemplate
	}
	return FallbackPrompt
}

// List returns a copy of all personas in load order.
func (s *Store) List() []domain.Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Persona(nil), s.personas...)
}

// IsFallback reports whether the built-in persona is in use because the
// configured source could not be loaded.
func (s *Store) IsFallback() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fallback
}
