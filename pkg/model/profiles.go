package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/nstogner/companion/pkg/domain"
)

var (
	// ErrProfilesUnavailable means no profiles file has been loaded.
	ErrProfilesUnavailable = errors.New("model profiles configuration not found")
	// ErrProfileNotFound means the profiles file has no such profile.
	ErrProfileNotFound = errors.New("profile not found")
)

// ParseProfiles decodes a {"profiles": {name: {...}}} document.
func ParseProfiles(data []byte) (map[string]domain.Profile, error) {
	var f struct {
		Profiles map[string]domain.Profile `json:"profiles"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	for name, p := range f.Profiles {
		if p.VisionModel == "" || p.ReasoningModel == "" {
			return nil, fmt.Errorf("profile %q: vision_model and reasoning_model are required", name)
		}
	}
	if f.Profiles == nil {
		f.Profiles = map[string]domain.Profile{}
	}
	return f.Profiles, nil
}

// Profiles holds named model pairings. It is safe for concurrent use.
type Profiles struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
	loaded   bool
}

// NewProfiles returns an empty, unloaded set.
func NewProfiles() *Profiles {
	return &Profiles{}
}

// Load reads path. A missing or malformed file leaves the set unloaded.
func (p *Profiles) Load(path string) {
	profiles, err := loadProfilesFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("Model profiles file not found", "path", path)
		} else {
			slog.Error("Failed to load model profiles", "path", path, "error", err)
		}
	} else {
		slog.Info("Loaded model profiles", "count", len(profiles))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles = profiles
	p.loaded = err == nil
}

func loadProfilesFile(path string) (map[string]domain.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseProfiles(data)
}

// All returns a copy of the loaded profiles; empty when none are loaded.
func (p *Profiles) All() map[string]domain.Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]domain.Profile, len(p.profiles))
	for k, v := range p.profiles {
		out[k] = v
	}
	return out
}

// Get returns the named profile.
func (p *Profiles) Get(name string) (domain.Profile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.loaded {
		return domain.Profile{}, ErrProfilesUnavailable
	}
	prof, ok := p.profiles[name]
	if !ok {
		return domain.Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, name)
	}
	return prof, nil
}
