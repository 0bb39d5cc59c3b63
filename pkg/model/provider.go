package model

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by backends for operations they cannot perform.
var ErrNotSupported = errors.New("not supported by backend")

// Request is a single non-streaming generation call.
type Request struct {
	// Model identifies which installed model to use (e.g. "llama3:latest").
	Model string
	// System is the system instruction. May be empty.
	System string
	// Prompt is the user content.
	Prompt string
	// Images are raw raster images (PNG/JPEG) attached to the prompt.
	Images [][]byte
	// Temperature controls sampling randomness.
	Temperature float32
	// MaxTokens caps the response length. Zero means backend default.
	MaxTokens int
}

// Backend is an inference runtime serving vision and reasoning models
// (e.g. a local Ollama daemon or the Gemini API).
type Backend interface {
	// Name returns the backend's identifier (e.g. "ollama", "gemini").
	Name() string

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// List returns the identifiers of installed models.
	List(ctx context.Context) ([]string, error)

	// Generate runs one completion and returns the raw response text.
	Generate(ctx context.Context, req Request) (string, error)

	// Pull installs a model by name. Backends without an install step
	// return ErrNotSupported.
	Pull(ctx context.Context, name string) error
}
