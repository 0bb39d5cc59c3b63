// Package model talks to the inference runtime that hosts the vision and
// reasoning models.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nstogner/companion/pkg/domain"
	"github.com/nstogner/companion/pkg/prompt"
)

var (
	// ErrNothingRequested is returned by Reload when neither model is given.
	ErrNothingRequested = errors.New("no model requested")
	// ErrNotInstalled is returned by Reload when a requested model is not
	// installed on the backend.
	ErrNotInstalled = errors.New("model not installed")
)

const (
	pingTimeout = 5 * time.Second
	listTimeout = 10 * time.Second
	pullTimeout = 10 * time.Minute
)

// Generation settings per model role.
const (
	visionTemperature    = 0.1
	reasoningTemperature = 0.7
	maxResponseTokens    = 100
)

// Gateway fronts a Backend for the controller. Every backend failure is
// logged and turned into an absent result; callers never see transport
// errors from inference calls.
//
// One Gateway is created per process and shared by all requests.
type Gateway struct {
	backend   Backend
	timeout   time.Duration
	selection atomic.Pointer[domain.Selection]
}

// NewGateway returns a Gateway using sel as the initial model selection.
// timeout bounds each generation call.
func NewGateway(backend Backend, sel domain.Selection, timeout time.Duration) *Gateway {
	g := &Gateway{backend: backend, timeout: timeout}
	g.selection.Store(&sel)
	return g
}

// Backend returns the backend name.
func (g *Gateway) Backend() string { return g.backend.Name() }

// Selection returns a consistent snapshot of the current models.
func (g *Gateway) Selection() domain.Selection {
	return *g.selection.Load()
}

// CheckConnectivity reports whether the backend is reachable.
func (g *Gateway) CheckConnectivity(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := g.backend.Ping(ctx); err != nil {
		slog.Error("Inference backend connection check failed", "backend", g.backend.Name(), "error", err)
		return false
	}
	return true
}

// ListInstalled returns the installed model identifiers, or an empty slice
// when the backend cannot be queried.
func (g *Gateway) ListInstalled(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()
	models, err := g.backend.List(ctx)
	if err != nil {
		slog.Error("Failed to list models", "backend", g.backend.Name(), "error", err)
		return []string{}
	}
	if models == nil {
		models = []string{}
	}
	return models
}

// AnalyzeImage describes image with the vision model. ok is false on any
// failure.
func (g *Gateway) AnalyzeImage(ctx context.Context, image []byte, hint string) (summary string, ok bool) {
	sel := g.Selection()
	text, err := g.generate(ctx, Request{
		Model:       sel.Vision,
		Prompt:      prompt.Vision(hint),
		Images:      [][]byte{image},
		Temperature: visionTemperature,
		MaxTokens:   maxResponseTokens,
	})
	if err != nil {
		slog.Error("Image analysis failed", "model", sel.Vision, "error", err)
		return "", false
	}
	slog.Info("Vision analysis complete", "model", sel.Vision, "summary", text)
	return text, true
}

// GenerateFeedback asks the reasoning model for feedback. ok is false on any
// failure, including an empty response.
func (g *Gateway) GenerateFeedback(ctx context.Context, in prompt.FeedbackInput) (feedback string, ok bool) {
	sel := g.Selection()
	p := prompt.Feedback(in)

	slog.Info("Generating feedback", "model", sel.Reasoning)
	text, err := g.generate(ctx, Request{
		Model:       sel.Reasoning,
		System:      p.System,
		Prompt:      p.User,
		Temperature: reasoningTemperature,
		MaxTokens:   maxResponseTokens,
	})
	if err != nil {
		slog.Error("Feedback generation failed", "model", sel.Reasoning, "error", err)
		return "", false
	}
	if text == "" {
		slog.Warn("Feedback generation returned an empty response", "model", sel.Reasoning)
		return "", false
	}
	slog.Info("Feedback generated", "model", sel.Reasoning, "feedback", text)
	return text, true
}

func (g *Gateway) generate(ctx context.Context, req Request) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	text, err := g.backend.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Reload switches to new models without a restart. Empty arguments keep the
// current model for that role. Every requested model must be installed;
// otherwise nothing changes and an error wrapping ErrNotInstalled is returned.
func (g *Gateway) Reload(ctx context.Context, vision, reasoning string) error {
	vision, reasoning = strings.TrimSpace(vision), strings.TrimSpace(reasoning)
	if vision == "" && reasoning == "" {
		return ErrNothingRequested
	}

	installed := g.ListInstalled(ctx)
	for _, m := range []string{vision, reasoning} {
		if m != "" && !IsInstalled(m, installed) {
			slog.Warn("Rejected model reload", "model", m, "installed", installed)
			return fmt.Errorf("%w: %s", ErrNotInstalled, m)
		}
	}

	// Build the new snapshot from the one we replace so a concurrent Reload
	// for the other role is not lost.
	for {
		cur := g.selection.Load()
		next := *cur
		if vision != "" {
			next.Vision = vision
		}
		if reasoning != "" {
			next.Reasoning = reasoning
		}
		if g.selection.CompareAndSwap(cur, &next) {
			slog.Info("Switched models", "vision", next.Vision, "reasoning", next.Reasoning)
			return nil
		}
	}
}

// Pull asks the backend to install a model.
func (g *Gateway) Pull(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, pullTimeout)
	defer cancel()
	slog.Info("Pulling model", "model", name, "backend", g.backend.Name())
	if err := g.backend.Pull(ctx, name); err != nil {
		return fmt.Errorf("pull %s: %w", name, err)
	}
	return nil
}
