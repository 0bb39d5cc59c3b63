// Package gemini implements model.Backend using the Google Gen AI SDK, for
// hosts without a local inference runtime.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nstogner/companion/pkg/model"
	"google.golang.org/genai"
)

// Backend implements model.Backend against the Gemini API.
type Backend struct {
	client *genai.Client
}

// Verify interface compliance.
var _ model.Backend = (*Backend)(nil)

// New creates a new Gemini backend.
func New(ctx context.Context, apiKey string) (*Backend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Backend{client: client}, nil
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return "gemini" }

// Ping fetches the first model listing entry.
func (b *Backend) Ping(ctx context.Context) error {
	for _, err := range b.client.Models.All(ctx) {
		return err
	}
	return nil
}

// List returns models that support generateContent, without the "models/" prefix.
func (b *Backend) List(ctx context.Context) ([]string, error) {
	var names []string
	for m, err := range b.client.Models.All(ctx) {
		if err != nil {
			return nil, err
		}
		if supportsGenerate(m) {
			names = append(names, strings.TrimPrefix(m.Name, "models/"))
		}
	}
	return names, nil
}

func supportsGenerate(m *genai.Model) bool {
	for _, action := range m.SupportedActions {
		if action == "generateContent" {
			return true
		}
	}
	return false
}

// Generate sends the prompt and any images as a single user turn.
func (b *Backend) Generate(ctx context.Context, req model.Request) (string, error) {
	slog.Debug("Gemini.Generate", "model", req.Model, "images", len(req.Images))

	parts := []*genai.Part{{Text: req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: http.DetectContentType(img),
				Data:     img,
			},
		})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	resp, err := b.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Pull is not available for hosted models.
func (b *Backend) Pull(ctx context.Context, name string) error {
	return model.ErrNotSupported
}
