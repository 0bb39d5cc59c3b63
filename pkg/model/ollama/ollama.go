// Package ollama implements model.Backend against the Ollama HTTP API.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nstogner/companion/pkg/model"
	"github.com/tidwall/gjson"
)

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 512

// Backend talks to an Ollama daemon.
type Backend struct {
	baseURL    string
	httpClient *http.Client
}

// Verify interface compliance.
var _ model.Backend = (*Backend)(nil)

// New returns a Backend for the daemon at baseURL (e.g. "http://ollama:11434").
// Per-call deadlines come from the request context.
func New(baseURL string) *Backend {
	return &Backend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Name returns the backend identifier.
func (b *Backend) Name() string { return "ollama" }

// Ping checks that /api/tags answers with 200.
func (b *Backend) Ping(ctx context.Context) error {
	_, err := b.get(ctx, "/api/tags")
	return err
}

// List returns the names of installed models.
func (b *Backend) List(ctx context.Context) ([]string, error) {
	body, err := b.get(ctx, "/api/tags")
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("list models: malformed response")
	}
	var names []string
	for _, n := range gjson.GetBytes(body, "models.#.name").Array() {
		if s := n.String(); s != "" {
			names = append(names, s)
		}
	}
	return names, nil
}

type generateRequest struct {
	Model   string   `json:"model"`
	Prompt  string   `json:"prompt"`
	System  string   `json:"system,omitempty"`
	Images  []string `json:"images,omitempty"`
	Stream  bool     `json:"stream"`
	Options options  `json:"options"`
}

type options struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// Generate calls /api/generate without streaming.
func (b *Backend) Generate(ctx context.Context, req model.Request) (string, error) {
	payload := generateRequest{
		Model:  req.Model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		Options: options{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	}
	for _, img := range req.Images {
		payload.Images = append(payload.Images, base64.StdEncoding.EncodeToString(img))
	}

	body, err := b.post(ctx, "/api/generate", payload)
	if err != nil {
		return "", err
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("generate: malformed response")
	}
	if e := gjson.GetBytes(body, "error"); e.Exists() {
		return "", fmt.Errorf("generate: %s", e.String())
	}
	return gjson.GetBytes(body, "response").String(), nil
}

// Pull installs a model via /api/pull and waits for it to finish.
func (b *Backend) Pull(ctx context.Context, name string) error {
	body, err := b.post(ctx, "/api/pull", map[string]any{"name": name, "stream": false})
	if err != nil {
		return err
	}
	if e := gjson.GetBytes(body, "error"); e.Exists() {
		return fmt.Errorf("pull: %s", e.String())
	}
	return nil
}

func (b *Backend) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return b.do(req)
}

func (b *Backend) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req)
}

func (b *Backend) do(req *http.Request) ([]byte, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("%s %s: status=%d body=%s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}
