package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/nstogner/companion/pkg/model"
)

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"models":[{"name":"llama3:latest","size":1},{"name":"moondream:latest"}]}`))
	}))
	defer srv.Close()

	b := New(srv.URL + "/")
	names, err := b.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 || names[0] != "llama3:latest" || names[1] != "moondream:latest" {
		t.Errorf("List = %v", names)
	}
	if err := b.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestListMalformed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models": [`))
	}))
	defer srv.Close()

	if _, err := New(srv.URL).List(context.Background()); err == nil {
		t.Error("List accepted a truncated body")
	}
}

func TestGenerate(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" || r.Method != http.MethodPost {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"model":"llava","response":"A code editor.","done":true}`))
	}))
	defer srv.Close()

	text, err := New(srv.URL).Generate(context.Background(), model.Request{
		Model:       "llava",
		System:      "sys",
		Prompt:      "describe",
		Images:      [][]byte{[]byte("raw-png")},
		Temperature: 0.1,
		MaxTokens:   100,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "A code editor." {
		t.Errorf("text = %q", text)
	}
	if got.Stream {
		t.Error("stream = true, want false")
	}
	if got.Options.NumPredict != 100 || got.Options.Temperature != 0.1 {
		t.Errorf("options = %+v", got.Options)
	}
	if len(got.Images) != 1 || got.Images[0] != base64.StdEncoding.EncodeToString([]byte("raw-png")) {
		t.Errorf("images = %v", got.Images)
	}
	if got.System != "sys" {
		t.Errorf("system = %q", got.System)
	}
}

func TestGenerateFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}},
		{"malformed", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>"))
		}},
		{"error field", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":"out of memory"}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			if _, err := New(srv.URL).Generate(context.Background(), model.Request{Model: "x"}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGenerateTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := New(srv.URL).Generate(ctx, model.Request{Model: "x"}); err == nil {
		t.Error("expected timeout error")
	}
}

func TestPull(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "llava" {
			t.Errorf("name = %v", body["name"])
		}
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	if err := New(srv.URL).Pull(context.Background(), "llava"); err != nil {
		t.Errorf("Pull: %v", err)
	}
}

// TestIntegrationOllama runs against a real daemon when OLLAMA_HOST is set.
func TestIntegrationOllama(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		t.Skip("Skipping: OLLAMA_HOST not set")
	}
	if !strings.HasPrefix(host, "http") {
		host = "http://" + host
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	b := New(host)
	if err := b.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := b.List(ctx); err != nil {
		t.Fatalf("List: %v", err)
	}
}
