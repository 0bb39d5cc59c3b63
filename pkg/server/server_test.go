package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nstogner/companion/pkg/controller"
	"github.com/nstogner/companion/pkg/domain"
	"github.com/nstogner/companion/pkg/model"
	"github.com/nstogner/companion/pkg/persona"
	"github.com/nstogner/companion/pkg/store/sqlite"
	"github.com/nstogner/companion/pkg/todo"
)

const testKey = "test-key"

type fakeBackend struct {
	mu        sync.Mutex
	installed []string
	down      bool
	pullErr   error
	images    int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) isDown() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.down
}

func (f *fakeBackend) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeBackend) setPullErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullErr = err
}

func (f *fakeBackend) imageCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.images
}

func (f *fakeBackend) Ping(ctx context.Context) error {
	if f.isDown() {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeBackend) List(ctx context.Context) ([]string, error) {
	if f.isDown() {
		return nil, errors.New("connection refused")
	}
	return f.installed, nil
}

func (f *fakeBackend) Generate(ctx context.Context, req model.Request) (string, error) {
	if f.isDown() {
		return "", errors.New("connection refused")
	}
	if len(req.Images) > 0 {
		f.mu.Lock()
		f.images++
		f.mu.Unlock()
		return "A terminal with test output", nil
	}
	return "Stay focused on the tests.", nil
}

func (f *fakeBackend) Pull(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pullErr
}

type fakeMonitor struct {
	state string
	err   error
}

func (f *fakeMonitor) Status(ctx context.Context, name string) (string, error) { return f.state, f.err }

func (f *fakeMonitor) Close() error { return nil }

type testEnv struct {
	srv      *httptest.Server
	backend  *fakeBackend
	gateway  *model.Gateway
	dir      string
	personas string
	todos    string
	profiles string
}

func newTestEnv(t *testing.T, threshold int, mutate func(*Options)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		backend:  &fakeBackend{installed: []string{"moondream:latest", "llama3:latest", "llava:13b"}},
		dir:      dir,
		personas: filepath.Join(dir, "personas.json"),
		todos:    filepath.Join(dir, "todo.txt"),
		profiles: filepath.Join(dir, "model_profiles.json"),
	}
	writeFile(t, env.personas, `{"default":"Coach","personas":[
		{"name":"Coach","description":"Motivating","prompt_template":"You are a coach."},
		{"name":"Sage","description":"Calm","prompt_template":"You are a sage.","icon":"S"}]}`)
	writeFile(t, env.todos, "(A) Ship release\nx Done task\n")

	env.gateway = model.NewGateway(env.backend, domain.Selection{Vision: "moondream", Reasoning: "llama3"}, time.Minute)

	history, err := sqlite.New(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}

	personas := persona.NewStore()
	personas.Load(env.personas)
	todos := todo.NewStore()
	todos.Load(env.todos)

	ctrl := controller.New(controller.Options{
		WindowSize: 10,
		Threshold:  threshold,
		Personas:   personas,
		Todos:      todos,
		Inference:  env.gateway,
		History:    history,
	})

	profiles := model.NewProfiles()
	profiles.Load(env.profiles)

	opts := Options{
		APIKey:       testKey,
		Controller:   ctrl,
		Gateway:      env.gateway,
		Profiles:     profiles,
		History:      history,
		PersonasFile: env.personas,
		TodoFile:     env.todos,
	}
	if mutate != nil {
		mutate(&opts)
	}
	env.srv = httptest.NewServer(New(opts).Handler())
	t.Cleanup(func() {
		env.srv.Close()
		history.Close()
	})
	return env
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(apiKeyHeader, testKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) postJSON(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return e.do(t, http.MethodPost, path, bytes.NewReader(data), "application/json")
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want %d (body: %s)", resp.StatusCode, want, body)
	}
}

func metadataJSON(title, status string) map[string]any {
	return map[string]any{
		"window_title":      title,
		"class_name":        "kitty",
		"media_status":      "playing",
		"microphone_status": "muted",
		"user_status":       status,
		"timestamp":         "2025-01-01T10:00:00Z",
	}
}

func multipartBody(t *testing.T, metadata string, image []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("metadata", metadata); err != nil {
		t.Fatal(err)
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "screenshot.png")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(image)
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 5, nil)

	// No API key required.
	resp, err := http.Get(env.srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)

	got := decode[healthResponse](t, resp)
	if got.Status != "healthy" || !got.OllamaConnected {
		t.Errorf("health = %+v", got)
	}
	if len(got.ModelsAvailable) != 3 {
		t.Errorf("ModelsAvailable = %v", got.ModelsAvailable)
	}
	if got.Version != Version || got.Runtime != nil {
		t.Errorf("health = %+v", got)
	}
}

func TestHealthDegraded(t *testing.T) {
	env := newTestEnv(t, 5, func(o *Options) {
		o.Runtime = &fakeMonitor{err: errors.New("docker unavailable")}
		o.RuntimeContainer = "ollama"
	})
	env.backend.setDown(true)

	resp := env.do(t, http.MethodGet, "/api/v1/health", nil, "")
	expectStatus(t, resp, http.StatusOK)
	got := decode[healthResponse](t, resp)
	if got.Status != "degraded" || got.OllamaConnected {
		t.Errorf("health = %+v", got)
	}
	if got.ModelsAvailable == nil || len(got.ModelsAvailable) != 0 {
		t.Errorf("ModelsAvailable = %#v, want empty", got.ModelsAvailable)
	}
	if got.Runtime == nil || got.Runtime.State != "unknown" || got.Runtime.Container != "ollama" {
		t.Errorf("Runtime = %+v", got.Runtime)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, 5, nil)

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"missing", "", "missing API key"},
		{"wrong", "nope", "invalid API key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/v1/context", nil)
			if tt.key != "" {
				req.Header.Set(apiKeyHeader, tt.key)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			expectStatus(t, resp, http.StatusUnauthorized)
			if resp.Header.Get("WWW-Authenticate") != "API-Key" {
				t.Errorf("WWW-Authenticate = %q", resp.Header.Get("WWW-Authenticate"))
			}
			body := decode[map[string]string](t, resp)
			if body["error"] != tt.want {
				t.Errorf("error = %q, want %q", body["error"], tt.want)
			}
		})
	}
}

func TestAnalyzeMultipart(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	meta, _ := json.Marshal(metadataJSON("tests - kitty", "active"))

	body, ct := multipartBody(t, string(meta), []byte("\x89PNG fake image"))
	resp := env.do(t, http.MethodPost, "/api/v1/analyze", body, ct)
	expectStatus(t, resp, http.StatusOK)
	first := decode[domain.Feedback](t, resp)
	if first.Feedback != "" || !first.SuppressNotification || first.CaptureCount != 1 {
		t.Errorf("first = %+v", first)
	}
	if !strings.Contains(first.ContextSummary, "A terminal with test output") {
		t.Errorf("ContextSummary = %q", first.ContextSummary)
	}
	if n := env.backend.imageCalls(); n != 1 {
		t.Errorf("vision calls = %d, want 1", n)
	}

	body, ct = multipartBody(t, string(meta), nil)
	resp = env.do(t, http.MethodPost, "/api/v1/analyze", body, ct)
	expectStatus(t, resp, http.StatusOK)
	second := decode[domain.Feedback](t, resp)
	if second.Feedback != "Stay focused on the tests." || second.SuppressNotification {
		t.Errorf("second = %+v", second)
	}
	if second.PersonaUsed != "Coach" || second.CaptureCount != 0 {
		t.Errorf("second = %+v", second)
	}
	if !strings.Contains(second.ContextSummary, "User is in: tests - kitty") {
		t.Errorf("ContextSummary = %q", second.ContextSummary)
	}
}

func TestAnalyzeJSON(t *testing.T) {
	env := newTestEnv(t, 5, nil)

	encoded, _ := json.Marshal(metadataJSON("editor", ""))
	requests := []map[string]any{
		{"metadata": metadataJSON("editor", "")},
		{"metadata": string(encoded), "image_base64": base64.StdEncoding.EncodeToString([]byte("png"))},
	}
	for i, body := range requests {
		resp := env.postJSON(t, "/api/v1/analyze", body)
		expectStatus(t, resp, http.StatusOK)
		fb := decode[domain.Feedback](t, resp)
		if fb.UserStatus != domain.UserActive || fb.CaptureCount != i+1 {
			t.Errorf("request %d: %+v", i, fb)
		}
	}
	if n := env.backend.imageCalls(); n != 1 {
		t.Errorf("vision calls = %d, want 1", n)
	}
}

func TestAnalyzeMeeting(t *testing.T) {
	env := newTestEnv(t, 5, nil)
	resp := env.postJSON(t, "/api/v1/analyze", map[string]any{"metadata": metadataJSON("Zoom", "in_meeting")})
	expectStatus(t, resp, http.StatusOK)
	fb := decode[domain.Feedback](t, resp)
	if fb.Feedback != controller.MeetingSuppressed || !fb.SuppressNotification || fb.CaptureCount != 1 {
		t.Errorf("feedback = %+v", fb)
	}
}

func TestAnalyzeInvalid(t *testing.T) {
	env := newTestEnv(t, 5, nil)

	noTitle := metadataJSON("x", "active")
	delete(noTitle, "window_title")
	badStatus := metadataJSON("x", "sleeping")

	tests := []struct {
		name string
		body io.Reader
		ct   string
	}{
		{"malformed json", strings.NewReader("{"), "application/json"},
		{"missing metadata", strings.NewReader(`{"image_base64":""}`), "application/json"},
		{"missing window title", jsonReader(t, map[string]any{"metadata": noTitle}), "application/json"},
		{"unknown user status", jsonReader(t, map[string]any{"metadata": badStatus}), "application/json"},
		{"bad base64", jsonReader(t, map[string]any{"metadata": metadataJSON("x", ""), "image_base64": "%%%"}), "application/json"},
		{"unsupported type", strings.NewReader("hello"), "text/plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/v1/analyze", tt.body, tt.ct)
			expectStatus(t, resp, http.StatusBadRequest)
		})
	}

	t.Run("multipart without metadata", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		mw.WriteField("other", "x")
		mw.Close()
		resp := env.do(t, http.MethodPost, "/api/v1/analyze", &buf, mw.FormDataContentType())
		expectStatus(t, resp, http.StatusBadRequest)
	})

	// Rejected requests leave no trace in the context window.
	resp := env.do(t, http.MethodGet, "/api/v1/context", nil, "")
	expectStatus(t, resp, http.StatusOK)
	snap := decode[controller.Snapshot](t, resp)
	if snap.CaptureCount != 0 || len(snap.Entries) != 0 {
		t.Errorf("context = %+v", snap)
	}
}

func jsonReader(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(data)
}

func TestContext(t *testing.T) {
	env := newTestEnv(t, 5, nil)
	env.postJSON(t, "/api/v1/analyze", map[string]any{"metadata": metadataJSON("editor", "active")})

	resp := env.do(t, http.MethodGet, "/api/v1/context", nil, "")
	expectStatus(t, resp, http.StatusOK)
	snap := decode[controller.Snapshot](t, resp)
	if len(snap.Entries) != 1 || snap.CaptureCount != 1 || snap.Remaining != 4 || snap.Threshold != 5 {
		t.Errorf("context = %+v", snap)
	}
	if snap.Todos != "- (A) Ship release" || snap.CurrentPersona != "Coach" {
		t.Errorf("todos=%q persona=%q", snap.Todos, snap.CurrentPersona)
	}
}

type personasResponse struct {
	Personas []personaView `json:"personas"`
	Active   *string       `json:"active"`
}

func TestPersonas(t *testing.T) {
	env := newTestEnv(t, 5, nil)

	resp := env.do(t, http.MethodGet, "/api/v1/personas", nil, "")
	expectStatus(t, resp, http.StatusOK)
	list := decode[personasResponse](t, resp)
	if len(list.Personas) != 2 || list.Active == nil || *list.Active != "Coach" {
		t.Fatalf("personas = %+v", list)
	}
	if list.Personas[0].Short != "Coach" || list.Personas[0].Icon != persona.DefaultIcon || list.Personas[1].Icon != "S" {
		t.Errorf("views = %+v", list.Personas)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/personas/Sage/activate", nil, "")
	expectStatus(t, resp, http.StatusOK)

	resp = env.do(t, http.MethodPost, "/api/v1/personas/Nobody/activate", nil, "")
	expectStatus(t, resp, http.StatusNotFound)

	resp = env.postJSON(t, "/api/v1/analyze", map[string]any{"metadata": metadataJSON("editor", "")})
	if fb := decode[domain.Feedback](t, resp); fb.PersonaUsed != "Sage" {
		t.Errorf("PersonaUsed = %q, want Sage", fb.PersonaUsed)
	}
}

func TestReloadPersonas(t *testing.T) {
	env := newTestEnv(t, 5, nil)
	env.do(t, http.MethodPost, "/api/v1/personas/Sage/activate", nil, "")

	writeFile(t, env.personas, `{"default":"Coach","personas":[
		{"name":"Coach","description":"d","prompt_template":"p"},
		{"name":"Sage","description":"d","prompt_template":"p"},
		{"name":"Critic","description":"d","prompt_template":"p"}]}`)
	resp := env.do(t, http.MethodPost, "/api/v1/personas/reload", nil, "")
	expectStatus(t, resp, http.StatusOK)
	got := decode[map[string]any](t, resp)
	if got["personas_count"] != float64(3) || got["active"] != "Sage" || got["fallback"] != false {
		t.Errorf("reload = %v", got)
	}

	os.Remove(env.personas)
	resp = env.do(t, http.MethodPost, "/api/v1/personas/reload", nil, "")
	got = decode[map[string]any](t, resp)
	if got["fallback"] != true || got["active"] != persona.Builtin.Name {
		t.Errorf("reload without file = %v", got)
	}
}

func TestReloadTodos(t *testing.T) {
	env := newTestEnv(t, 5, nil)
	writeFile(t, env.todos, "(B) Write docs\nReview PR\n")

	resp := env.do(t, http.MethodPost, "/api/v1/todos/reload", nil, "")
	expectStatus(t, resp, http.StatusOK)
	got := decode[map[string]any](t, resp)
	if got["todos_count"] != float64(2) || got["todos"] != "- (B) Write docs\n- Review PR" {
		t.Errorf("reload = %v", got)
	}
}

func TestModels(t *testing.T) {
	env := newTestEnv(t, 5, nil)
	resp := env.do(t, http.MethodGet, "/api/v1/models", nil, "")
	expectStatus(t, resp, http.StatusOK)
	got := decode[modelsResponse](t, resp)
	if got.CurrentVision != "moondream" || got.CurrentReasoning != "llama3" {
		t.Errorf("models = %+v", got)
	}
	if len(got.InstalledModels) != 3 || got.AvailableProfiles == nil {
		t.Errorf("models = %+v", got)
	}
}

func TestSwitchModels(t *testing.T) {
	env := newTestEnv(t, 5, nil)

	t.Run("empty request", func(t *testing.T) {
		resp := env.postJSON(t, "/api/v1/models/switch", map[string]string{})
		expectStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("profiles missing", func(t *testing.T) {
		resp := env.postJSON(t, "/api/v1/models/switch", map[string]string{"profile": "fast"})
		expectStatus(t, resp, http.StatusNotFound)
	})

	t.Run("not installed", func(t *testing.T) {
		resp := env.postJSON(t, "/api/v1/models/switch", map[string]string{"vision_model": "llava:7b"})
		expectStatus(t, resp, http.StatusNotFound)
		got := decode[switchModelResponse](t, resp)
		if got.Success || got.NewVision != "moondream" {
			t.Errorf("switch = %+v", got)
		}
	})

	t.Run("installed", func(t *testing.T) {
		resp := env.postJSON(t, "/api/v1/models/switch", map[string]string{"vision_model": "llava:13b"})
		expectStatus(t, resp, http.StatusOK)
		got := decode[switchModelResponse](t, resp)
		if !got.Success || got.NewVision != "llava:13b" || got.NewReasoning != "llama3" {
			t.Errorf("switch = %+v", got)
		}
		if sel := env.gateway.Selection(); sel.Vision != "llava:13b" {
			t.Errorf("Selection = %+v", sel)
		}
	})
}

func TestSwitchModelsByProfile(t *testing.T) {
	env := newTestEnv(t, 5, func(o *Options) {
		profiles := model.NewProfiles()
		path := filepath.Join(t.TempDir(), "profiles.json")
		writeFile(t, path, `{"profiles":{
			"fast":{"vision_model":"moondream","reasoning_model":"llama3"},
			"big":{"vision_model":"llava:34b","reasoning_model":"llama3:70b"}}}`)
		profiles.Load(path)
		o.Profiles = profiles
	})

	resp := env.postJSON(t, "/api/v1/models/switch", map[string]string{"profile": "missing"})
	expectStatus(t, resp, http.StatusNotFound)

	resp = env.postJSON(t, "/api/v1/models/switch", map[string]string{"profile": "big"})
	expectStatus(t, resp, http.StatusNotFound)

	resp = env.postJSON(t, "/api/v1/models/switch", map[string]string{"profile": "fast"})
	expectStatus(t, resp, http.StatusOK)
	got := decode[switchModelResponse](t, resp)
	if got.NewVision != "moondream" || got.NewReasoning != "llama3" {
		t.Errorf("switch = %+v", got)
	}
}

func TestPullModel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"unsupported", model.ErrNotSupported, http.StatusNotImplemented},
		{"transport", errors.New("connection reset"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, 5, nil)
			env.backend.setPullErr(tt.err)
			resp := env.do(t, http.MethodPost, "/api/v1/models/pull/llava:7b", nil, "")
			expectStatus(t, resp, tt.want)
		})
	}
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	for _, title := range []string{"one", "two", "three"} {
		resp := env.postJSON(t, "/api/v1/analyze", map[string]any{"metadata": metadataJSON(title, "")})
		expectStatus(t, resp, http.StatusOK)
	}

	resp := env.do(t, http.MethodGet, "/api/v1/history?limit=2", nil, "")
	expectStatus(t, resp, http.StatusOK)
	events := decode[[]domain.FeedbackEvent](t, resp)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].WindowTitle != "three" || events[1].WindowTitle != "two" {
		t.Errorf("order = %q, %q", events[0].WindowTitle, events[1].WindowTitle)
	}
	if events[1].Suppressed || events[1].Feedback == "" {
		t.Errorf("triggered event = %+v", events[1])
	}

	resp = env.do(t, http.MethodGet, "/api/v1/history?limit=abc", nil, "")
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestFeedbackStream(t *testing.T) {
	env := newTestEnv(t, 1, nil)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/v1/feedback/stream"
	header := http.Header{}
	header.Set(apiKeyHeader, testKey)
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	// The subscription is registered after the upgrade; give the handler a
	// moment before producing an event.
	time.Sleep(100 * time.Millisecond)
	resp := env.postJSON(t, "/api/v1/analyze", map[string]any{"metadata": metadataJSON("stream", "")})
	expectStatus(t, resp, http.StatusOK)

	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev domain.FeedbackEvent
	if err := ws.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.WindowTitle != "stream" || ev.Feedback != "Stay focused on the tests." || ev.Persona != "Coach" {
		t.Errorf("event = %+v", ev)
	}
}

func TestFeedbackStreamRequiresKey(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/v1/feedback/stream"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial to fail without API key")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("resp = %v", resp)
	}
}
