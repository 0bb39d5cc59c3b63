package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nstogner/companion/pkg/domain"
	"github.com/nstogner/companion/pkg/model"
	"github.com/nstogner/companion/pkg/persona"
	"github.com/nstogner/companion/pkg/runtime"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	runtimeTimeout      = 3 * time.Second
)

// --- Health ---

type runtimeStatus struct {
	Container string `json:"container"`
	State     string `json:"state"`
}

type healthResponse struct {
	Status          string         `json:"status"`
	Version         string         `json:"version"`
	Backend         string         `json:"backend"`
	OllamaConnected bool           `json:"ollama_connected"`
	ModelsAvailable []string       `json:"models_available"`
	Runtime         *runtimeStatus `json:"runtime,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	connected := s.gateway.CheckConnectivity(r.Context())
	models := []string{}
	if connected {
		models = s.gateway.ListInstalled(r.Context())
	}

	resp := healthResponse{
		Status:          "healthy",
		Version:         Version,
		Backend:         s.gateway.Backend(),
		OllamaConnected: connected,
		ModelsAvailable: models,
	}
	if !connected {
		resp.Status = "degraded"
	}
	if s.runtime != nil && s.container != "" {
		resp.Runtime = &runtimeStatus{Container: s.container, State: s.runtimeState(r.Context())}
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) runtimeState(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, runtimeTimeout)
	defer cancel()
	state, err := s.runtime.Status(ctx, s.container)
	if err != nil {
		return runtime.StateUnknown
	}
	return state
}

// --- Capture ---

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	obs, image, err := s.decodeAnalyzeRequest(w, r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	fb, err := s.ctrl.Observe(r.Context(), obs, image)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidObservation) {
			s.errorResponse(w, http.StatusBadRequest, err)
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, fb)
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.ctrl.Snapshot())
}

// --- Personas ---

type personaView struct {
	Name        string   `json:"name"`
	Short       string   `json:"short"`
	Icon        string   `json:"icon"`
	Description string   `json:"description"`
	Tone        string   `json:"tone"`
	FocusAreas  []string `json:"focus_areas"`
}

func newPersonaView(p domain.Persona) personaView {
	v := personaView{
		Name:        p.Name,
		Short:       p.Short,
		Icon:        p.Icon,
		Description: p.Description,
		Tone:        p.Tone,
		FocusAreas:  p.FocusAreas,
	}
	if v.Short == "" {
		v.Short = shortName(p.Name)
	}
	if v.Icon == "" {
		v.Icon = persona.DefaultIcon
	}
	if v.FocusAreas == nil {
		v.FocusAreas = []string{}
	}
	return v
}

// shortName is the first six characters of name.
func shortName(name string) string {
	r := []rune(name)
	if len(r) > 6 {
		r = r[:6]
	}
	return string(r)
}

func (s *Server) activePersona() *string {
	if p, ok := s.ctrl.Personas().Active(); ok {
		return &p.Name
	}
	return nil
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	list := s.ctrl.Personas().List()
	views := make([]personaView, 0, len(list))
	for _, p := range list {
		views = append(views, newPersonaView(p))
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"personas": views,
		"active":   s.activePersona(),
	})
}

func (s *Server) handleActivatePersona(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.ctrl.Personas().Activate(name) {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("persona %q not found", name))
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{
		"status":         "success",
		"active_persona": name,
	})
}

func (s *Server) handleReloadPersonas(w http.ResponseWriter, r *http.Request) {
	personas := s.ctrl.Personas()
	personas.Load(s.personas)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":         "success",
		"personas_count": len(personas.List()),
		"active":         s.activePersona(),
		"fallback":       personas.IsFallback(),
	})
}

// --- Todos ---

func (s *Server) handleReloadTodos(w http.ResponseWriter, r *http.Request) {
	todos := s.ctrl.Todos()
	todos.Load(s.todos)
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":      "success",
		"todos_count": len(todos.Items()),
		"todos":       todos.Text(),
	})
}

// --- Models ---

type modelsResponse struct {
	Backend           string                    `json:"backend"`
	CurrentVision     string                    `json:"current_vision"`
	CurrentReasoning  string                    `json:"current_reasoning"`
	AvailableProfiles map[string]domain.Profile `json:"available_profiles"`
	InstalledModels   []string                  `json:"installed_models"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	sel := s.gateway.Selection()
	s.jsonResponse(w, http.StatusOK, modelsResponse{
		Backend:           s.gateway.Backend(),
		CurrentVision:     sel.Vision,
		CurrentReasoning:  sel.Reasoning,
		AvailableProfiles: s.profiles.All(),
		InstalledModels:   s.gateway.ListInstalled(r.Context()),
	})
}

type switchModelRequest struct {
	Profile        string `json:"profile"`
	VisionModel    string `json:"vision_model"`
	ReasoningModel string `json:"reasoning_model"`
}

type switchModelResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	NewVision    string `json:"new_vision"`
	NewReasoning string `json:"new_reasoning"`
}

func (s *Server) handleSwitchModels(w http.ResponseWriter, r *http.Request) {
	var req switchModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err)
		return
	}
	if req.Profile == "" && req.VisionModel == "" && req.ReasoningModel == "" {
		s.errorResponse(w, http.StatusBadRequest,
			errors.New("must specify 'profile' or at least one of 'vision_model'/'reasoning_model'"))
		return
	}

	vision, reasoning := req.VisionModel, req.ReasoningModel
	if req.Profile != "" {
		prof, err := s.profiles.Get(req.Profile)
		if err != nil {
			s.errorResponse(w, http.StatusNotFound, err)
			return
		}
		vision, reasoning = prof.VisionModel, prof.ReasoningModel
	}

	if err := s.gateway.Reload(r.Context(), vision, reasoning); err != nil {
		status := http.StatusNotFound
		if errors.Is(err, model.ErrNothingRequested) {
			status = http.StatusBadRequest
		}
		sel := s.gateway.Selection()
		s.jsonResponse(w, status, switchModelResponse{
			Success:      false,
			Message:      "Failed to switch models: " + err.Error(),
			NewVision:    sel.Vision,
			NewReasoning: sel.Reasoning,
		})
		return
	}

	sel := s.gateway.Selection()
	s.jsonResponse(w, http.StatusOK, switchModelResponse{
		Success:      true,
		Message:      "Models switched successfully",
		NewVision:    sel.Vision,
		NewReasoning: sel.Reasoning,
	})
}

func (s *Server) handlePullModel(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.gateway.Pull(r.Context(), name); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, model.ErrNotSupported) {
			status = http.StatusNotImplemented
		}
		s.errorResponse(w, status, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("Model '%s' pulled successfully", name),
	})
}

// --- History ---

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	if s.history == nil {
		s.jsonResponse(w, http.StatusOK, []domain.FeedbackEvent{})
		return
	}
	events, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, events)
}
