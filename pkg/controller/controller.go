package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nstogner/companion/pkg/contextwin"
	"github.com/nstogner/companion/pkg/domain"
	"github.com/nstogner/companion/pkg/gate"
	"github.com/nstogner/companion/pkg/model"
	"github.com/nstogner/companion/pkg/persona"
	"github.com/nstogner/companion/pkg/prompt"
	"github.com/nstogner/companion/pkg/store"
	"github.com/nstogner/companion/pkg/todo"
)

const (
	// MeetingSuppressed is returned instead of feedback while the user is in a meeting.
	MeetingSuppressed = "[Notification suppressed - user in meeting]"

	// FallbackFeedback is returned when the reasoning model produces nothing.
	FallbackFeedback = "Keep up the good work!"

	visionFailed = "Could not analyze image: vision model returned no result"
)

// Inference is the subset of the model gateway the controller drives.
type Inference interface {
	AnalyzeImage(ctx context.Context, image []byte, hint string) (string, bool)
	GenerateFeedback(ctx context.Context, in prompt.FeedbackInput) (string, bool)
}

var _ Inference = (*model.Gateway)(nil)

// Controller turns observations into feedback. There is one Controller per
// process; it owns the context window and the feedback gate.
type Controller struct {
	// mu guards window and gate together so append, gate check and reset
	// happen as one step relative to other observations.
	mu     sync.Mutex
	window *contextwin.Window
	gate   *gate.Gate

	personas  *persona.Store
	todos     *todo.Store
	inference Inference
	history   store.HistoryStore

	now func() time.Time
}

// Options configures a Controller.
type Options struct {
	WindowSize int
	Threshold  int
	Personas   *persona.Store
	Todos      *todo.Store
	Inference  Inference
	// History is optional. When nil, events are not persisted.
	History store.HistoryStore
}

// New creates a new Controller.
func New(opts Options) *Controller {
	personas := opts.Personas
	if personas == nil {
		personas = persona.NewStore()
	}
	todos := opts.Todos
	if todos == nil {
		todos = todo.NewStore()
	}
	return &Controller{
		window:    contextwin.New(opts.WindowSize),
		gate:      gate.New(opts.Threshold),
		personas:  personas,
		todos:     todos,
		inference: opts.Inference,
		history:   opts.History,
		now:       time.Now,
	}
}

// Snapshot is a consistent read of the controller's shared state.
type Snapshot struct {
	Entries        []domain.ContextEntry `json:"entries"`
	CaptureCount   int                   `json:"capture_count"`
	Threshold      int                   `json:"captures_before_feedback"`
	Remaining      int                   `json:"captures_remaining"`
	Summary        string                `json:"summary"`
	Todos          string                `json:"todos"`
	CurrentPersona string                `json:"current_persona"`
}

// Snapshot returns the current window contents and gate state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		Entries:      c.window.Entries(),
		CaptureCount: c.gate.Count(),
		Threshold:    c.gate.Threshold(),
		Remaining:    c.gate.Remaining(),
		Summary:      c.window.Summary(),
	}
	c.mu.Unlock()

	snap.Todos = c.todos.Text()
	snap.CurrentPersona = c.personas.ActiveName()
	return snap
}

// Personas returns the persona store used to build prompts.
func (c *Controller) Personas() *persona.Store { return c.personas }

// Todos returns the todo store used to build prompts.
func (c *Controller) Todos() *todo.Store { return c.todos }

type decision int

const (
	accumulate decision = iota
	suppress
	trigger
)

// Observe processes one observation and its optional screenshot. The only
// error is an invalid observation; inference failures are replaced by
// fallback text.
//
// Once accepted, an observation is processed to completion even if ctx is
// cancelled, so the window and gate never see a half-finished step.
func (c *Controller) Observe(ctx context.Context, obs domain.Observation, image []byte) (*domain.Feedback, error) {
	obs.Normalize(c.now())
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	obs.VisionSummary = c.describe(ctx, obs, image)

	entry := domain.ContextEntry{
		Timestamp:     obs.Timestamp,
		WindowTitle:   obs.WindowTitle,
		ClassName:     obs.ClassName,
		MediaStatus:   obs.MediaStatus,
		UserStatus:    obs.UserStatus,
		VisionSummary: obs.VisionSummary,
	}

	c.mu.Lock()
	c.window.Append(entry)
	c.gate.Record()
	summary := c.window.Summary()
	var d decision
	switch {
	case obs.UserStatus == domain.UserInMeeting:
		d = suppress
	case c.gate.ShouldEmit():
		d = trigger
		c.gate.Reset()
	default:
		d = accumulate
	}
	count := c.gate.Count()
	c.mu.Unlock()

	var text string
	switch d {
	case suppress:
		slog.Info("Feedback suppressed, user in meeting", "captureCount", count)
		text = MeetingSuppressed
	case accumulate:
		slog.Debug("Accumulating context", "captureCount", count)
	case trigger:
		text = c.feedback(ctx, obs, summary)
	}

	fb := &domain.Feedback{
		Feedback:             text,
		PersonaUsed:          c.personas.ActiveName(),
		ContextSummary:       summary,
		UserStatus:           obs.UserStatus,
		SuppressNotification: text == "" || d == suppress,
		CaptureCount:         count,
		Timestamp:            c.now().UTC(),
	}

	c.record(ctx, obs, fb)
	return fb, nil
}

func (c *Controller) describe(ctx context.Context, obs domain.Observation, image []byte) string {
	if len(image) == 0 {
		return "User is in: " + obs.WindowTitle
	}
	if c.inference == nil {
		return visionFailed
	}
	summary, ok := c.inference.AnalyzeImage(ctx, image, prompt.VisionHint(obs))
	if !ok {
		return visionFailed
	}
	return summary
}

func (c *Controller) feedback(ctx context.Context, obs domain.Observation, summary string) string {
	if c.inference == nil {
		return FallbackFeedback
	}
	text, ok := c.inference.GenerateFeedback(ctx, prompt.FeedbackInput{
		PersonaTemplate: c.personas.ActivePromptTemplate(),
		AppName:         obs.AppName(),
		VisionSummary:   obs.VisionSummary,
		UserStatus:      obs.UserStatus,
		TodoText:        c.todos.Text(),
		ContextSummary:  summary,
	})
	if !ok {
		return FallbackFeedback
	}
	return text
}

func (c *Controller) record(ctx context.Context, obs domain.Observation, fb *domain.Feedback) {
	if c.history == nil {
		return
	}
	ev := &domain.FeedbackEvent{
		ID:            uuid.New().String(),
		Timestamp:     fb.Timestamp,
		WindowTitle:   obs.WindowTitle,
		ClassName:     obs.ClassName,
		MediaStatus:   obs.MediaStatus,
		Microphone:    obs.MicrophoneStatus,
		UserStatus:    obs.UserStatus,
		VisionSummary: obs.VisionSummary,
		Feedback:      fb.Feedback,
		Persona:       fb.PersonaUsed,
		Suppressed:    fb.SuppressNotification,
		CaptureCount:  fb.CaptureCount,
	}
	if err := c.history.Record(ctx, ev); err != nil {
		slog.Error("Failed to record feedback event", "id", ev.ID, "error", err)
	}
}
