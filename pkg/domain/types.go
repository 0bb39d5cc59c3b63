package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidObservation marks a capture payload that could not be accepted.
var ErrInvalidObservation = errors.New("invalid observation")

// Observation is one capture event submitted by the desktop agent.
type Observation struct {
	WindowTitle      string           `json:"window_title"`
	ClassName        string           `json:"class_name"`
	MediaStatus      MediaStatus      `json:"media_status"`
	MediaInfo        string           `json:"media_info,omitempty"`
	MicrophoneStatus MicrophoneStatus `json:"microphone_status"`
	UserStatus       UserStatus       `json:"user_status"`
	Timestamp        time.Time        `json:"timestamp"`
	Compositor       string           `json:"compositor,omitempty"`
	// VisionSummary is filled in by the server after image analysis.
	VisionSummary string `json:"vision_summary,omitempty"`
}

// Normalize fills defaults for fields the capture agent left out.
func (o *Observation) Normalize(now time.Time) {
	if o.MediaStatus == "" {
		o.MediaStatus = MediaUnknown
	}
	if o.MicrophoneStatus == "" {
		o.MicrophoneStatus = MicUnknown
	}
	if o.UserStatus == "" {
		o.UserStatus = UserActive
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = now
	}
	o.Timestamp = o.Timestamp.UTC()
}

// Validate checks that a normalized Observation only carries known statuses.
func (o Observation) Validate() error {
	if _, err := ParseUserStatus(string(o.UserStatus)); err != nil {
		return err
	}
	if ParseMediaStatus(string(o.MediaStatus)) != o.MediaStatus {
		return fmt.Errorf("%w: unknown media_status %q", ErrInvalidObservation, o.MediaStatus)
	}
	if ParseMicrophoneStatus(string(o.MicrophoneStatus)) != o.MicrophoneStatus {
		return fmt.Errorf("%w: unknown microphone_status %q", ErrInvalidObservation, o.MicrophoneStatus)
	}
	return nil
}

// AppName is the identity string handed to the reasoning model.
func (o Observation) AppName() string {
	return o.ClassName + " (" + o.WindowTitle + ")"
}

// ContextEntry is an Observation as held by the context window.
// Entries are never modified once appended.
type ContextEntry struct {
	Timestamp     time.Time   `json:"timestamp"`
	WindowTitle   string      `json:"window_title"`
	ClassName     string      `json:"class_name"`
	MediaStatus   MediaStatus `json:"media_status"`
	UserStatus    UserStatus  `json:"user_status"`
	VisionSummary string      `json:"vision_summary,omitempty"`
}

// Persona is a named prompt template that shapes generated feedback.
type Persona struct {
	Name           string   `json:"name"`
	Short          string   `json:"short,omitempty"`
	Icon           string   `json:"icon,omitempty"`
	Description    string   `json:"description"`
	Tone           string   `json:"tone,omitempty"`
	FocusAreas     []string `json:"focus_areas,omitempty"`
	PromptTemplate string   `json:"prompt_template"`
}

// TodoItem is one line of the todo list.
type TodoItem struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	Priority  string `json:"priority,omitempty"`
}

// Feedback is the result of processing one Observation.
type Feedback struct {
	Feedback             string     `json:"feedback"`
	PersonaUsed          string     `json:"persona_used"`
	ContextSummary       string     `json:"context_summary"`
	UserStatus           UserStatus `json:"user_status"`
	SuppressNotification bool       `json:"suppress_notification"`
	CaptureCount         int        `json:"capture_count"`
	Timestamp            time.Time  `json:"timestamp"`
}

// FeedbackEvent is the persisted record of one orchestration step.
type FeedbackEvent struct {
	ID            string           `json:"id"`
	Timestamp     time.Time        `json:"timestamp"`
	WindowTitle   string           `json:"window_title"`
	ClassName     string           `json:"class_name"`
	MediaStatus   MediaStatus      `json:"media_status"`
	Microphone    MicrophoneStatus `json:"microphone_status"`
	UserStatus    UserStatus       `json:"user_status"`
	VisionSummary string           `json:"vision_summary"`
	Feedback      string           `json:"feedback"`
	Persona       string           `json:"persona"`
	Suppressed    bool             `json:"suppressed"`
	CaptureCount  int              `json:"capture_count"`
}

// Selection is the pair of model identifiers currently in use.
type Selection struct {
	Vision    string `json:"vision_model"`
	Reasoning string `json:"reasoning_model"`
}

// Profile is a named (vision, reasoning) pairing from the profiles file.
type Profile struct {
	VisionModel    string `json:"vision_model"`
	ReasoningModel string `json:"reasoning_model"`
	Description    string `json:"description,omitempty"`
}
