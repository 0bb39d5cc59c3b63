// Package prompt builds the instructions sent to the vision and reasoning models.
package prompt

import (
	"strings"

	"github.com/nstogner/companion/pkg/domain"
)

// Prompt is a two-part prompt for the reasoning model.
type Prompt struct {
	System string
	User   string
}

// FeedbackInput carries everything the reasoning prompt is built from.
type FeedbackInput struct {
	PersonaTemplate string
	AppName         string
	VisionSummary   string
	UserStatus      domain.UserStatus
	TodoText        string
	ContextSummary  string
}

// Feedback composes the reasoning-model prompt. The system part is the
// persona template followed by fixed operational rules; the user part lays
// out the real-time signals, the todo list and the recent history.
func Feedback(in FeedbackInput) Prompt {
	var sys strings.Builder
	sys.WriteString(strings.TrimSpace(in.PersonaTemplate))
	sys.WriteString("\n\nOPERATIONAL RULES:\n")
	sys.WriteString("1. You have the exact App Name: " + in.AppName +
		" and a Visual Description (see below). Use both, and reconcile them when they disagree.\n")
	sys.WriteString("2. If the App Name is a media player (e.g. \"Spotify\") and the Visual Description " +
		"shows unrelated work (e.g. code), the user is just listening to music while working. That is fine.\n")
	sys.WriteString("3. Keep it under 2 sentences.")

	vision := in.VisionSummary
	if vision == "" {
		vision = "No visual data"
	}

	var user strings.Builder
	user.WriteString("--- REAL-TIME METADATA ---\n")
	user.WriteString("VISUAL CONTENT: " + vision + "\n")
	user.WriteString("USER STATUS: " + string(in.UserStatus) + "\n\n")
	user.WriteString("--- GOALS (IF ANY) ---\n")
	user.WriteString("TODO LIST:\n")
	if todo := strings.TrimSpace(in.TodoText); todo != "" {
		user.WriteString(todo + "\n")
	}
	user.WriteString("\n--- CONTEXT ---\n")
	user.WriteString("HISTORY:\n" + in.ContextSummary + "\n\n")
	user.WriteString("RESPONSE (stay in character):")

	return Prompt{System: sys.String(), User: user.String()}
}

// Vision composes the instruction for the vision model. hint names the
// window and application being shown.
func Vision(hint string) string {
	var b strings.Builder
	b.WriteString("Describe the CONTENT inside the active " + hint + ".\n")
	b.WriteString("- Is it code, a video, a chat, a document, or something else?\n")
	b.WriteString("- Describe the visual mood: static, dynamic, colorful, dark?\n")
	b.WriteString("- Does it look like work or leisure?\n")
	b.WriteString("Answer in 1-2 sentences, concise and specific.")
	return b.String()
}

// VisionHint is the window description embedded in the vision prompt.
func VisionHint(o domain.Observation) string {
	return "window: " + o.WindowTitle + ", whose application name is " + o.ClassName
}
