package domain

import (
	"fmt"
	"strings"
)

// MediaStatus is the playback state reported by the capture agent.
type MediaStatus string

const (
	MediaPlaying MediaStatus = "playing"
	MediaPaused  MediaStatus = "paused"
	MediaStopped MediaStatus = "stopped"
	MediaUnknown MediaStatus = "unknown"
)

// ParseMediaStatus maps external text onto a known MediaStatus.
// Anything unrecognized becomes MediaUnknown.
func ParseMediaStatus(s string) MediaStatus {
	switch MediaStatus(strings.ToLower(strings.TrimSpace(s))) {
	case MediaPlaying:
		return MediaPlaying
	case MediaPaused:
		return MediaPaused
	case MediaStopped:
		return MediaStopped
	}
	return MediaUnknown
}

func (m *MediaStatus) UnmarshalText(b []byte) error {
	*m = ParseMediaStatus(string(b))
	return nil
}

// MicrophoneStatus is the default-source mute state.
type MicrophoneStatus string

const (
	MicMuted   MicrophoneStatus = "muted"
	MicUnmuted MicrophoneStatus = "unmuted"
	MicUnknown MicrophoneStatus = "unknown"
)

// ParseMicrophoneStatus maps external text onto a known MicrophoneStatus.
// Anything unrecognized becomes MicUnknown.
func ParseMicrophoneStatus(s string) MicrophoneStatus {
	switch MicrophoneStatus(strings.ToLower(strings.TrimSpace(s))) {
	case MicMuted:
		return MicMuted
	case MicUnmuted:
		return MicUnmuted
	}
	return MicUnknown
}

func (m *MicrophoneStatus) UnmarshalText(b []byte) error {
	*m = ParseMicrophoneStatus(string(b))
	return nil
}

// UserStatus is the status inferred by the capture agent.
type UserStatus string

const (
	UserActive    UserStatus = "active"
	UserInMeeting UserStatus = "in_meeting"
	UserIdle      UserStatus = "idle"
	UserAway      UserStatus = "away"
)

// ParseUserStatus accepts the four known statuses. An empty string means
// UserActive. Unlike media and microphone state there is no unknown member,
// so unrecognized text is an error.
func ParseUserStatus(s string) (UserStatus, error) {
	switch v := UserStatus(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return UserActive, nil
	case UserActive, UserInMeeting, UserIdle, UserAway:
		return v, nil
	}
	return "", fmt.Errorf("%w: unknown user_status %q", ErrInvalidObservation, s)
}

func (u *UserStatus) UnmarshalText(b []byte) error {
	v, err := ParseUserStatus(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}
