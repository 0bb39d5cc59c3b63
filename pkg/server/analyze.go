package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/nstogner/companion/pkg/domain"
)

// metadata is the capture agent's description of the desktop state. Window
// title and class are required; everything else has a default.
type metadata struct {
	WindowTitle      *string                 `json:"window_title"`
	ClassName        *string                 `json:"class_name"`
	MediaStatus      domain.MediaStatus      `json:"media_status"`
	MediaInfo        string                  `json:"media_info"`
	MicrophoneStatus domain.MicrophoneStatus `json:"microphone_status"`
	UserStatus       domain.UserStatus       `json:"user_status"`
	Timestamp        *time.Time              `json:"timestamp"`
	Compositor       string                  `json:"compositor"`
}

func (m metadata) observation() (domain.Observation, error) {
	if m.WindowTitle == nil {
		return domain.Observation{}, fmt.Errorf("%w: window_title is required", domain.ErrInvalidObservation)
	}
	if m.ClassName == nil {
		return domain.Observation{}, fmt.Errorf("%w: class_name is required", domain.ErrInvalidObservation)
	}
	obs := domain.Observation{
		WindowTitle:      *m.WindowTitle,
		ClassName:        *m.ClassName,
		MediaStatus:      m.MediaStatus,
		MediaInfo:        m.MediaInfo,
		MicrophoneStatus: m.MicrophoneStatus,
		UserStatus:       m.UserStatus,
		Compositor:       m.Compositor,
	}
	if m.Timestamp != nil {
		obs.Timestamp = *m.Timestamp
	}
	return obs, nil
}

func parseMetadata(data []byte) (domain.Observation, error) {
	var m metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.Observation{}, fmt.Errorf("%w: invalid metadata: %v", domain.ErrInvalidObservation, err)
	}
	return m.observation()
}

// jsonAnalyzeRequest is the JSON alternative to the multipart form. Metadata
// may be an object or a JSON-encoded string, matching the form field.
type jsonAnalyzeRequest struct {
	Metadata    json.RawMessage `json:"metadata"`
	ImageBase64 string          `json:"image_base64"`
}

// decodeAnalyzeRequest reads an observation and optional image from either a
// multipart form (metadata field plus image file) or a JSON body.
func (s *Server) decodeAnalyzeRequest(w http.ResponseWriter, r *http.Request) (domain.Observation, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return s.decodeMultipart(r)
	case "application/json", "":
		return decodeJSON(r.Body)
	default:
		return domain.Observation{}, nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

func (s *Server) decodeMultipart(r *http.Request) (domain.Observation, []byte, error) {
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		return domain.Observation{}, nil, fmt.Errorf("parse form: %w", err)
	}
	raw := r.FormValue("metadata")
	if raw == "" {
		return domain.Observation{}, nil, fmt.Errorf("%w: metadata field is required", domain.ErrInvalidObservation)
	}
	obs, err := parseMetadata([]byte(raw))
	if err != nil {
		return domain.Observation{}, nil, err
	}

	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return obs, nil, nil
	}
	if err != nil {
		return domain.Observation{}, nil, fmt.Errorf("read image: %w", err)
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		return domain.Observation{}, nil, fmt.Errorf("read image: %w", err)
	}
	return obs, image, nil
}

func decodeJSON(body io.Reader) (domain.Observation, []byte, error) {
	var req jsonAnalyzeRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return domain.Observation{}, nil, fmt.Errorf("decode request: %w", err)
	}
	if len(req.Metadata) == 0 || string(req.Metadata) == "null" {
		return domain.Observation{}, nil, fmt.Errorf("%w: metadata is required", domain.ErrInvalidObservation)
	}

	raw := []byte(req.Metadata)
	var encoded string
	if err := json.Unmarshal(req.Metadata, &encoded); err == nil {
		raw = []byte(encoded)
	}
	obs, err := parseMetadata(raw)
	if err != nil {
		return domain.Observation{}, nil, err
	}

	if req.ImageBase64 == "" {
		return obs, nil, nil
	}
	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		return domain.Observation{}, nil, fmt.Errorf("decode image_base64: %w", err)
	}
	return obs, image, nil
}
