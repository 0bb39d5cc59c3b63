package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Backend names accepted in Config.Backend.
const (
	BackendOllama = "ollama"
	BackendGemini = "gemini"
)

// Config holds server configuration.
type Config struct {
	Host  string
	Port  int
	Debug bool

	APIKey      string
	TLSCertFile string
	TLSKeyFile  string

	Backend        string
	OllamaURL      string
	GeminiAPIKey   string
	VisionModel    string
	ReasoningModel string
	RequestTimeout time.Duration

	WindowSize int
	Threshold  int

	PersonasFile string
	TodoFile     string
	ProfilesFile string
	HistoryDB    string
	WatchFiles   bool

	// RuntimeContainer names the Docker container running the inference
	// runtime. Empty disables the container check in /health.
	RuntimeContainer string

	MaxUploadBytes int64
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           8443,
		Backend:        BackendOllama,
		OllamaURL:      "http://ollama:11434",
		VisionModel:    "moondream",
		ReasoningModel: "llama3",
		RequestTimeout: 180 * time.Second,
		WindowSize:     10,
		Threshold:      5,
		PersonasFile:   "/app/config/personas.json",
		TodoFile:       "/app/config/todo.txt",
		ProfilesFile:   "/app/config/model_profiles.json",
		HistoryDB:      "data/companion.db",
		MaxUploadBytes: 20 << 20,
	}
}

// fileConfig mirrors the TOML file layout. Pointers distinguish unset keys
// from zero values.
type fileConfig struct {
	Host  *string `toml:"host"`
	Port  *int    `toml:"port"`
	Debug *bool   `toml:"debug"`

	APIKey      *string `toml:"api_key"`
	TLSCertFile *string `toml:"ssl_certfile"`
	TLSKeyFile  *string `toml:"ssl_keyfile"`

	Backend        *string `toml:"backend"`
	OllamaURL      *string `toml:"ollama_base_url"`
	GeminiAPIKey   *string `toml:"gemini_api_key"`
	VisionModel    *string `toml:"vision_model"`
	ReasoningModel *string `toml:"reasoning_model"`
	RequestTimeout *string `toml:"request_timeout"`

	WindowSize *int `toml:"context_window_size"`
	Threshold  *int `toml:"captures_before_feedback"`

	PersonasFile *string `toml:"personas_file_path"`
	TodoFile     *string `toml:"todo_file_path"`
	ProfilesFile *string `toml:"model_profiles_path"`
	HistoryDB    *string `toml:"history_db"`
	WatchFiles   *bool   `toml:"watch_files"`

	RuntimeContainer *string `toml:"runtime_container"`
	MaxUploadBytes   *int64  `toml:"max_upload_bytes"`
}

// Load returns the defaults, overlaid with the TOML file at path (if path is
// non-empty) and then with COMPANION_* environment variables. The result is
// validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.apply(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.overrideFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) apply(data []byte) error {
	var fc fileConfig
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("unknown keys:\n%s", strict.String())
		}
		return err
	}

	setString(&c.Host, fc.Host)
	setInt(&c.Port, fc.Port)
	if fc.Debug != nil {
		c.Debug = *fc.Debug
	}
	setString(&c.APIKey, fc.APIKey)
	setString(&c.TLSCertFile, fc.TLSCertFile)
	setString(&c.TLSKeyFile, fc.TLSKeyFile)
	setString(&c.Backend, fc.Backend)
	setString(&c.OllamaURL, fc.OllamaURL)
	setString(&c.GeminiAPIKey, fc.GeminiAPIKey)
	setString(&c.VisionModel, fc.VisionModel)
	setString(&c.ReasoningModel, fc.ReasoningModel)
	if fc.RequestTimeout != nil {
		d, err := parseTimeout(*fc.RequestTimeout)
		if err != nil {
			return fmt.Errorf("request_timeout: %w", err)
		}
		c.RequestTimeout = d
	}
	setInt(&c.WindowSize, fc.WindowSize)
	setInt(&c.Threshold, fc.Threshold)
	setString(&c.PersonasFile, fc.PersonasFile)
	setString(&c.TodoFile, fc.TodoFile)
	setString(&c.ProfilesFile, fc.ProfilesFile)
	setString(&c.HistoryDB, fc.HistoryDB)
	if fc.WatchFiles != nil {
		c.WatchFiles = *fc.WatchFiles
	}
	setString(&c.RuntimeContainer, fc.RuntimeContainer)
	if fc.MaxUploadBytes != nil {
		c.MaxUploadBytes = *fc.MaxUploadBytes
	}
	return nil
}

func (c *Config) overrideFromEnv() {
	overrideString(&c.Host, "COMPANION_HOST")
	overrideInt(&c.Port, "COMPANION_PORT")
	overrideBool(&c.Debug, "COMPANION_DEBUG")
	overrideString(&c.APIKey, "COMPANION_API_KEY")
	overrideString(&c.TLSCertFile, "COMPANION_SSL_CERTFILE")
	overrideString(&c.TLSKeyFile, "COMPANION_SSL_KEYFILE")
	overrideString(&c.Backend, "COMPANION_BACKEND")
	overrideString(&c.OllamaURL, "COMPANION_OLLAMA_BASE_URL")
	overrideString(&c.GeminiAPIKey, "GEMINI_API_KEY")
	overrideString(&c.GeminiAPIKey, "COMPANION_GEMINI_API_KEY")
	overrideString(&c.VisionModel, "COMPANION_VISION_MODEL")
	overrideString(&c.ReasoningModel, "COMPANION_REASONING_MODEL")
	overrideDuration(&c.RequestTimeout, "COMPANION_REQUEST_TIMEOUT")
	overrideInt(&c.WindowSize, "COMPANION_CONTEXT_WINDOW_SIZE")
	overrideInt(&c.Threshold, "COMPANION_CAPTURES_BEFORE_FEEDBACK")
	overrideString(&c.PersonasFile, "COMPANION_PERSONAS_FILE_PATH")
	overrideString(&c.TodoFile, "COMPANION_TODO_FILE_PATH")
	overrideString(&c.ProfilesFile, "COMPANION_MODEL_PROFILES_PATH")
	overrideString(&c.HistoryDB, "COMPANION_HISTORY_DB")
	overrideBool(&c.WatchFiles, "COMPANION_WATCH_FILES")
	overrideString(&c.RuntimeContainer, "COMPANION_RUNTIME_CONTAINER")
}

// Validate reports the first problem that would prevent the server from starting.
func (c *Config) Validate() error {
	switch {
	case c.APIKey == "":
		return errors.New("api_key is required (set COMPANION_API_KEY)")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("port %d out of range", c.Port)
	case c.WindowSize < 1:
		return fmt.Errorf("context_window_size must be positive, got %d", c.WindowSize)
	case c.Threshold < 1:
		return fmt.Errorf("captures_before_feedback must be positive, got %d", c.Threshold)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("request_timeout must be positive, got %v", c.RequestTimeout)
	case (c.TLSCertFile == "") != (c.TLSKeyFile == ""):
		return errors.New("ssl_certfile and ssl_keyfile must be set together")
	}
	switch c.Backend {
	case BackendOllama:
		if c.OllamaURL == "" {
			return errors.New("ollama_base_url is required for the ollama backend")
		}
	case BackendGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("gemini_api_key is required for the gemini backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// TLS reports whether a certificate and key are configured.
func (c *Config) TLS() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// parseTimeout accepts a Go duration ("3m") or a bare number of seconds ("180").
func parseTimeout(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}

func setString(dest *string, v *string) {
	if v != nil {
		*dest = *v
	}
}

func setInt(dest *int, v *int) {
	if v != nil {
		*dest = *v
	}
}

func overrideString(dest *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dest = val
	}
}

func overrideDuration(dest *time.Duration, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := parseTimeout(val); err == nil {
			*dest = parsed
		}
	}
}

func overrideBool(dest *bool, key string) {
	if val := os.Getenv(key); val != "" {
		switch strings.ToLower(val) {
		case "1", "true", "yes", "y", "on":
			*dest = true
		case "0", "false", "no", "n", "off":
			*dest = false
		}
	}
}

func overrideInt(dest *int, key string) {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			*dest = parsed
		}
	}
}
