package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"gemini", "openai", "whisper"},
	"tts": {"elevenlabs"},
}

// Load reads the YAML configuration file at path on top of [Defaults] and
// returns the validated result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Defaults()
		return cfg, Validate(cfg)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Defaults] and validates
// the result. Keys absent from the document keep their default values.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Env holds the recognised environment variables. Empty values leave the
// configuration untouched.
type Env struct {
	Port              string   `env:"PORT"`
	ListenAddr        string   `env:"REHEARSE_LISTEN_ADDR"`
	LogLevel          string   `env:"LOG_LEVEL"`
	DatabaseURL       string   `env:"DATABASE_URL"`
	ScriptFiles       []string `env:"REHEARSE_SCRIPT_FILES" envSeparator:","`
	GeminiAPIKey      string   `env:"GEMINI_API_KEY"`
	GoogleAPIKey      string   `env:"GOOGLE_GENERATIVE_AI_API_KEY"`
	GeminiSTTModel    string   `env:"GEMINI_STT_MODEL"`
	OpenAIAPIKey      string   `env:"OPENAI_API_KEY"`
	ElevenLabsAPIKey  string   `env:"ELEVENLABS_API_KEY"`
	ElevenLabsVoiceID string   `env:"ELEVENLABS_VOICE_ID"`
}

// LoadEnvFile reads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is an
// error only when required is true.
func LoadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: env file %q: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: env file %q: %w", path, err)
	}
	return nil
}

// ApplyEnvironment overlays environment variables onto cfg and re-validates
// it. environ replaces the process environment when non-nil, which keeps
// tests hermetic.
func ApplyEnvironment(cfg *Config, environ map[string]string) error {
	var opts env.Options
	if environ != nil {
		opts.Environment = environ
	}
	var e Env
	if err := env.ParseWithOptions(&e, opts); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	e.apply(cfg)
	return Validate(cfg)
}

func (e Env) apply(cfg *Config) {
	switch {
	case e.ListenAddr != "":
		cfg.Server.ListenAddr = e.ListenAddr
	case e.Port != "":
		cfg.Server.ListenAddr = ":" + strings.TrimPrefix(e.Port, ":")
	}
	if e.LogLevel != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(e.LogLevel))
	}
	if e.DatabaseURL != "" {
		cfg.Scripts.PostgresDSN = e.DatabaseURL
	}
	if len(e.ScriptFiles) > 0 {
		cfg.Scripts.Files = e.ScriptFiles
	}

	geminiKey := e.GeminiAPIKey
	if geminiKey == "" {
		geminiKey = e.GoogleAPIKey
	}
	entries := append([]*ProviderEntry{&cfg.Providers.STT}, pointers(cfg.Providers.STTFallbacks)...)
	for _, p := range entries {
		switch p.Name {
		case "gemini":
			setIf(&p.APIKey, geminiKey)
			setIf(&p.Model, e.GeminiSTTModel)
		case "openai":
			setIf(&p.APIKey, e.OpenAIAPIKey)
		}
	}
	if cfg.Providers.TTS.Name == "elevenlabs" {
		setIf(&cfg.Providers.TTS.APIKey, e.ElevenLabsAPIKey)
		setIf(&cfg.Session.VoiceID, e.ElevenLabsVoiceID)
	}
}

func pointers(entries []ProviderEntry) []*ProviderEntry {
	out := make([]*ProviderEntry, len(entries))
	for i := range entries {
		out[i] = &entries[i]
	}
	return out
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !strings.HasPrefix(cfg.Server.WSPath, "/") {
		errs = append(errs, fmt.Errorf("server.ws_path %q must start with /", cfg.Server.WSPath))
	}
	if cfg.Server.ReadLimitBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.read_limit_bytes must be positive, got %d", cfg.Server.ReadLimitBytes))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative, got %s", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	if cfg.Providers.STT.Name == "" && len(cfg.Providers.STTFallbacks) > 0 {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; every audio frame will be answered with transcription unavailable")
	}

	// Scripts
	if cfg.Scripts.PostgresDSN == "" && len(cfg.Scripts.Files) == 0 {
		slog.Warn("no script source configured; every start_session will fail")
	}
	for i, f := range cfg.Scripts.Files {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, fmt.Errorf("scripts.files[%d] is empty", i))
		}
	}

	// Verification
	if err := cfg.Verification.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("verification: %w", err))
	}

	// Session
	if cfg.Session.PendingAudio < 0 {
		errs = append(errs, fmt.Errorf("session.pending_audio must not be negative, got %d", cfg.Session.PendingAudio))
	}
	if cfg.Session.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("session.idle_timeout must not be negative, got %s", cfg.Session.IdleTimeout))
	}

	// Resilience
	cb := cfg.Resilience.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience.circuit_breaker values must not be negative"))
	}

	// Telemetry
	if p := cfg.Telemetry.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}
	if p := cfg.Telemetry.MetricsPath; p != "" && p == cfg.Server.WSPath {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path and server.ws_path are both %q", p))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
