package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/poirierunited/get-ahead-ai/internal/interview"
	"github.com/poirierunited/get-ahead-ai/internal/ratelimit"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":   {"openai", "gemini", "anthropic", "ollama", "mistral", "deepseek", "groq", "mock"},
	"voice": {"openai-realtime", "mock"},
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultLLMTimeout      = 90 * time.Second
	DefaultMaxDuration     = 30 * time.Minute
	DefaultMetricsPath     = "/metrics"
	DefaultServiceName     = "get-ahead-ai"
)

// LoadEnv loads KEY=value pairs from the given dotenv files into the process
// environment without overriding variables that are already set. Missing
// files are skipped. With no arguments it looks for ".env".
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
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

// LoadFromReader decodes a YAML config from r, expands ${VAR} references from
// the environment, fills defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(raw)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = ratelimit.DefaultWindow
	}
	if cfg.RateLimit.MaxRequests == 0 {
		cfg.RateLimit.MaxRequests = ratelimit.DefaultMax
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = RateLimitMemory
	}
	if cfg.RateLimit.ClientKey == "" {
		cfg.RateLimit.ClientKey = ClientKeyForwarded
	}
	if cfg.Feedback.AttemptNumbering == "" {
		cfg.Feedback.AttemptNumbering = NumberingBestEffort
	}
	if cfg.Feedback.LLMTimeout == 0 {
		cfg.Feedback.LLMTimeout = DefaultLLMTimeout
	}
	if cfg.Session.DefaultLocale == "" {
		cfg.Session.DefaultLocale = interview.English
	}
	if cfg.Session.MaxDuration == 0 {
		cfg.Session.MaxDuration = DefaultMaxDuration
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = DefaultMetricsPath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %s must not be negative", cfg.Server.ShutdownTimeout))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("voice", cfg.Providers.Voice.Name)
	if cfg.Providers.Voice.Name == "" {
		slog.Warn("providers.voice is not configured; the session websocket will not be served")
	}

	// Rate limit
	if cfg.RateLimit.Window < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.window %s must not be negative", cfg.RateLimit.Window))
	}
	if cfg.RateLimit.MaxRequests < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.max_requests %d must not be negative", cfg.RateLimit.MaxRequests))
	}
	if cfg.RateLimit.Backend != "" && !cfg.RateLimit.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("rate_limit.backend %q is invalid; valid values: memory, redis", cfg.RateLimit.Backend))
	}
	if cfg.RateLimit.Backend == RateLimitRedis && cfg.RateLimit.RedisURL == "" {
		errs = append(errs, errors.New("rate_limit.redis_url is required when backend is redis"))
	}
	if cfg.RateLimit.ClientKey != "" && !cfg.RateLimit.ClientKey.IsValid() {
		errs = append(errs, fmt.Errorf("rate_limit.client_key %q is invalid; valid values: forwarded, remote", cfg.RateLimit.ClientKey))
	}

	// Gate
	if err := cfg.Gate.Validate(); err != nil {
		errs = append(errs, err)
	}

	// Feedback
	if n := cfg.Feedback.AttemptNumbering; n != "" && !n.IsValid() {
		errs = append(errs, fmt.Errorf("feedback.attempt_numbering %q is invalid; valid values: best_effort, serialized", n))
	}
	if cfg.Feedback.Temperature < 0 || cfg.Feedback.Temperature > 2 {
		errs = append(errs, fmt.Errorf("feedback.temperature %.2f is out of range [0, 2]", cfg.Feedback.Temperature))
	}
	if cfg.Feedback.LLMTimeout < 0 {
		errs = append(errs, fmt.Errorf("feedback.llm_timeout %s must not be negative", cfg.Feedback.LLMTimeout))
	}
	for lang := range cfg.Feedback.Templates {
		if !isLanguage(lang) {
			errs = append(errs, fmt.Errorf("feedback.templates: language %q is invalid; valid values: en, es", lang))
		}
	}

	// Session
	if l := cfg.Session.DefaultLocale; l != "" && !isLanguage(l) {
		errs = append(errs, fmt.Errorf("session.default_locale %q is invalid; valid values: en, es", l))
	}
	for lang := range cfg.Session.Personas {
		if !isLanguage(lang) {
			errs = append(errs, fmt.Errorf("session.personas: language %q is invalid; valid values: en, es", lang))
		}
	}
	if cfg.Session.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("session.max_duration %s must not be negative", cfg.Session.MaxDuration))
	}
	if u := cfg.Session.SubmitURL; u != "" && !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		errs = append(errs, fmt.Errorf("session.submit_url %q must be an http(s) URL", u))
	}

	// Storage
	if cfg.Feedback.AttemptNumbering == NumberingSerialized && cfg.Storage.PostgresDSN == "" && cfg.Storage.FeedbackFile == "" {
		slog.Warn("feedback.attempt_numbering is serialized without a shared store; numbers are unique per process only")
	}

	if p := cfg.Telemetry.MetricsPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("telemetry.metrics_path %q must start with /", p))
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %g must be within [0, 1]", r))
	}

	return errors.Join(errs...)
}

func isLanguage(l interview.Language) bool {
	return l == interview.English || l == interview.Spanish
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
