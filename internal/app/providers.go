package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/poirierunited/get-ahead-ai/internal/config"
	"github.com/poirierunited/get-ahead-ai/internal/feedback"
	"github.com/poirierunited/get-ahead-ai/internal/resilience"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/llm"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/llm/anyllm"
	llmmock "github.com/poirierunited/get-ahead-ai/pkg/provider/llm/mock"
	oaillm "github.com/poirierunited/get-ahead-ai/pkg/provider/llm/openai"
	"github.com/poirierunited/get-ahead-ai/pkg/provider/voice"
	voicemock "github.com/poirierunited/get-ahead-ai/pkg/provider/voice/mock"
	oaivoice "github.com/poirierunited/get-ahead-ai/pkg/provider/voice/openai"
)

// ── Provider wiring ───────────────────────────────────────────────────────────

// RegisterBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the implementation packages.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining hosted vendors share one pattern: optional APIKey plus
	// optional BaseURL. Without a key any-llm-go reads the vendor's env var.
	for _, providerName := range []string{"gemini", "anthropic", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterLLM("mock", func(entry config.ProviderEntry) (llm.Provider, error) {
		content := optString(entry.Options, "response")
		if content == "" {
			raw, err := json.Marshal(demoEvaluation())
			if err != nil {
				return nil, err
			}
			content = string(raw)
		}
		return &llmmock.Provider{
			ProviderName:     "mock",
			CompleteResponse: &llm.CompletionResponse{Content: content, FinishReason: "stop"},
		}, nil
	})

	// ── Voice ─────────────────────────────────────────────────────────────────

	reg.RegisterVoice("openai-realtime", func(entry config.ProviderEntry) (voice.Provider, error) {
		if entry.APIKey == "" {
			return nil, errors.New("openai-realtime: api_key must not be empty")
		}
		var opts []oaivoice.Option
		if entry.Model != "" {
			opts = append(opts, oaivoice.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaivoice.WithBaseURL(entry.BaseURL))
		}
		if aliases := optStringMap(entry.Options, "voice_aliases"); aliases != nil {
			opts = append(opts, oaivoice.WithVoiceAliases(aliases))
		}
		return oaivoice.New(entry.APIKey, opts...), nil
	})

	reg.RegisterVoice("mock", func(config.ProviderEntry) (voice.Provider, error) {
		return &voicemock.Provider{}, nil
	})

	slog.Debug("registered providers", "llm", reg.LLMNames())
}

// buildLLM creates the primary scoring model and, when fallbacks are
// configured, wraps it in a failover group with one breaker per backend.
func buildLLM(pc config.ProvidersConfig, reg *config.Registry, log *slog.Logger) (llm.Provider, error) {
	primary, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", pc.LLM.Name, err)
	}
	if len(pc.LLMFallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewLLMFallback(primary, resilience.FallbackConfig{Logger: log})
	for _, entry := range pc.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(p)
	}
	return fb, nil
}

// demoEvaluation is what the mock model answers with, so a local server
// without API keys still produces well-formed feedback.
func demoEvaluation() feedback.Evaluation {
	scores := make([]feedback.CategoryScore, 0, len(feedback.Categories))
	for i, c := range feedback.Categories {
		scores = append(scores, feedback.CategoryScore{
			Name:    c,
			Score:   60 + 5*i,
			Comment: "Generated by the mock model.",
		})
	}
	return feedback.Evaluation{
		TotalScore:          70,
		CategoryScores:      scores,
		Strengths:           []string{"Answered every question"},
		AreasForImprovement: []string{"Give more concrete examples"},
		FinalAssessment:     "Mock assessment for local development.",
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optStringMap extracts a string-to-string map. YAML decodes nested mappings
// as map[string]any; non-string values are skipped.
func optStringMap(opts map[string]any, key string) map[string]string {
	raw, ok := opts[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
