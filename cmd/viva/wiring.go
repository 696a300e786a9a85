package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pavelanni/viva/internal/evaluate"
	"github.com/pavelanni/viva/internal/llm"
	"github.com/pavelanni/viva/internal/llm/prompts"
)

const pingTimeout = 5 * time.Second

// llmConfig maps the generic --llm-* flags onto the selected provider.
func llmConfig(v *viper.Viper) llm.Config {
	cfg := llm.DefaultConfig()
	cfg.Provider = strings.ToLower(strings.TrimSpace(v.GetString("llm-provider")))
	url, key, modelName := v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model")

	switch cfg.Provider {
	case "ollama":
		if url != "" {
			cfg.Ollama.BaseURL = url
		}
		if modelName != "" {
			cfg.Ollama.Model = modelName
		}
		cfg.Ollama.Timeout = v.GetDuration("llm-timeout")
	case "openai":
		cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey = url, key
		if modelName != "" {
			cfg.OpenAI.Model = modelName
		}
	case "gemini":
		cfg.Gemini.APIKey = key
		if modelName != "" {
			cfg.Gemini.Model = modelName
		}
	case "anthropic":
		cfg.Anthropic.APIKey = key
		if modelName != "" {
			cfg.Anthropic.Model = modelName
		}
	}
	if n := v.GetInt("llm-retries"); n > 0 {
		cfg.Retry.MaxAttempts = n
	}
	if d := v.GetDuration("llm-timeout"); d > 0 {
		cfg.Retry.AttemptTimeout = d
	}
	return cfg
}

// evalTimeout bounds one answer evaluation. The LLM judge may retry, so it
// gets the whole retry budget rather than a single call's timeout.
func evalTimeout(v *viper.Viper) time.Duration {
	if strings.EqualFold(strings.TrimSpace(v.GetString("evaluator")), evaluate.KindLLM) {
		return llmConfig(v).Retry.Budget()
	}
	return v.GetDuration("llm-timeout")
}

// buildEvaluator creates the evaluator named by --evaluator along with the
// backends it needs.
func buildEvaluator(ctx context.Context, v *viper.Viper) (evaluate.Evaluator, error) {
	kind := strings.ToLower(strings.TrimSpace(v.GetString("evaluator")))
	var deps evaluate.Deps

	switch kind {
	case evaluate.KindEmbedding:
		emb, err := llm.NewCachedEmbedder(llm.NewOpenAIEmbedder(llm.EmbedConfig{
			APIKey:  v.GetString("embed-key"),
			BaseURL: v.GetString("embed-url"),
			Model:   v.GetString("embed-model"),
		}), v.GetInt("embed-cache"))
		if err != nil {
			return nil, fmt.Errorf("embedding cache: %w", err)
		}
		deps.Embedder = emb
		slog.Info("embedding evaluator", "url", v.GetString("embed-url"), "model", v.GetString("embed-model"))

	case evaluate.KindLLM:
		cfg := llmConfig(v)
		provider, err := llm.NewProvider(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create LLM provider: %w", err)
		}

		variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
		if !prompts.IsValidVariant(variant) {
			slog.Warn("invalid prompt-variant, using standard", "variant", variant)
			variant = string(prompts.PromptStandard)
		}
		if err := prompts.LoadDefault(); err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()
		if err := llm.Ping(pingCtx, provider); err != nil {
			slog.Warn("LLM health check failed, answers will be scored by word overlap until it recovers",
				"provider", cfg.Provider, "error", err)
		} else {
			slog.Info("LLM endpoint OK", "provider", cfg.Provider, "model", provider.ModelID())
		}
		deps.Judge = llm.NewJudge(provider, prompts.PromptVariant(variant))
	}

	return evaluate.New(kind, deps)
}

// guard wraps the evaluator so scoring never fails a submission.
func guard(ev evaluate.Evaluator, timeout time.Duration) *evaluate.Guarded {
	return evaluate.NewGuarded(ev, timeout, slog.Default())
}

// buildTranscriber returns nil when no transcription endpoint is configured.
func buildTranscriber(v *viper.Viper) llm.Transcriber {
	url, key := v.GetString("stt-url"), v.GetString("stt-key")
	if url == "" && key == "" {
		slog.Info("speech-to-text disabled")
		return nil
	}
	return llm.NewOpenAITranscriber(llm.TranscribeConfig{
		APIKey:  key,
		BaseURL: url,
		Model:   v.GetString("stt-model"),
	})
}
