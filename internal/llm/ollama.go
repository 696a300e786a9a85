package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// OllamaProvider talks to the native Ollama /api/generate endpoint.
type OllamaProvider struct {
	client *resty.Client
	model  string
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// NewOllamaProvider creates a provider for a local or remote Ollama server.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &OllamaProvider{client: client, model: cfg.Model}
}

func (p *OllamaProvider) Complete(ctx context.Context, req Request) (string, error) {
	var out ollamaGenerateResponse
	var apiErr ollamaErrorResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(ollamaGenerateRequest{
			Model:  p.model,
			Prompt: fullPrompt(req),
			Stream: false,
			Options: ollamaOptions{
				Temperature: req.Temperature,
				NumPredict:  req.MaxTokens,
			},
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/generate")
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", unreachable("ollama", err)
	}
	if resp.IsError() {
		return "", statusError("ollama", resp.StatusCode(), errors.New(apiErr.Error))
	}

	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", emptyReply("ollama", "no text in generate response")
	}
	return text, nil
}

func (p *OllamaProvider) ModelID() string {
	return p.model
}

// Ping checks that the server answers the model listing endpoint.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	resp, err := p.client.R().SetContext(ctx).Get("/api/tags")
	if err != nil {
		return unreachable("ollama", err)
	}
	if resp.IsError() {
		return statusError("ollama", resp.StatusCode(), fmt.Errorf("list models: %s", resp.Status()))
	}
	return nil
}
