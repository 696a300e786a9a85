package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/viva/internal/model"
)

// Transcriber converts recorded speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string, lang model.Language) (string, error)
}

// TranscribeConfig configures a Whisper-compatible transcription endpoint.
type TranscribeConfig struct {
	APIKey  string
	BaseURL string
	Model   string // Default: "whisper-1"
}

// OpenAITranscriber posts audio to /v1/audio/transcriptions.
type OpenAITranscriber struct {
	client *openai.Client
	model  string
}

// NewOpenAITranscriber creates a transcriber for a Whisper-compatible endpoint.
func NewOpenAITranscriber(cfg TranscribeConfig) *OpenAITranscriber {
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAITranscriber{
		client: newOpenAIClient(cfg.BaseURL, cfg.APIKey),
		model:  model,
	}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audio io.Reader, filename string, lang model.Language) (string, error) {
	if filename == "" {
		filename = "answer.webm"
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		Reader:   audio,
		FilePath: filename,
		Language: string(lang),
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("transcribe: %w", mapOpenAIError(err))
	}
	return strings.TrimSpace(resp.Text), nil
}
