// Package llm produces edit responses from a language model.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// DefaultMaxTokens bounds the response length.
const DefaultMaxTokens = 8192

// Generator returns the raw model response for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config selects and tunes the model.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int
}

// GenAI calls the Gemini API.
type GenAI struct {
	client    *genai.Client
	model     string
	maxTokens int32
	system    string
}

// NewGenAI creates a Gemini client. An empty APIKey falls back to the
// GEMINI_API_KEY / GOOGLE_API_KEY environment variables read by the SDK.
func NewGenAI(ctx context.Context, cfg Config) (*GenAI, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAI{
		client:    client,
		model:     cfg.Model,
		maxTokens: int32(cfg.MaxTokens),
		system:    SystemPrompt,
	}, nil
}

// Model is the configured model name.
func (g *GenAI) Model() string {
	return g.model
}

// Generate sends prompt with the edit protocol as system instruction.
func (g *GenAI) Generate(ctx context.Context, prompt string) (string, error) {
	slog.Debug("generating", "model", g.model, "prompt_bytes", len(prompt))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.system, genai.RoleUser),
		MaxOutputTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", errors.New("model returned an empty response")
	}
	slog.Debug("generated", "model", g.model, "response_bytes", len(text))
	return text, nil
}

// WithTimeout bounds every Generate call of g by d. A zero d returns g.
func WithTimeout(g Generator, d time.Duration) Generator {
	if d <= 0 {
		return g
	}
	return GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return g.Generate(ctx, prompt)
	})
}
