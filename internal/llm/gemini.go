package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"jobinbox/internal/classifier"
)

type GeminiConfig struct {
	APIKey      string
	Model       string // Default: "gemini-1.5-flash"
	Temperature float32
}

// GeminiProvider answers prompts with a Gemini model in JSON response mode.
type GeminiProvider struct {
	client      *genai.Client
	modelName   string
	temperature float32
	logger      *zap.Logger
}

func NewGeminiProvider(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	logger.Info("Gemini provider initialized", zap.String("model", cfg.Model))

	return &GeminiProvider{
		client:      client,
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

func (p *GeminiProvider) Name() string { return "gemini:" + p.modelName }

func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

func (p *GeminiProvider) Complete(ctx context.Context, prompt classifier.Prompt) (string, error) {
	// GenerativeModel carries per-request settings, so build one per call.
	model := p.client.GenerativeModel(p.modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(prompt.System)}}
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(p.temperature)
	if prompt.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(prompt.MaxTokens))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt.User))
	if err != nil {
		return "", classifyGeminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty response from gemini")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("unexpected response type from gemini")
	}
	return b.String(), nil
}

// classifyGeminiError maps quota exhaustion onto the classifier's rate-limit fault.
func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return &classifier.RateLimitError{Err: err}
	}
	if strings.Contains(err.Error(), "RESOURCE_EXHAUSTED") || strings.Contains(err.Error(), "Error 429") {
		return &classifier.RateLimitError{Err: err}
	}
	return fmt.Errorf("gemini API error: %w", err)
}
