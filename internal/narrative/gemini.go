package narrative

import (
	"context"
	"fmt"

	"churn-calc/internal/common/errors"

	"google.golang.org/genai"
)

const (
	ProviderGemini     = "gemini"
	DefaultGeminiModel = "gemini-2.5-flash"
)

type GeminiConfig struct {
	APIKey      string
	Model       string
	Temperature float64
}

// contentGenerator is the part of genai.Models the generator uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiGenerator asks a Gemini model for a JSON analysis.
type GeminiGenerator struct {
	models contentGenerator
	config GeminiConfig
}

func NewGeminiGenerator(ctx context.Context, config GeminiConfig) (*GeminiGenerator, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return newGeminiGenerator(client.Models, config), nil
}

func newGeminiGenerator(models contentGenerator, config GeminiConfig) *GeminiGenerator {
	if config.Model == "" {
		config.Model = DefaultGeminiModel
	}
	return &GeminiGenerator{models: models, config: config}
}

func (g *GeminiGenerator) Name() string {
	return ProviderGemini
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Analysis, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(g.config.Temperature)),
		ResponseMIMEType: "application/json",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		},
	}

	result, err := g.models.GenerateContent(ctx, g.config.Model, genai.Text(BuildPrompt(req)), cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewNarrativeTimeoutError(ProviderGemini)
		}
		return nil, errors.NewNarrativeGenerationFailedError(ProviderGemini, err)
	}

	analysis, err := ParseReply(result.Text())
	if err != nil {
		return nil, errors.NewNarrativeGenerationFailedError(ProviderGemini, fmt.Errorf("unusable reply: %w", err))
	}
	analysis.Provider = ProviderGemini
	return analysis, nil
}
