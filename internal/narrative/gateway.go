package narrative

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"churn-calc/internal/common/errors"
	commonhttp "churn-calc/internal/common/http"
	"churn-calc/internal/common/logger"
)

const ProviderGateway = "gateway"

type GatewayConfig struct {
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float64
	MaxRetries  int
	Timeout     time.Duration
}

// GatewayGenerator calls an internal AI gateway at {BaseURL}/api/ai/generate.
type GatewayGenerator struct {
	config GatewayConfig
	client *commonhttp.Client
	logger logger.Logger
}

func NewGatewayGenerator(config GatewayConfig, log logger.Logger) *GatewayGenerator {
	return &GatewayGenerator{
		config: config,
		client: commonhttp.NewClient(config.Timeout),
		logger: log.With(map[string]interface{}{"provider": ProviderGateway}),
	}
}

func (g *GatewayGenerator) Name() string {
	return ProviderGateway
}

type gatewayRequest struct {
	Prompt         string                 `json:"prompt"`
	System         string                 `json:"system"`
	Context        map[string]interface{} `json:"context"`
	MaxTokens      int                    `json:"max_tokens"`
	Temperature    float64                `json:"temperature"`
	ResponseFormat string                 `json:"response_format"`
}

type gatewayResponse struct {
	Text   string `json:"text"`
	Tokens int    `json:"tokens,omitempty"`
}

func (g *GatewayGenerator) Generate(ctx context.Context, req Request) (*Analysis, error) {
	payload := gatewayRequest{
		Prompt: BuildPrompt(req),
		System: systemInstruction,
		Context: map[string]interface{}{
			"inputs":  req.Inputs,
			"results": req.Results,
			"profile": req.Profile,
		},
		MaxTokens:      g.config.MaxTokens,
		Temperature:    g.config.Temperature,
		ResponseFormat: "json",
	}

	headers := map[string]string{}
	if g.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + g.config.APIKey
	}

	url := strings.TrimRight(g.config.BaseURL, "/") + "/api/ai/generate"

	var resp gatewayResponse
	var lastErr error
	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, errors.NewNarrativeTimeoutError(ProviderGateway)
			}
		}

		lastErr = g.client.PostJSON(ctx, url, headers, payload, &resp)
		if lastErr == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, errors.NewNarrativeTimeoutError(ProviderGateway)
		}

		var statusErr *commonhttp.StatusError
		if stderrors.As(lastErr, &statusErr) && !statusErr.Temporary() {
			break
		}
		g.logger.Warn("gateway request failed", map[string]interface{}{
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		})
	}

	if lastErr != nil {
		return nil, errors.NewNarrativeGenerationFailedError(ProviderGateway, lastErr)
	}

	analysis, err := ParseReply(resp.Text)
	if err != nil {
		return nil, errors.NewNarrativeGenerationFailedError(ProviderGateway, fmt.Errorf("unusable reply: %w", err))
	}
	analysis.Provider = ProviderGateway
	return analysis, nil
}
