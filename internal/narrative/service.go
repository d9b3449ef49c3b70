package narrative

import (
	"context"
	"fmt"
	"time"

	"churn-calc/internal/common/config"
	"churn-calc/internal/common/logger"
	"churn-calc/internal/common/metrics"
)

// Service produces an analysis for every request. The primary generator
// runs under a timeout; any failure or empty reply falls back to templates.
type Service struct {
	primary  Generator
	fallback *FallbackGenerator
	timeout  time.Duration
	logger   logger.Logger
	now      func() time.Time
}

// NewService builds a Service. primary may be nil, in which case only the
// fallback templates are used.
func NewService(primary Generator, fallback *FallbackGenerator, timeout time.Duration, log logger.Logger) *Service {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Service{
		primary:  primary,
		fallback: fallback,
		timeout:  timeout,
		logger:   log,
		now:      time.Now,
	}
}

// NewServiceFromConfig wires the configured provider.
func NewServiceFromConfig(ctx context.Context, cfg config.NarrativeConfig, log logger.Logger) (*Service, error) {
	fallback, err := NewFallbackGenerator()
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.Timeout) * time.Millisecond

	var primary Generator
	switch cfg.Provider {
	case config.NarrativeProviderGateway:
		primary = NewGatewayGenerator(GatewayConfig{
			BaseURL:     cfg.GenAI.BaseURL,
			APIKey:      cfg.GenAI.APIKey,
			MaxTokens:   cfg.GenAI.MaxTokens,
			Temperature: cfg.GenAI.Temperature,
			MaxRetries:  cfg.GenAI.MaxRetries,
			Timeout:     timeout,
		}, log)
	case config.NarrativeProviderGemini:
		gemini, err := NewGeminiGenerator(ctx, GeminiConfig{
			APIKey:      cfg.Gemini.APIKey,
			Model:       cfg.Gemini.Model,
			Temperature: cfg.Gemini.Temperature,
		})
		if err != nil {
			return nil, err
		}
		primary = gemini
	case config.NarrativeProviderFallback, "":
	default:
		return nil, fmt.Errorf("unknown narrative provider %q", cfg.Provider)
	}

	return NewService(primary, fallback, timeout, log), nil
}

// Provider names the primary generator, or the fallback if there is none.
func (s *Service) Provider() string {
	if s.primary == nil {
		return ProviderFallback
	}
	return s.primary.Name()
}

// Generate never fails.
func (s *Service) Generate(ctx context.Context, req Request) *Analysis {
	start := s.now()
	provider := s.Provider()

	analysis := s.tryPrimary(ctx, req)
	if analysis == nil {
		analysis = s.generateFallback(ctx, req)
	}

	analysis.Markdown = ToMarkdown(analysis)
	if html, err := RenderHTML(analysis.Markdown); err == nil {
		analysis.HTML = html
	} else {
		s.logger.Warn("Failed to render narrative HTML", map[string]interface{}{
			"error": err.Error(),
		})
	}
	analysis.GeneratedAt = s.now().UTC()

	metrics.NarrativesGenerated.WithLabelValues(provider, string(analysis.Source)).Inc()
	metrics.NarrativeDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())

	return analysis
}

func (s *Service) tryPrimary(ctx context.Context, req Request) *Analysis {
	if s.primary == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	analysis, err := s.primary.Generate(ctx, req)
	if err != nil {
		s.logger.Warn("Narrative provider failed, using fallback", map[string]interface{}{
			"provider": s.primary.Name(),
			"error":    err.Error(),
		})
		return nil
	}
	if analysis == nil || analysis.Summary == "" {
		s.logger.Warn("Narrative provider returned an empty analysis, using fallback", map[string]interface{}{
			"provider": s.primary.Name(),
		})
		return nil
	}

	analysis.Source = SourceAI
	return analysis
}

func (s *Service) generateFallback(ctx context.Context, req Request) *Analysis {
	if s.fallback != nil {
		analysis, err := s.fallback.Generate(ctx, req)
		if err == nil {
			return analysis
		}
		s.logger.Error("Fallback narrative failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return &Analysis{
		Headline:        "Your churn cost estimate",
		Summary:         fmt.Sprintf("Churn costs an estimated %s in revenue each year.", FormatCurrency(req.Results.AnnualRevenueLost)),
		Insights:        []string{},
		Recommendations: []string{},
		Source:          SourceFallback,
		Provider:        ProviderFallback,
	}
}
