package narrative

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"churn-calc/internal/calculator"
	"churn-calc/internal/common/config"
	"churn-calc/internal/common/errors"
	"churn-calc/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func baselineRequest() Request {
	return NewRequest("Acme Outfitters", calculator.CalculatorInputs{
		AverageOrderValue: 100,
		NumberOfCustomers: 1000,
		PurchaseFrequency: 2,
		ChurnRate:         75,
	})
}

const validReply = `{"headline":"Churn is your biggest cost","summary":"You lose $150,000 a year.","insights":["one"," ","two"],"recommendations":["win-back"]}`

// ==========================
// Prompt and reply parsing
// ==========================

func TestBuildPrompt_IncludesFigures(t *testing.T) {
	prompt := BuildPrompt(baselineRequest())

	assert.Contains(t, prompt, "Acme Outfitters")
	assert.Contains(t, prompt, "Revenue lost per year: $150,000")
	assert.Contains(t, prompt, "Revenue lost per month: $12,500")
	assert.Contains(t, prompt, "Annual churn rate: 75.0%")
	assert.Contains(t, prompt, "Reduce churn by 25% (to 56.25%): save $37,500 per year, $112,500 over 3 years")
	assert.Contains(t, prompt, "Size: medium")
	assert.Contains(t, prompt, "Churn severity: critical")
	assert.NotContains(t, prompt, "Gross margin")
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantErr  bool
		headline string
	}{
		{name: "plain json", text: validReply, headline: "Churn is your biggest cost"},
		{name: "fenced json", text: "```json\n" + validReply + "\n```", headline: "Churn is your biggest cost"},
		{name: "trailing comma", text: `{"headline":"H","summary":"S","insights":["a",],}`, headline: "H"},
		{name: "missing summary", text: `{"headline":"H"}`, wantErr: true},
		{name: "empty", text: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysis, err := ParseReply(tt.text)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.headline, analysis.Headline)
			assert.Equal(t, SourceAI, analysis.Source)
		})
	}
}

func TestParseReply_DropsBlankItems(t *testing.T) {
	analysis, err := ParseReply(validReply)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, analysis.Insights)
}

func TestFormatCurrency(t *testing.T) {
	assert.Equal(t, "$150,000", FormatCurrency(150000))
	assert.Equal(t, "$260.00", FormatCurrency(260))
	assert.Equal(t, "$0.00", FormatCurrency(0))
}

// ==========================
// Fallback templates
// ==========================

func TestFallbackGenerator_Critical(t *testing.T) {
	g, err := NewFallbackGenerator()
	require.NoError(t, err)

	analysis, err := g.Generate(context.Background(), baselineRequest())
	require.NoError(t, err)

	assert.Equal(t, "Acme Outfitters is losing $150,000 a year to customer churn", analysis.Headline)
	assert.Contains(t, analysis.Summary, "Cutting churn by 50% would keep $75,000 a year")
	assert.Len(t, analysis.Insights, 3)
	assert.Len(t, analysis.Recommendations, 3)
	assert.Equal(t, SourceFallback, analysis.Source)
}

func TestFallbackGenerator_ByProfile(t *testing.T) {
	g, err := NewFallbackGenerator()
	require.NoError(t, err)

	req := NewRequest("", calculator.CalculatorInputs{
		AverageOrderValue: 600,
		NumberOfCustomers: 60000,
		PurchaseFrequency: 2,
		ChurnRate:         30,
	})
	analysis, err := g.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, analysis.Headline, "Your store retains customers well")
	assert.Contains(t, analysis.Insights[len(analysis.Insights)-1], "enterprise scale")
	assert.Contains(t, analysis.Recommendations[len(analysis.Recommendations)-1], "concierge")
}

func TestFallbackGenerator_CompanyNameIsLiteral(t *testing.T) {
	fallback, err := NewFallbackGenerator()
	require.NoError(t, err)
	svc := NewService(nil, fallback, time.Second, logger.NewNoOpLogger())

	req := baselineRequest()
	req.CompanyName = "**ACME** [win a prize](https://evil.example)"
	analysis := svc.Generate(context.Background(), req)

	assert.NotContains(t, analysis.HTML, "<a")
	assert.NotContains(t, analysis.HTML, "<strong>")
	assert.Contains(t, analysis.HTML, "**ACME** [win a prize](https://evil.example) is losing $150,000")
}

func TestEscapeMarkdown(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Acme Outfitters", want: "Acme Outfitters"},
		{in: "Mary-Jane's Co.", want: "Mary-Jane's Co."},
		{in: "[x](https://evil)", want: `\[x\]\(https://evil\)`},
		{in: "**bold** _it_ `code`", want: "\\*\\*bold\\*\\* \\_it\\_ \\`code\\`"},
		{in: "a | b # c", want: `a \| b \# c`},
		{in: "<https://evil>", want: `\<https://evil\>`},
		{in: "![img](x)", want: `\!\[img\]\(x\)`},
		{in: "line\n# heading", want: `line \# heading`},
		{in: `back\slash`, want: `back\\slash`},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, EscapeMarkdown(tt.in))
		})
	}
}

func TestBuildPrompt_EscapesCompanyName(t *testing.T) {
	req := baselineRequest()
	req.CompanyName = "[x](https://evil)"
	assert.Contains(t, BuildPrompt(req), `analysis for \[x\]\(https://evil\).`)
}

func TestFallbackGenerator_DegenerateInput(t *testing.T) {
	g, err := NewFallbackGenerator()
	require.NoError(t, err)

	analysis, err := g.Generate(context.Background(), NewRequest("", calculator.CalculatorInputs{}))
	require.NoError(t, err)
	assert.Equal(t, "We need a little more data to size your churn", analysis.Headline)
	assert.Empty(t, analysis.Insights)
}

func TestNewFallbackGeneratorFromYAML_Invalid(t *testing.T) {
	_, err := NewFallbackGeneratorFromYAML([]byte("headlines:\n  critical: \"{{.Nope\"\n"))
	assert.Error(t, err)

	_, err = NewFallbackGeneratorFromYAML([]byte("headlines: {}\n"))
	assert.Error(t, err)
}

// ==========================
// Gateway generator
// ==========================

func newGateway(url string, retries int) *GatewayGenerator {
	return NewGatewayGenerator(GatewayConfig{
		BaseURL:     url,
		APIKey:      "k",
		MaxTokens:   800,
		Temperature: 0.4,
		MaxRetries:  retries,
		Timeout:     2 * time.Second,
	}, logger.NewNoOpLogger())
}

func TestGatewayGenerator_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ai/generate", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(800), body["max_tokens"])
		assert.Contains(t, body["prompt"], "Acme Outfitters")

		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": validReply})
	}))
	defer server.Close()

	analysis, err := newGateway(server.URL, 2).Generate(context.Background(), baselineRequest())
	require.NoError(t, err)
	assert.Equal(t, "Churn is your biggest cost", analysis.Headline)
	assert.Equal(t, ProviderGateway, analysis.Provider)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGatewayGenerator_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := newGateway(server.URL, 3).Generate(context.Background(), baselineRequest())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNarrativeGenerationFailed))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGatewayGenerator_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newGateway(server.URL, 1).Generate(ctx, baselineRequest())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeNarrativeTimeout))
}

func TestGatewayGenerator_UnusableReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": ""})
	}))
	defer server.Close()

	_, err := newGateway(server.URL, 0).Generate(context.Background(), baselineRequest())
	assert.True(t, errors.HasCode(err, errors.ErrCodeNarrativeGenerationFailed))
}

// ==========================
// Gemini generator
// ==========================

type fakeModels struct {
	text   string
	err    error
	model  string
	config *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, _ []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}},
		}},
	}, nil
}

func TestGeminiGenerator_Generate(t *testing.T) {
	models := &fakeModels{text: validReply}
	g := newGeminiGenerator(models, GeminiConfig{Temperature: 0.4})

	analysis, err := g.Generate(context.Background(), baselineRequest())
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, analysis.Provider)
	assert.Equal(t, DefaultGeminiModel, models.model)
	assert.Equal(t, "application/json", models.config.ResponseMIMEType)
	require.NotNil(t, models.config.Temperature)
	assert.InDelta(t, 0.4, *models.config.Temperature, 1e-6)
}

func TestGeminiGenerator_Error(t *testing.T) {
	g := newGeminiGenerator(&fakeModels{err: stderrors.New("quota exceeded")}, GeminiConfig{})

	_, err := g.Generate(context.Background(), baselineRequest())
	assert.True(t, errors.HasCode(err, errors.ErrCodeNarrativeGenerationFailed))
}

func TestNewGeminiGenerator_RequiresKey(t *testing.T) {
	_, err := NewGeminiGenerator(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}

// ==========================
// Service
// ==========================

type stubGenerator struct {
	analysis *Analysis
	err      error
	block    bool
}

func (s *stubGenerator) Name() string { return "stub" }

func (s *stubGenerator) Generate(ctx context.Context, _ Request) (*Analysis, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.analysis, s.err
}

func newTestService(t *testing.T, primary Generator, timeout time.Duration) *Service {
	fallback, err := NewFallbackGenerator()
	require.NoError(t, err)
	return NewService(primary, fallback, timeout, logger.NewNoOpLogger())
}

func TestService_UsesPrimary(t *testing.T) {
	primary := &stubGenerator{analysis: &Analysis{Headline: "AI headline", Summary: "AI summary", Insights: []string{"i"}}}
	svc := newTestService(t, primary, time.Second)

	analysis := svc.Generate(context.Background(), baselineRequest())
	assert.Equal(t, SourceAI, analysis.Source)
	assert.Equal(t, "AI headline", analysis.Headline)
	assert.Contains(t, analysis.Markdown, "## AI headline")
	assert.Contains(t, analysis.HTML, "<h2>AI headline</h2>")
	assert.Contains(t, analysis.HTML, "<li>i</li>")
	assert.False(t, analysis.GeneratedAt.IsZero())
}

func TestService_FallsBack(t *testing.T) {
	tests := []struct {
		name    string
		primary Generator
	}{
		{name: "no primary", primary: nil},
		{name: "primary error", primary: &stubGenerator{err: stderrors.New("boom")}},
		{name: "empty analysis", primary: &stubGenerator{analysis: &Analysis{Headline: "only"}}},
		{name: "nil analysis", primary: &stubGenerator{}},
		{name: "primary timeout", primary: &stubGenerator{block: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, tt.primary, 20*time.Millisecond)

			analysis := svc.Generate(context.Background(), baselineRequest())
			require.NotNil(t, analysis)
			assert.Equal(t, SourceFallback, analysis.Source)
			assert.Contains(t, analysis.Headline, "$150,000")
			assert.NotEmpty(t, analysis.HTML)
		})
	}
}

func TestService_EscapesRawHTML(t *testing.T) {
	primary := &stubGenerator{analysis: &Analysis{Headline: "H", Summary: "<script>alert(1)</script>"}}
	analysis := newTestService(t, primary, time.Second).Generate(context.Background(), baselineRequest())
	assert.NotContains(t, analysis.HTML, "<script>")
}

func TestNewServiceFromConfig(t *testing.T) {
	cfg := newNarrativeConfig("fallback")
	svc, err := NewServiceFromConfig(context.Background(), cfg, logger.NewNoOpLogger())
	require.NoError(t, err)
	assert.Equal(t, ProviderFallback, svc.Provider())

	cfg = newNarrativeConfig("gateway")
	cfg.GenAI.BaseURL = "http://localhost:1"
	svc, err = NewServiceFromConfig(context.Background(), cfg, logger.NewNoOpLogger())
	require.NoError(t, err)
	assert.Equal(t, ProviderGateway, svc.Provider())

	_, err = NewServiceFromConfig(context.Background(), newNarrativeConfig("oracle"), logger.NewNoOpLogger())
	assert.Error(t, err)
}

func newNarrativeConfig(provider string) config.NarrativeConfig {
	var cfg config.NarrativeConfig
	cfg.Provider = provider
	cfg.Timeout = 1000
	return cfg
}
