package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// maxInputRunes bounds the text sent per request.
const maxInputRunes = 8000

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// RequestsPerSecond throttles calls; 0 means 5.
	RequestsPerSecond float64
}

// OpenAI embeds text through an OpenAI-compatible API.
type OpenAI struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOpenAI returns a provider for cfg, or Unavailable when no key is set.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		logger.Warn("embedding provider disabled: no API key configured")
		return Unavailable{}
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := openai.SmallEmbedding3
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	logger.Info("initializing embedding provider", "model", model, "base_url", clientCfg.BaseURL)
	return &OpenAI{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		logger:  logger,
	}
}

// Embed returns the embedding of text. Any transport or API failure is
// reported as ErrUnavailable so callers degrade instead of failing.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty text: %w", ErrUnavailable)
	}
	if r := []rune(text); len(r) > maxInputRunes {
		text = string(r[:maxInputRunes])
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w: %w", ErrUnavailable, err)
	}

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: o.model,
	})
	if err != nil {
		o.logger.Warn("embedding request failed", "model", o.model, "error", err)
		return nil, fmt.Errorf("embedding request: %w: %w", ErrUnavailable, err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response had no vectors: %w", ErrUnavailable)
	}
	return resp.Data[0].Embedding, nil
}
