// Package oracle wraps the text-completion and embedding model behind
// queryd's two narrow contracts: order-preserving batched embeddings and a
// JSON chat completion. The implementation rides langchaingo's OpenAI
// client, which also speaks to OpenAI-compatible local servers.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/queryd/internal/logging"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Embedder computes embedding vectors. Results are order-preserving: the
// i-th vector embeds the i-th input.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// TokenUsage reports what a completion cost.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the raw model output plus usage.
type Completion struct {
	Text  string
	Usage TokenUsage
}

// Completer produces a JSON text completion from a system and user prompt.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (*Completion, error)
}

// Config holds oracle configuration.
type Config struct {
	// BaseURL is the OpenAI-compatible API base. Default OpenAI.
	BaseURL string
	// APIKey authenticates against the API.
	APIKey string
	// EmbedModel is the embedding model name.
	EmbedModel string
	// GenModel is the completion model name.
	GenModel string
	// BatchSize bounds one embedding request. Default: 64.
	BatchSize int
	// BatchDelay is the pause between embedding batches, the backpressure
	// mechanism against provider rate limits. Default: 100ms.
	BatchDelay time.Duration
	// RetryAttempts is the per-batch retry budget. Default: 2.
	RetryAttempts int
}

// ApplyDefaults sets defaults for unset fields.
func (c *Config) ApplyDefaults() {
	if c.EmbedModel == "" {
		c.EmbedModel = "text-embedding-3-large"
	}
	if c.GenModel == "" {
		c.GenModel = "gpt-4o"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 64
	}
	if c.BatchDelay == 0 {
		c.BatchDelay = 100 * time.Millisecond
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 2
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: API key required", ErrInvalidConfig)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be > 0", ErrInvalidConfig)
	}
	return nil
}

// Client implements Embedder and Completer.
type Client struct {
	embedder *embeddings.EmbedderImpl
	llm      *openai.LLM
	config   Config
	limiter  *rate.Limiter
	logger   *logging.Logger
}

// NewClient creates an oracle client.
func NewClient(config Config, logger *logging.Logger) (*Client, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	embedOpts := []openai.Option{
		openai.WithToken(config.APIKey),
		openai.WithModel(config.EmbedModel),
		openai.WithEmbeddingModel(config.EmbedModel),
	}
	genOpts := []openai.Option{
		openai.WithToken(config.APIKey),
		openai.WithModel(config.GenModel),
		openai.WithResponseFormat(openai.ResponseFormatJSON),
	}
	if config.BaseURL != "" {
		embedOpts = append(embedOpts, openai.WithBaseURL(config.BaseURL))
		genOpts = append(genOpts, openai.WithBaseURL(config.BaseURL))
	}

	embedLLM, err := openai.New(embedOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(embedLLM,
		embeddings.WithBatchSize(config.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	genLLM, err := openai.New(genOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating completion client: %w", err)
	}

	// One batch per BatchDelay interval, first batch immediate.
	limiter := rate.NewLimiter(rate.Every(config.BatchDelay), 1)

	return &Client{
		embedder: embedder,
		llm:      genLLM,
		config:   config,
		limiter:  limiter,
		logger:   logger.Named("oracle"),
	}, nil
}

// EmbedTexts embeds texts in bounded batches with an inter-batch delay.
// A failing batch is retried with backoff before the whole call fails.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.config.BatchSize {
		end := start + c.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limit: %w", err)
		}

		batchVectors, err := c.embedBatch(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embedding batch at offset %d: %w", start, err)
		}
		if len(batchVectors) != len(batch) {
			return nil, fmt.Errorf("embedding count mismatch: got %d for %d texts", len(batchVectors), len(batch))
		}
		vectors = append(vectors, batchVectors...)
	}

	c.logger.Debug(ctx, "embeddings generated",
		zap.Int("count", len(vectors)),
		zap.String("model", c.config.EmbedModel),
	)
	return vectors, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		vectors, err := c.embedder.EmbedDocuments(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		lastErr = err
		if attempt == c.config.RetryAttempts {
			break
		}
		c.logger.Warn(ctx, "embedding batch failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil, lastErr
}

// EmbedQuery embeds a single text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Complete runs a JSON chat completion.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (*Completion, error) {
	resp, err := c.llm.GenerateContent(ctx,
		[]llms.MessageContent{
			llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
			llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
		},
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}
	choice := resp.Choices[0]

	usage := TokenUsage{
		PromptTokens:     intFromInfo(choice.GenerationInfo, "PromptTokens"),
		CompletionTokens: intFromInfo(choice.GenerationInfo, "CompletionTokens"),
		TotalTokens:      intFromInfo(choice.GenerationInfo, "TotalTokens"),
	}

	c.logger.Debug(ctx, "completion generated",
		zap.String("model", c.config.GenModel),
		zap.Int("total_tokens", usage.TotalTokens),
	)
	return &Completion{Text: choice.Content, Usage: usage}, nil
}

func intFromInfo(info map[string]any, key string) int {
	switch v := info[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

var (
	_ Embedder  = (*Client)(nil)
	_ Completer = (*Client)(nil)
)
