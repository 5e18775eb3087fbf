package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigApplyDefaults(t *testing.T) {
	config := Config{APIKey: "test-key"}
	config.ApplyDefaults()

	assert.Equal(t, "text-embedding-3-large", config.EmbedModel)
	assert.Equal(t, "gpt-4o", config.GenModel)
	assert.Equal(t, 64, config.BatchSize)
	assert.Equal(t, 100*time.Millisecond, config.BatchDelay)
	assert.Equal(t, 2, config.RetryAttempts)
}

func TestConfigValidate(t *testing.T) {
	config := Config{}
	config.ApplyDefaults()
	err := config.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	config.APIKey = "test-key"
	require.NoError(t, config.Validate())
}

func TestFakeOracleDeterministic(t *testing.T) {
	ctx := context.Background()
	fake := &FakeOracle{Dim: 16}

	a, err := fake.EmbedQuery(ctx, "users table with email column")
	require.NoError(t, err)
	b, err := fake.EmbedQuery(ctx, "users table with email column")
	require.NoError(t, err)
	other, err := fake.EmbedQuery(ctx, "monthly revenue metric")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, other)
	assert.Len(t, a, 16)
	assert.Equal(t, 3, fake.EmbedCalls)
}

func TestFakeOracleErrors(t *testing.T) {
	ctx := context.Background()
	injected := errors.New("provider down")
	fake := &FakeOracle{EmbedErr: injected, CompleteErr: injected}

	_, err := fake.EmbedTexts(ctx, []string{"a"})
	assert.ErrorIs(t, err, injected)

	_, err = fake.Complete(ctx, "sys", "user", 100, 0)
	assert.ErrorIs(t, err, injected)
}

func TestFakeOracleComplete(t *testing.T) {
	ctx := context.Background()
	fake := &FakeOracle{
		Response: `{"sql": "SELECT 1", "explanation": "trivial"}`,
		Usage:    TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	result, err := fake.Complete(ctx, "system", "user", 512, 0.1)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "SELECT 1")
	assert.Equal(t, 15, result.Usage.TotalTokens)
	assert.Equal(t, "system", fake.LastSystemPrompt)
	assert.Equal(t, "user", fake.LastUserPrompt)
}

func TestEmbedTextsEmptyInput(t *testing.T) {
	fake := &FakeOracle{}
	_, err := fake.EmbedTexts(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}
