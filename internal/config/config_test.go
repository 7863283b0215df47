package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, SourceFixture, cfg.MessageSource)
	assert.Equal(t, 10*time.Second, cfg.CollaboratorTimeout)
	assert.Equal(t, 2*time.Second, cfg.ClockSkewTolerance)
	assert.Equal(t, 500, cfg.ThreadCacheSize)
	assert.Equal(t, ClassifierKeyword, cfg.HandoffClassifier)
	assert.False(t, cfg.AIAutoReply)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("MESSAGE_SOURCE", "nats")
	t.Setenv("COLLABORATOR_TIMEOUT", "3s")
	t.Setenv("THREAD_CACHE_SIZE", "50")
	t.Setenv("AI_AUTO_REPLY", "true")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DEFAULT_LLM", "openai")
	t.Setenv("HANDOFF_PHRASES", "refund, ,  emergency ")
	t.Setenv("CORS_ORIGINS", "https://inbox.example.com")

	cfg := Load()

	assert.Equal(t, SourceNATS, cfg.MessageSource)
	assert.Equal(t, 3*time.Second, cfg.CollaboratorTimeout)
	assert.Equal(t, 50, cfg.ThreadCacheSize)
	assert.True(t, cfg.AIAutoReply)
	assert.Equal(t, "sk-test", cfg.LLMAPIKey())
	assert.Equal(t, []string{"refund", "emergency"}, cfg.HandoffPhrases)
	assert.Equal(t, []string{"https://inbox.example.com"}, cfg.CORSOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("THREAD_CACHE_SIZE", "lots")
	t.Setenv("COLLABORATOR_TIMEOUT", "soon")

	cfg := Load()
	assert.Equal(t, 500, cfg.ThreadCacheSize)
	assert.Equal(t, 10*time.Second, cfg.CollaboratorTimeout)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.MessageSource = "carrier-pigeon"
	cfg.HandoffClassifier = ClassifierLLM
	cfg.AnthropicAPIKey = ""
	cfg.CollaboratorTimeout = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MESSAGE_SOURCE")
	assert.Contains(t, err.Error(), "HANDOFF_CLASSIFIER=llm")
	assert.Contains(t, err.Error(), "COLLABORATOR_TIMEOUT")
}
