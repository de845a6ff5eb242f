package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8081", cfg.Port)
	assert.Equal(t, 3*time.Second, cfg.ReconnectDelay)
	assert.Equal(t, ReplyModeWebhook, cfg.ReplyMode)
	assert.Equal(t, float64(1), cfg.SendRate)
	assert.Equal(t, 3, cfg.SendBurst)
	assert.Equal(t, "wabridge", cfg.MongoDatabase)
	assert.Equal(t, "whatsapp.db", cfg.SqlStorePath)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("RECONNECT_DELAY", "500ms")
	t.Setenv("REPLY_MODE", "direct")
	t.Setenv("ASSISTANT_URL", "http://assistant.internal:8000")
	t.Setenv("SEND_RATE", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectDelay)
	assert.Equal(t, ReplyModeDirect, cfg.ReplyMode)
	assert.Equal(t, "http://assistant.internal:8000", cfg.AssistantURL)
	assert.Equal(t, 2.5, cfg.SendRate)
}

func TestLoadRejectsUnknownReplyMode(t *testing.T) {
	t.Setenv("REPLY_MODE", "carrier-pigeon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REPLY_MODE")
}
