package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, "console", cfg.Logging.Format)

	size := cfg.LMTP.GetMaxMessageSize()
	assert.Equal(t, int64(50*1024*1024), size)
	assert.Equal(t, 100, cfg.LMTP.GetMaxRecipients())

	interval, err := cfg.Relay.Queue.GetWorkerInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Minute, interval)

	backoff, err := cfg.Relay.Queue.GetRetryBackoff()
	require.NoError(t, err)
	require.Len(t, backoff, 6)
	assert.Equal(t, time.Minute, backoff[0])
	assert.Equal(t, 24*time.Hour, backoff[5])
}

func TestLoadConfigFromFile(t *testing.T) {
	content := `
[logging]
output = "stdout"
level = "debug"

[lmtp]
addr = ":24"
hostname = "lists.example.com "
max_message_size = 1048576

[relay]
smtp_host = "smtp.example.com:587"
smtp_use_starttls = true
smtp_username = "relay"
smtp_password = "secret"

[relay.queue]
worker_interval = "30s"
batch_size = 10

[digest]
enabled = true
interval = "2h"
min_messages = 5
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := NewDefaultConfig()
	require.NoError(t, LoadConfigFromFile(path, &cfg))

	assert.Equal(t, "stdout", cfg.Logging.Output)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, ":24", cfg.LMTP.Addr)
	// String fields are trimmed on load.
	assert.Equal(t, "lists.example.com", cfg.LMTP.Hostname)
	assert.Equal(t, int64(1048576), cfg.LMTP.GetMaxMessageSize())

	assert.True(t, cfg.Relay.IsConfigured())
	assert.True(t, cfg.Relay.SMTPUseStartTLS)
	assert.True(t, cfg.Relay.GetTLSVerify())

	interval, err := cfg.Relay.Queue.GetWorkerInterval()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, interval)
	assert.Equal(t, 10, cfg.Relay.Queue.GetBatchSize())

	assert.True(t, cfg.Digest.Enabled)
	digestInterval, err := cfg.Digest.GetInterval()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, digestInterval)
	assert.Equal(t, 5, cfg.Digest.GetMinMessages())
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg := NewDefaultConfig()
	err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.toml"), &cfg)
	require.Error(t, err)
}
