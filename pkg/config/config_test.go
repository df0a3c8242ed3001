package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, cfg.Session.QRTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Session.ReconnectDelay.Duration)
	assert.Equal(t, 5, cfg.Session.MaxReconnectAttempts)
	assert.Equal(t, 8*time.Second, cfg.Dispatch.MessageDelay.Duration)
	assert.Equal(t, 10, cfg.Dispatch.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.BatchPause.Duration)
	assert.Equal(t, 3, cfg.Webhook.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Webhook.ItemPause.Duration)
	assert.Equal(t, 60*time.Minute, cfg.Dedup.Retention.Duration)
	assert.Equal(t, 100, cfg.Logs.History)
	assert.Equal(t, filepath.Join(cfg.DataDir, "session.db"), cfg.Session.StorePath)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `{
		"data_dir": "/tmp/wagate-test",
		"gateway": {"port": 7000},
		"dispatch": {"message_delay": "2s", "batch_size": 4},
		"webhook": {"url": "http://file.example/hook"}
	}`)
	t.Setenv("WAGATE_DISPATCH_BATCH_SIZE", "6")
	t.Setenv("WAGATE_WEBHOOK_RETRY_INTERVAL", "250ms")
	t.Setenv("WAGATE_TEMPLATES_DIRS", "a,b")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Gateway.Port)
	assert.Equal(t, 2*time.Second, cfg.Dispatch.MessageDelay.Duration)
	assert.Equal(t, 6, cfg.Dispatch.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Webhook.RetryInterval.Duration)
	assert.Equal(t, "http://file.example/hook", cfg.Webhook.URL)
	assert.Equal(t, []string{"a", "b"}, cfg.Templates.Dirs)
	assert.Equal(t, "/tmp/wagate-test/gateway.db", cfg.Logs.DBPath)
	assert.Equal(t, "/tmp/wagate-test/contacts", cfg.ContactsDir())
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"gateway":`},
		{name: "bad duration", body: `{"dispatch": {"message_delay": "soon"}}`},
		{name: "zero batch", body: `{"dispatch": {"batch_size": 0}}`},
		{name: "negative retries", body: `{"webhook": {"max_retries": -1}}`},
		{name: "port", body: `{"gateway": {"port": 70000}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 1m30s ")))
	assert.Equal(t, 90*time.Second, d.Duration)

	out, err := D(8 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "8s", string(out))
}

func TestWebhookOverrideFromEnvironment(t *testing.T) {
	t.Setenv(WebhookOverrideEnv, " https://env.example.com/hook ")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com/hook", cfg.Webhook.Override)
	assert.Empty(t, cfg.Webhook.URL)
}
