package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XLEOS_API_URL", "https://api.xleos.com/")
	t.Setenv("XLEOS_TRANSPORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://api.xleos.com", cfg.Backend.BaseURL)
	assert.Equal(t, "wss://api.xleos.com", cfg.Backend.WSBaseURL)
	assert.Equal(t, TransportPull, cfg.Backend.Transport)
	assert.Equal(t, 2*time.Second, cfg.Backend.PollInterval)
	assert.Equal(t, 30, cfg.Backend.PollMaxAttempts)
	assert.Equal(t, 1000, cfg.Backend.MaxScriptLength)
	assert.Equal(t, 2, cfg.Auth.BootstrapRetries)
	assert.Equal(t, 1500*time.Millisecond, cfg.Auth.RetryDelay)
	assert.Equal(t, "Sheet1!A:G", cfg.Waitlist.SheetRange)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("XLEOS_TRANSPORT", "PUSH")
	t.Setenv("XLEOS_POLL_INTERVAL", "250")
	t.Setenv("XLEOS_PUSH_IDLE_TIMEOUT", "45s")
	t.Setenv("GOOGLE_PRIVATE_KEY", `line1\nline2`)
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://xleos.com, ,http://localhost:3000")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, TransportPush, cfg.Backend.Transport)
	assert.Equal(t, 250*time.Millisecond, cfg.Backend.PollInterval)
	assert.Equal(t, 45*time.Second, cfg.Backend.PushIdleTimeout)
	assert.Equal(t, "line1\nline2", cfg.Waitlist.GooglePrivateKey)
	assert.Equal(t, []string{"https://xleos.com", "http://localhost:3000"}, cfg.Server.AllowedOrigins)
}

func TestLoad_InvalidTransport(t *testing.T) {
	t.Setenv("XLEOS_TRANSPORT", "carrier-pigeon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XLEOS_TRANSPORT")
}

func TestLoad_NonPositivePollInterval(t *testing.T) {
	for _, v := range []string{"0", "-5s"} {
		t.Setenv("XLEOS_POLL_INTERVAL", v)

		_, err := Load()
		require.Error(t, err, "interval %q", v)
		assert.Contains(t, err.Error(), "XLEOS_POLL_INTERVAL")
	}
}

func TestDeriveWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8000", DeriveWSURL("http://localhost:8000"))
	assert.Equal(t, "wss://api.xleos.com", DeriveWSURL("https://api.xleos.com"))
	assert.Equal(t, "", DeriveWSURL(""))
}

func TestWaitlistConfig_SheetsEnabled(t *testing.T) {
	assert.False(t, WaitlistConfig{SheetID: "x"}.SheetsEnabled())
	assert.True(t, WaitlistConfig{SheetID: "x", GoogleEmail: "svc@x", GooglePrivateKey: "k"}.SheetsEnabled())
}
