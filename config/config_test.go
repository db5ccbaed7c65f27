package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validSettings() Settings {
	cfg := Default()
	cfg.Restaurant.ID = "rest-1"
	cfg.Realtime.Endpoint = "wss://pos.example.com/ws"
	cfg.REST.BaseURL = "https://pos.example.com"
	return cfg
}

func TestDefaultCarriesDocumentedBounds(t *testing.T) {
	cfg := Default()
	require.Equal(t, 10*time.Second, cfg.Realtime.HandshakeTimeout)
	require.Equal(t, time.Second, cfg.Realtime.ReconnectBaseDelay)
	require.Equal(t, 5, cfg.Realtime.MaxReconnectAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.Payment.LivenessInterval)
	require.Equal(t, 30*time.Second, cfg.Payment.SessionTimeout)
	require.Equal(t, "unknown", cfg.Restaurant.TableID)
}

func TestFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("ORDERSYNC_ENV", "Dev")
	t.Setenv("ORDERSYNC_RESTAURANT_ID", "rest-9")
	t.Setenv("ORDERSYNC_WS_ENDPOINT", "wss://alt.example.com/ws")
	t.Setenv("ORDERSYNC_RECONNECT_BASE_DELAY", "250ms")
	t.Setenv("ORDERSYNC_MAX_RECONNECT_ATTEMPTS", "7")
	t.Setenv("ORDERSYNC_PAYMENT_SESSION_TIMEOUT", "45s")

	cfg := FromEnv()
	require.Equal(t, EnvDev, cfg.Environment)
	require.Equal(t, "rest-9", cfg.Restaurant.ID)
	require.Equal(t, "wss://alt.example.com/ws", cfg.Realtime.Endpoint)
	require.Equal(t, 250*time.Millisecond, cfg.Realtime.ReconnectBaseDelay)
	require.Equal(t, 7, cfg.Realtime.MaxReconnectAttempts)
	require.Equal(t, 45*time.Second, cfg.Payment.SessionTimeout)
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("ORDERSYNC_RECONNECT_BASE_DELAY", "soon")
	t.Setenv("ORDERSYNC_MAX_RECONNECT_ATTEMPTS", "-2")

	cfg := FromEnv()
	require.Equal(t, time.Second, cfg.Realtime.ReconnectBaseDelay)
	require.Equal(t, 5, cfg.Realtime.MaxReconnectAttempts)
}

func TestValidateRejectsIncompleteSettings(t *testing.T) {
	cases := map[string]func(*Settings){
		"missing restaurant id": func(s *Settings) { s.Restaurant.ID = "" },
		"missing ws endpoint":   func(s *Settings) { s.Realtime.Endpoint = "" },
		"missing rest base url": func(s *Settings) { s.REST.BaseURL = "" },
		"zero reconnects":       func(s *Settings) { s.Realtime.MaxReconnectAttempts = 0 },
		"liveness past timeout": func(s *Settings) { s.Payment.LivenessInterval = time.Minute },
		"zero resync attempts":  func(s *Settings) { s.Resync.MaxAttempts = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validSettings()
			mutate(&cfg)
			require.Error(t, cfg.Validate(context.Background()))
		})
	}
	require.NoError(t, validSettings().Validate(context.Background()))
}

func TestLoadLayersFileOverEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ordersync.yaml")
	doc := `
restaurant:
  id: rest-42
  table_id: "12"
realtime:
  endpoint: wss://pos.example.com/ws
  handshake_timeout: 8s
rest:
  base_url: https://pos.example.com
payment:
  session_timeout: 20s
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	t.Setenv("ORDERSYNC_SERVICE_NAME", "ordersync-staging")

	cfg, err := Load(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "rest-42", cfg.Restaurant.ID)
	require.Equal(t, "12", cfg.Restaurant.TableID)
	require.Equal(t, 8*time.Second, cfg.Realtime.HandshakeTimeout)
	require.Equal(t, 20*time.Second, cfg.Payment.SessionTimeout)
	require.Equal(t, "ordersync-staging", cfg.Telemetry.ServiceName)
	require.Equal(t, 500*time.Millisecond, cfg.Payment.LivenessInterval, "untouched fields keep defaults")
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadMissingDefaultPathUsesEnv(t *testing.T) {
	t.Setenv("ORDERSYNC_CONFIG", "")
	t.Setenv("ORDERSYNC_RESTAURANT_ID", "rest-3")
	t.Setenv("ORDERSYNC_WS_ENDPOINT", "wss://pos.example.com/ws")
	t.Setenv("ORDERSYNC_REST_BASE_URL", "https://pos.example.com")

	cfg, err := Load(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "rest-3", cfg.Restaurant.ID)
}

func TestLoadInvalidSettingsFail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ordersync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("restaurant:\n  id: \"\"\n"), 0o600))

	_, err := Load(context.Background(), path)
	require.Error(t, err)
}
