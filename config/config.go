// Package config centralises runtime configuration for the ordersync service.
package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dinehub/ordersync/errs"
)

// Environment identifies the runtime environment where ordersync operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// RestaurantSettings scopes the service to one tenant.
type RestaurantSettings struct {
	ID      string `yaml:"id"`
	TableID string `yaml:"table_id"`
}

// RealtimeSettings configures the push transport.
type RealtimeSettings struct {
	Endpoint             string        `yaml:"endpoint"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	KeepaliveInterval    time.Duration `yaml:"keepalive_interval"`
}

// RESTSettings configures the POS REST surface shared by the order-list
// resync and the payment tracking fetch.
type RESTSettings struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// PaymentSettings bounds payment confirmation sessions.
type PaymentSettings struct {
	LivenessInterval time.Duration `yaml:"liveness_interval"`
	SessionTimeout   time.Duration `yaml:"session_timeout"`
}

// ResyncSettings bounds the order-list refetch retry loop.
type ResyncSettings struct {
	MaxAttempts int           `yaml:"max_attempts"`
	MaxInterval time.Duration `yaml:"max_interval"`
}

// ServerSettings configures the control and metrics HTTP listener.
type ServerSettings struct {
	Addr string `yaml:"addr"`
}

// TelemetrySettings configures OTLP exporters. An empty endpoint disables
// export entirely.
type TelemetrySettings struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Settings contains the ordersync configuration tree loaded from defaults and
// overrides.
type Settings struct {
	Environment Environment        `yaml:"environment"`
	Restaurant  RestaurantSettings `yaml:"restaurant"`
	Realtime    RealtimeSettings   `yaml:"realtime"`
	REST        RESTSettings       `yaml:"rest"`
	Payment     PaymentSettings    `yaml:"payment"`
	Resync      ResyncSettings     `yaml:"resync"`
	Server      ServerSettings     `yaml:"server"`
	Telemetry   TelemetrySettings  `yaml:"telemetry"`
}

// Default returns the default ordersync configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Restaurant:  RestaurantSettings{TableID: "unknown"},
		Realtime: RealtimeSettings{
			HandshakeTimeout:     10 * time.Second,
			ReconnectBaseDelay:   time.Second,
			MaxReconnectAttempts: 5,
			KeepaliveInterval:    25 * time.Second,
		},
		REST: RESTSettings{
			RequestTimeout: 10 * time.Second,
		},
		Payment: PaymentSettings{
			LivenessInterval: 500 * time.Millisecond,
			SessionTimeout:   30 * time.Second,
		},
		Resync: ResyncSettings{
			MaxAttempts: 4,
			MaxInterval: 10 * time.Second,
		},
		Server: ServerSettings{
			Addr: ":8880",
		},
		Telemetry: TelemetrySettings{
			ServiceName: "ordersync",
		},
	}
}

// FromEnv loads configuration values from environment variables, overriding
// defaults.
func FromEnv() Settings {
	cfg := Default()
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_ENV")); v != "" {
		cfg.Environment = Environment(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_RESTAURANT_ID")); v != "" {
		cfg.Restaurant.ID = v
	}
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_TABLE_ID")); v != "" {
		cfg.Restaurant.TableID = v
	}
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_WS_ENDPOINT")); v != "" {
		cfg.Realtime.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_WS_HANDSHAKE_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Realtime.HandshakeTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_RECONNECT_BASE_DELAY")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Realtime.ReconnectBaseDelay = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_MAX_RECONNECT_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Realtime.MaxReconnectAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_KEEPALIVE_INTERVAL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Realtime.KeepaliveInterval = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_REST_BASE_URL")); v != "" {
		cfg.REST.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_REST_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.REST.RequestTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_PAYMENT_SESSION_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Payment.SessionTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_SERVER_ADDR")); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("ORDERSYNC_SERVICE_NAME")); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	return cfg
}

// Validate performs semantic validation on the loaded configuration.
func (s Settings) Validate(_ context.Context) error {
	if strings.TrimSpace(s.Restaurant.ID) == "" {
		return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage("restaurant id required"))
	}
	if strings.TrimSpace(s.Realtime.Endpoint) == "" {
		return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage("realtime endpoint required"))
	}
	if s.Realtime.HandshakeTimeout <= 0 {
		return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage("handshake timeout must be positive"))
	}
	if s.Realtime.ReconnectBaseDelay <= 0 {
		return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage("reconnect base delay must be positive"))
	}
	if s.Realtime.MaxReconnectAttempts < 1 {
		return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage("max reconnect attempts must be at least 1"))
	}
	if strings.TrimSpace(s.REST.BaseURL) == "" {
		return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage("rest base url required"))
	}
	if s.Payment.SessionTimeout <= 0 {
		return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage("payment session timeout must be positive"))
	}
	if s.Payment.LivenessInterval <= 0 || s.Payment.LivenessInterval >= s.Payment.SessionTimeout {
		return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage("liveness interval must be positive and shorter than the session timeout"))
	}
	if s.Resync.MaxAttempts < 1 {
		return errs.New("config/validate", errs.CodeInvalid, errs.WithMessage("resync max attempts must be at least 1"))
	}
	return nil
}
