// Package config loads and validates the telemetryhub configuration
// from JSON or YAML files, with an embedded JSON schema as the first
// validation gate.
package config

import (
	"fmt"
	"time"

	"github.com/c360/telemetryhub/errors"
	"github.com/c360/telemetryhub/rules"
	"github.com/c360/telemetryhub/webhook"
)

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"    yaml:"server"`
	NATS      NATSConfig      `json:"nats"      yaml:"nats"`
	Ingest    IngestConfig    `json:"ingest"    yaml:"ingest"`
	Webhook   WebhookConfig   `json:"webhook"   yaml:"webhook"`
	Broadcast BroadcastConfig `json:"broadcast" yaml:"broadcast"`
	Rules     RulesConfig     `json:"rules"     yaml:"rules"`
	Storage   StorageConfig   `json:"storage"   yaml:"storage"`
}

// ServerConfig covers the HTTP/WebSocket listener and token checks.
type ServerConfig struct {
	Host            string   `json:"host"              yaml:"host"`
	Port            int      `json:"port"              yaml:"port"`
	JWTSecret       string   `json:"jwt_secret"        yaml:"jwt_secret"`
	RevokedTokenIDs []string `json:"revoked_token_ids" yaml:"revoked_token_ids"`
	UserIDs         []string `json:"user_ids"          yaml:"user_ids"`
	ReadTimeoutSec  int      `json:"read_timeout_sec"  yaml:"read_timeout_sec"`
	WriteTimeoutSec int      `json:"write_timeout_sec" yaml:"write_timeout_sec"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// NATSConfig covers the JetStream connection.
type NATSConfig struct {
	URL              string `json:"url"                yaml:"url"`
	Name             string `json:"name"               yaml:"name"`
	Token            string `json:"token"              yaml:"token"`
	MaxReconnects    int    `json:"max_reconnects"     yaml:"max_reconnects"`
	ReconnectWaitSec int    `json:"reconnect_wait_sec" yaml:"reconnect_wait_sec"`
}

// IngestConfig seeds the active-context resolver and its cache.
type IngestConfig struct {
	ActiveEvents     []string `json:"active_events"     yaml:"active_events"`
	ActiveExperiment string   `json:"active_experiment" yaml:"active_experiment"`
	CacheTTLMS       int      `json:"cache_ttl_ms"      yaml:"cache_ttl_ms"`
}

// CacheTTL returns the resolver cache TTL.
func (c IngestConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMS) * time.Millisecond
}

// WebhookConfig covers the dispatcher and its subscriptions.
type WebhookConfig struct {
	ThrottleWindowSec int                    `json:"throttle_window_sec" yaml:"throttle_window_sec"`
	Subscriptions     []webhook.Subscription `json:"subscriptions"       yaml:"subscriptions"`
}

// ThrottleWindow returns the continuous-class throttle window.
func (w WebhookConfig) ThrottleWindow() time.Duration {
	return time.Duration(w.ThrottleWindowSec) * time.Second
}

// BroadcastConfig covers hub timing and buffering.
type BroadcastConfig struct {
	CoalesceWindowMS int `json:"coalesce_window_ms" yaml:"coalesce_window_ms"`
	PingIntervalSec  int `json:"ping_interval_sec"  yaml:"ping_interval_sec"`
	QueueSize        int `json:"queue_size"         yaml:"queue_size"`
}

// CoalesceWindow returns the per-(group, event) emission period.
func (b BroadcastConfig) CoalesceWindow() time.Duration {
	return time.Duration(b.CoalesceWindowMS) * time.Millisecond
}

// PingInterval returns the heartbeat period.
func (b BroadcastConfig) PingInterval() time.Duration {
	return time.Duration(b.PingIntervalSec) * time.Second
}

// RulesConfig carries the threshold rules loaded at startup.
type RulesConfig struct {
	Definitions []rules.Rule `json:"definitions" yaml:"definitions"`
}

// Storage backends.
const (
	StorageModeMemory    = "memory"
	StorageModeJetStream = "jetstream"
)

// StorageConfig selects the datapoint store and the delivery log path.
type StorageConfig struct {
	Mode           string `json:"mode"             yaml:"mode"`
	Stream         string `json:"stream"           yaml:"stream"`
	Subject        string `json:"subject"          yaml:"subject"`
	DeliveryLogDir string `json:"delivery_log_dir" yaml:"delivery_log_dir"`
}

// Default returns a runnable local configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeoutSec:  30,
			WriteTimeoutSec: 30,
		},
		NATS: NATSConfig{
			URL:              "nats://localhost:4222",
			Name:             "telemetryhub",
			MaxReconnects:    10,
			ReconnectWaitSec: 2,
		},
		Ingest: IngestConfig{
			CacheTTLMS: 1000,
		},
		Webhook: WebhookConfig{
			ThrottleWindowSec: 5,
		},
		Broadcast: BroadcastConfig{
			CoalesceWindowMS: 200,
			PingIntervalSec:  30,
			QueueSize:        64,
		},
		Storage: StorageConfig{
			Mode:    StorageModeJetStream,
			Stream:  "TELEMETRY_DATAPOINTS",
			Subject: "telemetry.datapoints.batch",
		},
	}
}

// applyDefaults fills zero values with the Default() equivalents.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.Port == 0 {
		c.Server.Port = def.Server.Port
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = def.Server.ReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = def.Server.WriteTimeoutSec
	}
	if c.NATS.URL == "" {
		c.NATS.URL = def.NATS.URL
	}
	if c.NATS.Name == "" {
		c.NATS.Name = def.NATS.Name
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = def.NATS.MaxReconnects
	}
	if c.NATS.ReconnectWaitSec == 0 {
		c.NATS.ReconnectWaitSec = def.NATS.ReconnectWaitSec
	}
	if c.Ingest.CacheTTLMS == 0 {
		c.Ingest.CacheTTLMS = def.Ingest.CacheTTLMS
	}
	if c.Webhook.ThrottleWindowSec == 0 {
		c.Webhook.ThrottleWindowSec = def.Webhook.ThrottleWindowSec
	}
	if c.Broadcast.CoalesceWindowMS == 0 {
		c.Broadcast.CoalesceWindowMS = def.Broadcast.CoalesceWindowMS
	}
	if c.Broadcast.PingIntervalSec == 0 {
		c.Broadcast.PingIntervalSec = def.Broadcast.PingIntervalSec
	}
	if c.Broadcast.QueueSize == 0 {
		c.Broadcast.QueueSize = def.Broadcast.QueueSize
	}
	if c.Storage.Mode == "" {
		c.Storage.Mode = def.Storage.Mode
	}
	if c.Storage.Stream == "" {
		c.Storage.Stream = def.Storage.Stream
	}
	if c.Storage.Subject == "" {
		c.Storage.Subject = def.Storage.Subject
	}
}

// Validate checks cross-field consistency after defaults are applied.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Storage.Mode != StorageModeMemory && c.Storage.Mode != StorageModeJetStream {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown storage.mode %q", c.Storage.Mode))
	}
	if c.Storage.Mode == StorageModeJetStream && c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"nats.url required for jetstream storage")
	}
	for _, r := range c.Rules.Definitions {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	for _, s := range c.Webhook.Subscriptions {
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}
