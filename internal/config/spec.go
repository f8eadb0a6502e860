// Package config defines the gateway configuration structure.
package config

import (
	"time"

	"github.com/Pilotkosinus/mesh2gram/internal/storage"
)

// Config is the root configuration for mesh2gram.
type Config struct {
	Mesh     MeshSection     `koanf:"mesh"`
	Telegram TelegramSection `koanf:"telegram"`
	Storage  storage.Config  `koanf:"storage"`
	Metrics  MetricsSection  `koanf:"metrics"`
	Log      LogSection      `koanf:"log"`
}

// MeshSection configures the mesh device connection.
type MeshSection struct {
	// Host is the Meshtastic device address.
	Host string `koanf:"host"`

	// Port is the TCP API port.
	Port int `koanf:"port"`

	// ChannelIndex is the broadcast channel the gateway relays.
	ChannelIndex uint32 `koanf:"channel_index"`

	// ChannelName, when set, is resolved against the device channel
	// table at connect time and overrides ChannelIndex.
	ChannelName string `koanf:"channel_name"`

	// ProbeTimeout bounds one reachability probe.
	ProbeTimeout time.Duration `koanf:"probe_timeout"`

	// NetworkCheckInterval paces probes while the device is offline.
	NetworkCheckInterval time.Duration `koanf:"network_check_interval"`

	// ReadyWindow bounds the device boot absorption.
	ReadyWindow time.Duration `koanf:"ready_window"`

	// HeartbeatInterval paces liveness writes on a live session.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// ReconnectBaseDelay and ReconnectMaxDelay bound the retry backoff.
	ReconnectBaseDelay time.Duration `koanf:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `koanf:"reconnect_max_delay"`
}

// TelegramSection configures the Telegram side.
type TelegramSection struct {
	// Token is the bot API token.
	Token string `koanf:"token"`

	// PrimaryChatID is the group chat bridged to the mesh channel.
	// Zero puts the gateway into setup mode until !id completes it.
	PrimaryChatID int64 `koanf:"primary_chat_id"`
}

// MetricsSection configures the Prometheus endpoint.
type MetricsSection struct {
	// Addr is the listen address for /metrics. Empty disables the
	// endpoint.
	Addr string `koanf:"addr"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SetupMode reports whether the gateway still needs its primary chat.
func (c *Config) SetupMode() bool {
	return c.Telegram.PrimaryChatID == 0
}
