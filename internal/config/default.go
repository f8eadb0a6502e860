package config

import (
	"time"

	"github.com/Pilotkosinus/mesh2gram/internal/storage"
)

// Default configuration values.
const (
	DefaultMeshPort     = 4403
	DefaultChannelIndex = 1

	DefaultProbeTimeout         = 2 * time.Second
	DefaultNetworkCheckInterval = 5 * time.Second
	DefaultReadyWindow          = 30 * time.Second
	DefaultHeartbeatInterval    = 10 * time.Second
	DefaultReconnectBaseDelay   = 3 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default gateway configuration.
func Default() *Config {
	return &Config{
		Mesh: MeshSection{
			Port:                 DefaultMeshPort,
			ChannelIndex:         DefaultChannelIndex,
			ProbeTimeout:         DefaultProbeTimeout,
			NetworkCheckInterval: DefaultNetworkCheckInterval,
			ReadyWindow:          DefaultReadyWindow,
			HeartbeatInterval:    DefaultHeartbeatInterval,
			ReconnectBaseDelay:   DefaultReconnectBaseDelay,
			ReconnectMaxDelay:    DefaultReconnectMaxDelay,
		},
		Storage: storage.DefaultConfig(),
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
