package config

import (
	"errors"
	"os"

	"github.com/Pilotkosinus/mesh2gram/internal/storage"
)

// Verify validates the configuration.
func Verify(cfg *Config) error {
	if err := verifyMesh(&cfg.Mesh); err != nil {
		return err
	}
	if err := verifyTelegram(&cfg.Telegram); err != nil {
		return err
	}
	return verifyStorage(&cfg.Storage)
}

func verifyMesh(cfg *MeshSection) error {
	if cfg.Host == "" {
		return errors.New("mesh.host is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return errors.New("mesh.port must be a valid TCP port")
	}
	// Meshtastic devices expose channel slots 0-7.
	if cfg.ChannelIndex > 7 {
		return errors.New("mesh.channel_index must be between 0 and 7")
	}
	if cfg.ReconnectBaseDelay > cfg.ReconnectMaxDelay {
		return errors.New("mesh.reconnect_base_delay exceeds mesh.reconnect_max_delay")
	}
	return nil
}

func verifyTelegram(cfg *TelegramSection) error {
	if cfg.Token == "" {
		return errors.New("telegram.token is required")
	}
	return nil
}

func verifyStorage(cfg *storage.Config) error {
	if cfg.Dir == "" {
		return errors.New("storage.dir is required")
	}

	// Check if the data directory exists or can be created.
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}
	return nil
}
