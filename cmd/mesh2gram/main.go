// Package main provides the entry point for mesh2gram.
//
// mesh2gram bridges a Meshtastic mesh radio and a Telegram bot: channel
// broadcasts mirror into a group chat and back, and individual nodes
// pair with private chats through a one-time secret.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/Pilotkosinus/mesh2gram/internal/gateway"
	"github.com/Pilotkosinus/mesh2gram/internal/infra/buildinfo"
	"github.com/Pilotkosinus/mesh2gram/internal/infra/shutdown"
	"github.com/Pilotkosinus/mesh2gram/internal/telemetry/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newApp creates the CLI application.
func newApp() *cli.App {
	return &cli.App{
		Name:    "mesh2gram",
		Usage:   "Meshtastic to Telegram gateway",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				EnvVars: []string{"MESH2GRAM_CONFIG"},
				Value:   "/etc/mesh2gram/config.yaml",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level: debug, info, warn, error",
				EnvVars: []string{"MESH2GRAM_LOG_LEVEL"},
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format: json, text",
				EnvVars: []string{"MESH2GRAM_LOG_FORMAT"},
				Value:   "json",
			},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Show detailed version information",
				Action: func(c *cli.Context) error {
					info := buildinfo.Get()
					fmt.Printf("mesh2gram %s\n  commit:  %s\n  built:   %s\n  go:      %s\n",
						info.Version, info.Commit, info.BuildTime, info.GoVersion)
					return nil
				},
			},
		},
	}
}

// run starts the gateway and blocks until a signal or a fatal error.
func run(c *cli.Context) error {
	log := logger.New(logger.Config{
		Level:  c.String("log-level"),
		Format: c.String("log-format"),
		Output: os.Stdout,
	})

	log.Info("starting mesh2gram",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", c.String("config"))

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- gateway.Run(ctx, gateway.Options{
			ConfigPath: c.String("config"),
			Logger:     log,
		})
	}()

	sh := shutdown.NewHandler(15 * time.Second)
	sh.OnShutdown(func(shutdownCtx context.Context) error {
		log.Info("shutting down gateway")
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	})

	sigErr := make(chan error, 1)
	go func() { sigErr <- sh.Wait() }()

	select {
	case err := <-errCh:
		// The gateway stopped on its own, e.g. invalid configuration.
		if err != nil {
			return err
		}
		log.Info("gateway stopped")
		return nil
	case err := <-sigErr:
		if err != nil {
			return err
		}
		log.Info("gateway stopped gracefully")
		return nil
	}
}
