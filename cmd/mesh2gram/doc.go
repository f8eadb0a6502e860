// Package main provides the entry point for mesh2gram.
//
// The gateway process:
//
//   - Keeps a resilient TCP session to a Meshtastic device
//   - Mirrors a mesh channel into a Telegram group and back
//   - Pairs individual nodes with private chats via one-time secrets
//   - Exposes Prometheus metrics when configured
//
// Usage:
//
//	mesh2gram [flags]
//	mesh2gram --config /path/to/config.yaml
//
// On first run without a configured primary chat the gateway starts in
// setup mode; sending !id in the target group completes the setup and
// restarts the components in-process.
package main
