// Package domain defines the core domain models for mesh2gram.
//
// Domain models are pure value objects and entities without any
// IO dependencies or framework coupling. This package contains:
//
//   - PendingSecret: A pairing secret announced on the mesh, awaiting
//     confirmation from Telegram
//   - PairedSession: A confirmed mesh-node-to-Telegram-chat pairing
//   - Command: Parsed mesh and chat text commands
//   - Errors: Domain-specific error definitions
package domain
