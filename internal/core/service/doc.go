// Package service provides domain services for mesh2gram.
//
// Domain services contain pure business logic and orchestrate operations
// on domain models. They define interfaces for storage dependencies,
// allowing for dependency injection and testability.
//
// This package contains:
//
//   - PairingService: Pairing secret lifecycle and paired session lookup
//   - PriceService: Bitcoin spot price retrieval with graceful degradation
package service
