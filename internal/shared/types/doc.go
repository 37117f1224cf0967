// Package types provides the data structures shared by the registry components.
//
// Core Types:
//   - Record: one tracked application bundle
//   - Kind: downloaded or signed
//   - SigningStatus: signing lifecycle state with optional failure reason
//   - Metadata: caller-supplied descriptive fields for a new record
//   - Event: a registry change delivered through the change feed
//   - Source: an application source list entry
//
// Signing status transitions are validated by CanTransition:
//
//	unsigned ──▶ signing ──▶ signed
//	               │  ▲        │
//	               ▼  │        │
//	             failed ◀──────┘ (re-sign goes back through signing)
package types
