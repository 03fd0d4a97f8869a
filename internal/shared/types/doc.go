// Package types provides shared data structures for applaunchd.
//
// This package defines core types used across all launcher components,
// ensuring type safety and consistent data structures.
//
// Core Types:
//   - App: Known application plus its activation state
//   - RuntimeHandle: Backend-owned in-flight activation data
//   - Entry: Catalog listing shape for API consumers
//   - Event: Unified lifecycle notification
//
// State Management:
//   - Status: App status enum (inactive, starting, running)
//   - ActivationMethod: Launch strategy enum (process, dbus, systemd)
//
// An App's status and runtime handle always change together: the handle is
// non-nil exactly while the status is not Inactive, and only the backend
// that owns the current activation attempt mutates either field. The
// compare-and-transition helpers (BeginActivation, MarkRunning,
// ClearActivation) enforce at-most-once transitions under concurrent
// delivery of backend liveness signals.
package types
