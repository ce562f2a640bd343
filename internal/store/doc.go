// Package store provides SQLite-backed local state for capability
// reconciliation.
//
// Tables:
//   - identities: the selected account and agent public key per chain
//   - pending_capabilities: the single pending grant per (account, chain)
//   - runs, checkpoints: per-run checkpoint history for resume and audit
//
// The pending record is the only mutable artifact that reconciliation
// shares across invocations. It is written when a grant is requested and
// deleted once the matching active record is observed on the relay.
//
// # Concurrency
//
// The store is not safe for concurrent invocations from separate
// processes beyond what SQLite locking gives; callers run one
// reconciliation at a time per database path.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
