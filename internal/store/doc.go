// Package store provides SQLite-backed history of harness runs.
//
// The store is append-only:
//   - Runs: one row per run with its verdict and phase trace
//   - Injections: the injection trace of a run, one row per artifact
//   - Evidence: log lines that matched the error signature, with the
//     artifact they were attributed to
//
// # Ordering
//
// Rows within a run carry a seq INTEGER assigned by the harness. All reads
// use ORDER BY seq so results are identical no matter the insertion order.
// Runs are numbered by the database in insertion order.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// JSON columns hold canonical JSON produced by internal/canonical.
package store
