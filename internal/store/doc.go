// Package store provides SQLite-backed durable storage for keepers.
//
// One database holds any number of named keepers and registries:
//   - Keepers: configuration, cursor, sweep height and notification nonce
//   - Keeper words: packed last-serviced heights, one 32-byte row per word
//   - Registries: owner-gated ordered address lists (keeper.Directory)
//   - Notifications: append-only log of every notification a keeper emitted
//   - Services: append-only log of every resource a keeper serviced
//
// # Atomicity
//
// Keeper.Commit writes state, words and both logs in a single transaction,
// so an interrupted upkeep leaves no partial record.
//
// # Integers
//
// SQLite integers are signed 64-bit. Heights and counters are uint64 in Go
// and are stored bit-for-bit as int64, so values above MaxInt64 round-trip
// but sort as negative numbers in SQL.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
