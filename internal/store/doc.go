// Package store persists encoded script states.
//
// A snapshot is the canonical encoding produced by script.State.Encode, keyed
// by the script instance that owns it. The SQLite implementation keeps the
// latest snapshot per key plus an append-only log of every save, so an
// instance can be rewound to any earlier save. The Redis implementation in
// redisstore keeps only the latest snapshot.
//
// # Ordering
//
// Every save is stamped with a logical sequence number, never a timestamp.
// Listings are ordered by seq ASC, key ASC COLLATE BINARY so that two stores
// fed the same saves list them identically.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
