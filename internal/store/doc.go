// Package store provides the SQLite-backed document store.
//
// Store implements docstore.Records and docstore.ChunkCache:
//   - device_records: one row per device; the body is a deterministic CBOR
//     map of property lists and version guards optimistic updates
//   - chunk_fragments: zstd-compressed fragments awaiting reassembly
//   - chunk_turds: fragment sets known to be corrupt
//
// # Optimistic updates
//
// UpdateProperty reads body and version inside a transaction, applies the
// caller's function and writes back with `WHERE version = ?`. Zero rows
// affected, SQLITE_BUSY and SQLITE_LOCKED all surface as
// docstore.ErrContention; retrying is the caller's job (internal/queue).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
