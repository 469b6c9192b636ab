package store

// Package store provides the local key-value persistence layer and the
// write queue that serializes mutations per storage key.
//
// It currently supports:
//   - SQLite (single kv table, WAL)
//   - File backend (one JSON blob per key, atomic rename)
