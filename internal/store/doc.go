// Package store is a SQLite cache of the last applied inbox state.
//
// It holds the conversation list in directory order and the confirmed
// messages of conversations that were opened. Provisional messages are never
// written. The backend stays authoritative: the cache is overwritten on every
// applied refresh and is only read when the host runs offline.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks instead of failing
//   - foreign_keys=ON: Messages cascade with their conversation
package store
