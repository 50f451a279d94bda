// Package storage persists subscriptions, preference documents and
// notifications.
//
// Layout:
//   - Repository: the durable backend interface ("sqlite", "postgres",
//     "memory" via Open).
//   - Store: the engine-facing facade. It validates writes and keeps a
//     per-recipient write-through cache (populate on miss, invalidate on
//     every write) in front of the Repository.
//
// Writes are simple upserts and soft-deletes; no transaction ever spans
// subscription and notification tables.
package storage
