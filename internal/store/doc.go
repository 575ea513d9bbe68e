// Package store is the local coin table and its change stream.
//
// Records live in a durable backend (SQLite by default, PostgreSQL
// optionally) and are mirrored in memory in insertion order. Writes are
// serialized: one Write call at a time, each inside a backend transaction.
// Every committed write that changed something is delivered to each
// subscriber as one ordered batch of deletions, insertions and
// modifications.
//
// A subscriber mirroring the previous snapshot applies a batch by removing
// Deletions in descending order, then inserting at Insertions in ascending
// order, then replacing rows at Modifications. Deletions index the previous
// snapshot; Insertions and Modifications index the new one.
package store
