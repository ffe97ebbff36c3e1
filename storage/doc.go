// Package storage implements interfaces.Store over an embedded SQLite
// database.
//
// The monotonic allocations the store is responsible for (per-wallet
// session version, per-session attempt number and timeline sequence) are
// performed as SELECT MAX(..)+1 inside the same transaction as the insert,
// under a store-level write mutex. SQLite serializes writers anyway; the
// mutex keeps the read-then-insert pairs from interleaving between
// connections. Uniqueness is additionally enforced by the schema.
package storage
