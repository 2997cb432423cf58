// Package store provides the daemon's durable local state on SQLite:
// the registration identity, the bounded report delivery queue with
// fingerprints of the last sent snapshots, command write-ahead records and
// small bookkeeping flags and counters.
//
// Every write runs inside a transaction so a crash never leaves a partially
// written record. Writes are serialized; reads may run concurrently and
// observe writes made earlier in the same process.
package store
