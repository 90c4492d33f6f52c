// Package history persists the conversation log and uploaded file records
// across restarts. Snapshots are written to a BoltDB file: messages live in
// one bucket keyed by big-endian position so iteration preserves order, and
// file records live in a second bucket keyed by id.
package history
