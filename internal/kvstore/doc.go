// Package kvstore persists small string values in the scanstation SQLite state
// database.
//
// It is the durable key-value collaborator behind per-session crop parameters.
// Writes are committed before the call returns and are retried with backoff when
// SQLite reports the database as busy.
package kvstore
