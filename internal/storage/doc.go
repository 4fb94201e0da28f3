// Package storage persists reminder events and their per-stage sent flags.
//
// It is the single source of truth for the scheduler: the in-memory timer
// map is a disposable cache rebuilt from these tables on startup. The
// stage claim (pending -> inflight) is a conditional UPDATE, so it stays
// correct even if a second scheduler instance is ever pointed at the same
// database.
package storage
