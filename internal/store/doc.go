package store

// Package store persists tasks and devices.
//
// The scheduling core consumes it through the Store interface; the only
// production backend is SQLite. Status writes are conditioned on the
// expected current status, which is how the status authority enforces the
// task state machine against concurrent writers.
