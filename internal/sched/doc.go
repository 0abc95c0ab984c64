package sched

// Package sched contains the dispatch pipeline: the scanner that polls the
// store, the dispatcher that routes by status, and the two device
// schedulers (cooperative waiting-time, bounded pool) that serialize
// execution per device.
