// Package engine provides the cook farm scheduler.
// The implementation is split across multiple files:
// - scheduler.go: run lifecycle, worker startup, serial fallback, finalization
// - pool.go: worker pool sizing
// - dispatch.go: round-robin dispatch loop and sync servicing
// - drain.go: stopping idle workers and collecting their results
// - merge.go: folding worker fragments into the authoritative stores
// - monitor.go: crash detection and abort
// - logs.go: worker log replay and crash marker scanning
// - spawn.go: worker process spawning
// - safegroup.go: panic-safe reaper goroutines
// - factory.go: dependency wiring
package engine
