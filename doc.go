// Package pace releases concurrent workers to act at precomputed points in
// time, pacing a workload after a recorded or modeled load profile.
//
// A timestamp file holds relative offsets in seconds, measured from a
// shared run-start instant. The Scheduler parses the file once, fixes the
// origin when the run starts and hands every worker, one NextDelay call per
// scheduling opportunity, the time remaining until its next assigned
// offset. ModeShared distributes the sequence across all workers first come
// first served; ModePerWorkerFull replays the full sequence independently
// in every worker.
//
// All Scheduler methods are safe for concurrent use.
// A Worker belongs to a single goroutine.
package pace
