// Package cycletimer implements a bounded-window cyclic task timer.
//
// # Overview
//
// A Timer runs a user callback repeatedly at a fixed interval, but only
// while the wall clock lies inside a start/stop window. The window repeats
// a fixed number of cycles, sliding forward by a constant cycle period
// each time, after which the timer retires itself.
//
// A typical use: fire a camera every 5 minutes between 22:40 and 06:15,
// every night, for the number of days spanned by the configured range.
//
// # Lifecycle
//
// Init creates the timer's execution unit in a suspended state; nothing
// runs until Resume. Suspend freezes the unit at its next suspension point
// (the wait-for-start poll or the post-callback sleep); Resume continues
// it. Delete cancels the unit unconditionally. After the last cycle the
// unit terminates itself and clears its handle; completion is observable
// via Done(), State() or the handle becoming empty.
//
// # Collaborators
//
// The wall clock (integer epoch seconds), the blocking sleep primitive and
// the execution-unit spawner are small interfaces with system-backed
// defaults, so tests can drive the loop deterministically.
//
// # Concurrency
//
// Each Timer owns exactly one execution unit; independent timers share no
// state. Parameter access is serialized by the timer, and reconfiguration
// (other than the interval multiplier) is rejected while a unit is live.
package cycletimer
