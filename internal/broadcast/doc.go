// Package broadcast implements the event bus: the single serialization point of the fanout core.
//
// One goroutine owns every mutation of the presence registry, topic table, question and answer
// tables and vote counters, fed by a command channel (no locks on the write path).
// Answer admission against the dedup filter happens on the caller's goroutine before the
// command is enqueued, so the actor never waits on a shared store.
// Events are handed to subscribers fire-and-forget; per-connection writers absorb slow clients.
// Reads go straight to the RW-locked stores and never enter the actor.
package broadcast
