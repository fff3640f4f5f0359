// Package agentloop drives the per-session reasoning cycle of the
// coding agent: each turn moves through think, act, observe and reflect,
// recording reasoning steps, tool executions, observations and one
// reflection into the session's state, then reports whether the session
// should continue.
//
// The Coordinator owns one session. Its collaborators are all
// interfaces: a Classifier plans the think phase, an llmrunner.Runner
// executes the act phase (reporting tool calls back through the
// coordinator's tracking methods), an EventSink receives progress for
// real-time display, and a statestore.Manager holds the state (plain
// in-memory or auto-persisting, the coordinator cannot tell).
//
// Turns on one session are strictly sequential; coordinators for
// different sessions share nothing and run in parallel.
package agentloop
