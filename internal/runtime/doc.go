// Package runtime contains the conversation step loop.
//
// One Trigger call is one tick: the engine resolves the tenant's active flow,
// claims the session with an optimistic compare-and-set and evaluates nodes
// until it reaches END, a MENU waiting for input, a node without successor, or
// the step budget. A checkpoint is written after every step so a crashed tick
// resumes from the last persisted node.
package runtime
