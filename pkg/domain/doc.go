/*
Package domain contains the core domain models of the Tendril conversation engine.

It defines the versioned flow graph a tenant publishes, the per-conversation
Session the engine advances, the outbound actions it emits and the error
taxonomy shared by every adapter. This package is kept pure and free of
external dependencies like I/O or persistence, following Hexagonal
Architecture principles.

# Key Entities

  - Flow: An immutable, versioned graph of Nodes owned by one tenant.
  - Node: A point in the graph (START, MESSAGE, SET_VAR, BRANCH, MENU, END).
  - Session: Mutable state for one (tenant, channel, phone) conversation.
  - EvalContext: The read-only {payload, vars, config} view used by expressions and templates.
  - OutboundAction: What the host should deliver (SEND_MESSAGE, SET_VAR, END).
*/
package domain
