/*
Package ports defines the driven ports (interfaces) for the Tendril engine.

These interfaces decouple the core logic from external implementations, allowing
the engine to work with various storage backends, flow sources and transports.

# Key Interfaces

  - FlowStore: Resolves the tenant's active, versioned flow.
  - SessionStore: Persists sessions with an atomic last_activity compare-and-set.
  - ConfigProvider: Supplies the read-only per-tenant configuration map.
  - ActionRouter: Handles named menu actions and always returns a reply.
  - Triggerer: The inbound surface transports (HTTP, MCP, CLI) drive.
*/
package ports
