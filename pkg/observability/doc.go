/*
Package observability turns engine lifecycle hooks into metrics and logs.

Metrics registers Prometheus collectors and exposes them as
domain.LifecycleHooks; LogHooks writes the same events to a slog.Logger.
Both can be merged and passed to the engine with WithLifecycleHooks.
*/
package observability
