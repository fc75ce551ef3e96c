/*
Package tendril is a multi-tenant conversation flow engine for messaging channels.

Each inbound event (tenant, channel, phone, payload) is run against the
tenant's active flow: a versioned graph of START, MESSAGE, SET_VAR, BRANCH,
MENU and END nodes. The engine mutates a per-conversation session and returns
outbound actions for the host to deliver; it never sends anything itself.

# Guarantees

  - Idempotency: an event whose id equals the last processed event id is skipped.
  - Optimistic concurrency: concurrent events for the same session race on a
    last_activity compare-and-set; the loser fails fast with no writes.
  - Bounded work: a tick evaluates at most MaxStepsPerTick nodes.
  - Durability: a checkpoint is written after every step.
  - Tenant isolation: every store call is scoped to one tenant.

# Usage

	flow, err := tendril.ParseFlow(definition)
	if err != nil {
		log.Fatal(err)
	}

	eng, err := tendril.New(tendril.WithFlows(flow))
	if err != nil {
		log.Fatal(err)
	}

	res, err := eng.Trigger(ctx, domain.TriggerRequest{
		TenantID:  "acme",
		ChannelID: "whatsapp",
		Phone:     "+5511999990000",
		Payload:   map[string]any{"text": "hi"},
		EventID:   "wamid.123",
	})
	for _, msg := range res.Messages() {
		send(msg)
	}

Stores default to memory. Redis, SQL and file adapters live under pkg/adapters.
*/
package tendril
