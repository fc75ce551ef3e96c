package tendril_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/pkg/domain"
)

// ExampleNew_memory runs a menu flow entirely in memory.
func ExampleNew_memory() {
	flow, err := tendril.ParseFlow([]byte(`
name: welcome
tenant_id: acme
nodes:
  start: {type: START, next: hello}
  hello: {type: MESSAGE, text: "Hello {{payload.name}}!", next: main}
  main:
    type: MENU
    prompt: What do you need?
    options:
      1: {label: Opening hours, action: SHOW_HOURS}
      2: {label: Goodbye, next: bye}
  bye: {type: END}
`))
	if err != nil {
		log.Fatal(err)
	}

	eng, err := tendril.New(tendril.WithFlows(flow))
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	send := func(eventID string, payload map[string]any) *domain.TriggerResult {
		res, err := eng.Trigger(ctx, domain.TriggerRequest{
			TenantID:  "acme",
			ChannelID: "whatsapp",
			Phone:     "+5511999990000",
			Payload:   payload,
			EventID:   eventID,
		})
		if err != nil {
			log.Fatal(err)
		}
		return res
	}

	for _, msg := range send("e1", map[string]any{"text": "hi", "name": "Ana"}).Messages() {
		fmt.Println(msg)
	}
	res := send("e2", map[string]any{"text": "2"})
	fmt.Println("ended:", res.Ended)
	// Output:
	// Hello Ana!
	// What do you need?
	// 1) Opening hours
	// 2) Goodbye
	// ended: true
}
