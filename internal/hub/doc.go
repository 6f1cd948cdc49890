// Package hub merges the event streams of all agent supervisors into one ordered
// stream and fans it out to any number of listeners.
//
// A Hub is built from a fixed agent list and has an explicit lifecycle:
//
//	h := hub.New(agents, hub.DefaultOptions(), logger)
//	h.Start(ctx)
//	defer h.Stop()
//
//	unsubscribe := h.Subscribe(func(ev model.HubEvent) {
//	    // must not block
//	})
//	defer unsubscribe()
//
// Stats batches are enriched with the agent's CPU history before delivery.
// Events of one agent keep their order; events of different agents interleave
// in arrival order, identically for every listener.
package hub
