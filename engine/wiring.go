package engine

func (e *Engine) wireEventHandlers() {
	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(UpdateRelayedEvent)
		e.relayed.Add(1)
		if e.mirror != nil {
			e.mirror.Enqueue(ev.Update)
		}
	}, EventUpdateRelayed)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(UpdateRejectedEvent)
		e.rejected.Add(1)
		source := ev.ConnID
		if source == "" {
			source = "bus"
		}
		e.logFn("engine: update for order %q from %s rejected: %s", ev.OrderID, source, ev.Reason)
	}, EventUpdateRejected)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ConnectionEvent)
		e.logFn("engine: %s", ev.Detail)
	}, EventMessagingConnected, EventMessagingDisconnected)
}
