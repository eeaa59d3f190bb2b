package job

// Subscriber is one live observer connection attached to a job.
//
// Send must not block: implementations queue the event internally and return
// an error when the connection is dead or its buffer is full. A Send error
// removes the subscriber from the hub.
type Subscriber interface {
	Send(ev Event) error
	Close()
}

// Hub is the per-job fan-out list of live subscribers. It is owned by the
// job's actor and every method is called from inside the actor's critical
// section, so it needs no locking of its own.
type Hub struct {
	subs map[Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[Subscriber]struct{}),
	}
}

// Register adds a subscriber and immediately sends it the current snapshot,
// so a late joiner always starts from the current truth.
func (h *Hub) Register(sub Subscriber, snapshot Event) {
	h.subs[sub] = struct{}{}
	if err := sub.Send(snapshot); err != nil {
		delete(h.subs, sub)
		sub.Close()
	}
}

// Unregister removes a subscriber without closing it.
func (h *Hub) Unregister(sub Subscriber) {
	delete(h.subs, sub)
}

// Broadcast sends the event to every subscriber. A failing subscriber is
// dropped and closed; delivery to the others is unaffected.
func (h *Hub) Broadcast(ev Event) {
	for sub := range h.subs {
		if err := sub.Send(ev); err != nil {
			delete(h.subs, sub)
			sub.Close()
		}
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	return len(h.subs)
}

// CloseAll closes and removes every subscriber.
func (h *Hub) CloseAll() {
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.Close()
	}
}
