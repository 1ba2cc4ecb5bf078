package gamelink

import "sync"

// SubscriptionRegistry tracks which topics the client currently wants live
// updates for. Subscriptions are intent, not connection state: they survive
// any disconnection and drive resynchronization after reconnects. No network
// or timer logic lives here.
type SubscriptionRegistry struct {
	mu     sync.Mutex
	active map[Topic]bool
	order  []Topic // activation order, for deterministic resync
}

// NewSubscriptionRegistry creates an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		active: make(map[Topic]bool),
	}
}

// Subscribe marks topic active and reports whether it was newly activated.
func (r *SubscriptionRegistry) Subscribe(topic Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[topic] {
		return false
	}
	r.active[topic] = true
	r.order = append(r.order, topic)
	return true
}

// Unsubscribe marks topic inactive and reports whether it was active.
func (r *SubscriptionRegistry) Unsubscribe(topic Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active[topic] {
		return false
	}
	delete(r.active, topic)
	for i, t := range r.order {
		if t == topic {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// IsActive reports whether topic is currently subscribed.
func (r *SubscriptionRegistry) IsActive(topic Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[topic]
}

// HasAnyActive reports whether any topic is subscribed. Every reconnection
// decision consults this: with nothing subscribed there is nothing worth
// keeping a connection alive for.
func (r *SubscriptionRegistry) HasAnyActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active) > 0
}

// ActiveTopics returns the active topics in activation order.
func (r *SubscriptionRegistry) ActiveTopics() []Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	topics := make([]Topic, len(r.order))
	copy(topics, r.order)
	return topics
}
