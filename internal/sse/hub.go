// Package sse fans live document activity out to connected owner consoles.
package sse

import "sync"

// Event is one console notification: a type tag and a pre-marshalled JSON
// payload.
type Event struct {
	Type string
	Data string
}

// Hub is an in-memory broadcaster keyed by topic. Topics are owner account
// IDs, so each console only ever sees its own documents' activity.
type Hub struct {
	mu   sync.Mutex
	subs map[string][]chan Event
}

func New() *Hub {
	return &Hub{subs: make(map[string][]chan Event)}
}

// Subscribe returns a buffered event channel for the topic and a function
// that detaches it again.
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, 16)
	h.mu.Lock()
	h.subs[topic] = append(h.subs[topic], ch)
	h.mu.Unlock()
	return ch, func() { h.detach(topic, ch) }
}

func (h *Hub) detach(topic string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.subs[topic]
	for i, c := range list {
		if c == ch {
			list[i] = list[len(list)-1]
			list = list[:len(list)-1]
			break
		}
	}
	if len(list) == 0 {
		delete(h.subs, topic)
	} else {
		h.subs[topic] = list
	}
}

// Publish delivers the event to every subscriber on the topic. Sends never
// block: a console that stopped reading just misses events, the tracking
// path does not wait for it.
func (h *Hub) Publish(topic string, event Event) {
	h.mu.Lock()
	targets := append([]chan Event(nil), h.subs[topic]...)
	h.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
		}
	}
}
