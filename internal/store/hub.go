package store

import (
	"strings"
	"sync"
)

const subscriptionBuffer = 64

// Subscription delivers change events for one ref prefix. Close it when the
// owning loop exits.
type Subscription struct {
	prefix Ref
	ch     chan Event
	hub    *hub
}

// C is the event channel. It is closed when the subscription is closed or
// dropped for not being drained.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

type hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscription]struct{})}
}

func (h *hub) subscribe(prefix Ref) *Subscription {
	sub := &Subscription{
		prefix: prefix,
		ch:     make(chan Event, subscriptionBuffer),
		hub:    h,
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	close(sub.ch)
}

// deliver fans events out to matching subscriptions. Sends happen under the
// hub lock and never block: a subscriber whose buffer is full has stopped
// draining and is dropped so commits never wait on a dead client.
func (h *hub) deliver(events []Event) {
	if len(events) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		for _, evt := range events {
			if !strings.HasPrefix(string(evt.Ref), string(sub.prefix)) {
				continue
			}
			select {
			case sub.ch <- evt:
			default:
				delete(h.subs, sub)
				close(sub.ch)
			}
			if _, ok := h.subs[sub]; !ok {
				break
			}
		}
	}
}
