package engine

import "sync"

// subscriberBuffer is the channel depth for each subscriber.
const subscriberBuffer = 64

// hub fans values out to subscribers without ever blocking the publisher.
type hub[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan T
}

func (h *hub[T]) subscribe() (int, <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]chan T)
	}
	h.nextID++
	ch := make(chan T, subscriberBuffer)
	h.subs[h.nextID] = ch
	return h.nextID, ch
}

func (h *hub[T]) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		close(ch)
		delete(h.subs, id)
	}
}

func (h *hub[T]) publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- v:
		default: // Subscriber is behind; drop.
		}
	}
}
