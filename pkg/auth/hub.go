package auth

import (
	"sync"

	"github.com/alris/cms-backend/pkg/service"
)

// Hub is the process-wide cell holding the latest session change. Listeners
// are called synchronously, in subscription order, for every published
// event.
type Hub struct {
	mu        sync.Mutex
	last      *service.SessionEvent
	nextID    int
	listeners map[int]func(service.SessionEvent)
	order     []int
}

func NewHub() *Hub {
	return &Hub{
		listeners: map[int]func(service.SessionEvent){},
	}
}

// Subscribe registers fn and returns the function that removes it again.
// Calling the returned function more than once is harmless.
func (h *Hub) Subscribe(fn func(service.SessionEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.order = append(h.order, id)

	var once sync.Once

	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()

			delete(h.listeners, id)
			for i, v := range h.order {
				if v == id {
					h.order = append(h.order[:i:i], h.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (h *Hub) Publish(event service.SessionEvent) {
	h.mu.Lock()
	h.last = &event

	fns := make([]func(service.SessionEvent), 0, len(h.order))
	for _, id := range h.order {
		fns = append(fns, h.listeners[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(event)
	}
}

// Snapshot returns the last published event, if any.
func (h *Hub) Snapshot() (service.SessionEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.last == nil {
		return service.SessionEvent{}, false
	}

	return *h.last, true
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.listeners)
}
