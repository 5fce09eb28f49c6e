// Package clicksource delivers map click events to subscribers.
package clicksource

import (
	"sync"

	"github.com/mohammed-shakir/coordinate-info/internal/core/model"
)

type Handler func(model.ClickEvent)

type Source interface {
	// Subscribe registers h; the returned func removes it and is safe to call twice.
	Subscribe(h Handler) (unsubscribe func())
}

// Hub fans events out to its subscribers in subscription order.
type Hub struct {
	mu   sync.RWMutex
	next uint64
	subs []subscription
}

type subscription struct {
	id uint64
	h  Handler
}

var _ Source = (*Hub)(nil)

func NewHub() *Hub { return &Hub{} }

func (h *Hub) Subscribe(fn Handler) func() {
	h.mu.Lock()
	h.next++
	id := h.next
	h.subs = append(h.subs, subscription{id: id, h: fn})
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

// Emit delivers ev synchronously to every current subscriber.
func (h *Hub) Emit(ev model.ClickEvent) {
	h.mu.RLock()
	subs := make([]Handler, len(h.subs))
	for i, s := range h.subs {
		subs[i] = s.h
	}
	h.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subs {
		if s.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}
