// Package syncfeed fans committed change records out to live subscribers.
// Offline clients catch up through the persisted change log; the hub only
// covers the "currently watching" case, so delivery is best effort.
package syncfeed

import (
	"context"
	"sync"

	"lepm/internal/model"
)

const subscriberBuffer = 64

type Hub struct {
	mu     sync.Mutex
	subs   map[int64]chan model.Change
	nextID int64
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int64]chan model.Change)}
}

// Subscribe registers a listener for committed changes. The channel is closed
// when ctx ends or the hub shuts down. A subscriber that stops draining loses
// its oldest pending changes, never blocks the publisher.
func (h *Hub) Subscribe(ctx context.Context) <-chan model.Change {
	ch := make(chan model.Change, subscriberBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
		h.mu.Unlock()
	}()
	return ch
}

// Publish delivers the changes to every subscriber without blocking.
func (h *Hub) Publish(changes []model.Change) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		for _, c := range changes {
			select {
			case ch <- c:
				continue
			default:
			}
			// Full buffer: drop the oldest pending change and retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- c:
			default:
			}
		}
	}
}

// Close shuts the hub down and closes every subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
