// SPDX-License-Identifier: MPL-2.0

package uiserver

import (
	"sync"

	"github.com/invowk/msrun/internal/session"
)

// clientBuffer is the number of notifications queued per client before
// new ones are dropped for it.
const clientBuffer = 256

type (
	// hub fans notifications out to connected event-stream clients.
	hub struct {
		mu      sync.RWMutex
		clients map[*client]struct{}
		closed  bool
	}

	client struct {
		events chan session.Notification
	}
)

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

// register adds a client. It returns nil once the hub is closed.
func (h *hub) register() *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	c := &client{events: make(chan session.Notification, clientBuffer)}
	h.clients[c] = struct{}{}
	return c
}

func (h *hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.events)
	}
}

// broadcast never blocks; a slow client loses the notification.
func (h *hub) broadcast(n session.Notification) (dropped int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.events <- n:
		default:
			dropped++
		}
	}
	return dropped
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// close disconnects every client.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		close(c.events)
		delete(h.clients, c)
	}
}
