package signaling

import "sync"

// roster maps participant handles to their live connections. It is the
// delivery side of the relay: the room registry decides who should receive a
// frame, the roster gets it to them.
//
// Delivery to a handle that has already disconnected is a silent no-op;
// disconnects race with relayed messages and the relay has no acknowledgment
// channel.
type roster struct {
	mu      sync.RWMutex
	clients map[string]*client
}

func newRoster() *roster {
	return &roster{clients: make(map[string]*client)}
}

func (r *roster) add(c *client) {
	r.mu.Lock()
	r.clients[c.handle] = c
	r.mu.Unlock()
}

func (r *roster) remove(handle string) {
	r.mu.Lock()
	delete(r.clients, handle)
	r.mu.Unlock()
}

// unicast delivers msg to one handle. Returns false on a routing miss.
func (r *roster) unicast(handle string, msg wireMessage) bool {
	r.mu.RLock()
	c, ok := r.clients[handle]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	c.enqueue(msg)
	return true
}

// broadcast delivers msg to every listed handle, in sequence order. Unknown
// handles are skipped.
func (r *roster) broadcast(handles []string, msg wireMessage) {
	for _, h := range handles {
		r.unicast(h, msg)
	}
}

func (r *roster) all() []*client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

func (r *roster) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
