package ws

import "sync"

// Listener receives every inbound frame.
type Listener func(frame []byte)

// Subscription identifies a registered listener.
type Subscription uint64

type entry struct {
	id Subscription
	fn Listener
}

// Registry is an ordered set of listeners. Listeners are invoked in the
// order they were added.
type Registry struct {
	mu      sync.RWMutex
	next    Subscription
	entries []entry
}

// Add registers fn and returns its handle.
func (r *Registry) Add(fn Listener) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries = append(r.entries, entry{id: r.next, fn: fn})
	return r.next
}

// Remove unregisters the listener. It reports whether the listener was
// registered; removing twice is a no-op.
func (r *Registry) Remove(sub Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == sub {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Notify calls every listener with frame. Listeners run outside the lock,
// so they may add or remove listeners; changes apply to the next frame.
func (r *Registry) Notify(frame []byte) {
	r.mu.RLock()
	snapshot := r.entries
	r.mu.RUnlock()

	for _, e := range snapshot {
		e.fn(frame)
	}
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Clear removes every listener.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
}
