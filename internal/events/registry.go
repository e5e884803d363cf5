package events

import "sync"

// listenerRegistry holds the listener set and the replay value shared by
// ChannelEvent and CallbackEvent. L is the listener representation.
type listenerRegistry[T any, L any] struct {
	mu        sync.RWMutex
	listeners map[uint64]L
	nextID    uint64
	replay    bool
	last      T
	hasLast   bool
}

func newListenerRegistry[T any, L any](replay bool) listenerRegistry[T, L] {
	return listenerRegistry[T, L]{
		listeners: make(map[uint64]L),
		replay:    replay,
	}
}

// add registers l and returns its id together with the value that should be
// replayed to it, if any.
func (r *listenerRegistry[T, L]) add(l L) (id uint64, replayValue T, shouldReplay bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id = r.nextID
	r.nextID++
	r.listeners[id] = l
	return id, r.last, r.replay && r.hasLast
}

func (r *listenerRegistry[T, L]) remove(id uint64) {
	r.mu.Lock()
	delete(r.listeners, id)
	r.mu.Unlock()
}

// record stores value as the latest one and returns a snapshot of listeners to
// deliver to outside the lock.
func (r *listenerRegistry[T, L]) record(value T) []L {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = value
	r.hasLast = true
	snapshot := make([]L, 0, len(r.listeners))
	for _, l := range r.listeners {
		snapshot = append(snapshot, l)
	}
	return snapshot
}

func (r *listenerRegistry[T, L]) latest() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.hasLast
}

func (r *listenerRegistry[T, L]) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}
