package events

// ChannelEvent is an observable value delivered over channels. It always
// remembers the last notified value (see Latest); replay controls whether new
// listeners receive that value immediately on Listen.
//
// Sends never block the notifier. A plain listener whose channel is full misses
// the value. A conflating listener (ListenLatest) has its oldest buffered value
// replaced instead, so the newest state always reaches it.
type ChannelEvent[T any] struct {
	registry listenerRegistry[T, channelListener[T]]
}

type channelListener[T any] struct {
	send     chan<- T
	conflate chan T // nil for plain listeners
}

// NewChannelEvent creates a ChannelEvent. With sendLastEventOnListen set, a
// listener registered after the first Notify gets the last value right away.
func NewChannelEvent[T any](sendLastEventOnListen bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{
		registry: newListenerRegistry[T, channelListener[T]](sendLastEventOnListen),
	}
}

// Listen registers ch and returns a deregistration function.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}
	return e.listen(channelListener[T]{send: ch})
}

// ListenLatest registers ch as a conflating listener: when ch is full the
// oldest buffered value is discarded to make room for the new one. Use it for
// state streams where the final value matters more than every intermediate one.
func (e *ChannelEvent[T]) ListenLatest(ch chan T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}
	return e.listen(channelListener[T]{send: ch, conflate: ch})
}

func (e *ChannelEvent[T]) listen(l channelListener[T]) func() {
	id, last, replay := e.registry.add(l)
	if replay {
		l.deliver(last)
	}
	return func() { e.registry.remove(id) }
}

// Notify records value and sends it to every listener without blocking.
func (e *ChannelEvent[T]) Notify(value T) {
	for _, l := range e.registry.record(value) {
		l.deliver(value)
	}
}

// Latest returns the last notified value and whether Notify has been called.
func (e *ChannelEvent[T]) Latest() (T, bool) {
	return e.registry.latest()
}

// ListenerCount returns the current number of registered listeners.
func (e *ChannelEvent[T]) ListenerCount() int {
	return e.registry.count()
}

func (l channelListener[T]) deliver(value T) {
	select {
	case l.send <- value:
		return
	default:
	}
	if l.conflate == nil {
		return
	}
	select {
	case <-l.conflate:
	default:
	}
	select {
	case l.conflate <- value:
	default:
	}
}
