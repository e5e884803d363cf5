package events

// CallbackEvent delivers values to callbacks synchronously on the notifying
// goroutine. Callbacks run outside the internal lock and may deregister
// themselves.
type CallbackEvent[T any] struct {
	registry listenerRegistry[T, func(T)]
}

// NewCallbackEvent creates a CallbackEvent. With sendLastEventOnListen set, a
// callback registered after the first Notify is invoked with the last value
// before Listen returns.
func NewCallbackEvent[T any](sendLastEventOnListen bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{
		registry: newListenerRegistry[T, func(T)](sendLastEventOnListen),
	}
}

// Listen registers callback and returns a deregistration function.
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}
	id, last, replay := e.registry.add(callback)
	if replay {
		callback(last)
	}
	return func() { e.registry.remove(id) }
}

// Notify invokes every registered callback with value.
func (e *CallbackEvent[T]) Notify(value T) {
	for _, callback := range e.registry.record(value) {
		callback(value)
	}
}

// ListenerCount returns the current number of registered callbacks.
func (e *CallbackEvent[T]) ListenerCount() int {
	return e.registry.count()
}
