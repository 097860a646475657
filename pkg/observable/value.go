// Package observable publishes a value to subscribers after every change.
package observable

import "sync"

// Value holds the current state and fans each new value out to subscribers.
// Callbacks run synchronously on the publishing goroutine, in subscription order,
// and must not call Set on the same Value.
type Value[T any] struct {
	mu      sync.RWMutex
	current T
	nextID  int
	subs    map[int]func(T)
	order   []int
	publish sync.Mutex
}

// New returns a Value seeded with initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{current: initial, subs: make(map[int]func(T))}
}

// Current returns the latest published value.
func (v *Value[T]) Current() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Set stores next and notifies every subscriber.
func (v *Value[T]) Set(next T) {
	v.publish.Lock()
	defer v.publish.Unlock()

	v.mu.Lock()
	v.current = next
	callbacks := make([]func(T), 0, len(v.order))
	for _, id := range v.order {
		callbacks = append(callbacks, v.subs[id])
	}
	v.mu.Unlock()

	for _, fn := range callbacks {
		fn(next)
	}
}

// Subscribe registers fn and returns a function that removes it.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.order = append(v.order, id)
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subs, id)
			for i, existing := range v.order {
				if existing == id {
					v.order = append(v.order[:i], v.order[i+1:]...)
					break
				}
			}
		})
	}
}
