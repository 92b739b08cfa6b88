package boundary

import (
	"sync"

	"go.uber.org/zap"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/errors"
)

// Registry maps native instance addresses to their wrappers, enforcing at
// most one wrapper per live instance. It is lifecycle-scoped: create one per
// boundary layer, pass it explicitly to Protocol and SharedBridge, and Close
// it when the host runtime shuts down.
type Registry struct {
	wrappers  map[nativebridge.Address]*Wrapper
	observers []Observer
	mu        sync.Mutex
	obsMu     sync.RWMutex
	closed    bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		wrappers: make(map[nativebridge.Address]*Wrapper, 64),
	}
}

// Lookup returns the wrapper currently registered for addr.
func (r *Registry) Lookup(addr nativebridge.Address) (*Wrapper, bool) {
	if addr == 0 {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.wrappers[addr]
	return w, ok
}

// Register associates addr with w. Registering an address that already
// resolves to a live wrapper is a programming error.
func (r *Registry) Register(addr nativebridge.Address, w *Wrapper) error {
	if addr == 0 {
		return errors.InvalidInput(errors.PhaseRegistry, "address 0 is reserved")
	}
	if w == nil {
		return errors.InvalidInput(errors.PhaseRegistry, "nil wrapper")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.Closed(errors.PhaseRegistry, "registry")
	}
	if _, ok := r.wrappers[addr]; ok {
		return errors.DoubleRegistration(w.typeName(), uint64(addr))
	}

	r.wrappers[addr] = w
	return nil
}

// Unregister removes the wrapper for addr. It is called from finalization
// paths before instance storage is released, so a freed address never
// resolves to a stale wrapper.
func (r *Registry) Unregister(addr nativebridge.Address) {
	if addr == 0 {
		return
	}

	r.mu.Lock()
	delete(r.wrappers, addr)
	r.mu.Unlock()
}

// Len returns the number of registered wrappers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.wrappers)
}

// Each iterates over all registered wrappers. The registry lock is not held
// during fn, so wrappers observed may be finalized concurrently.
func (r *Registry) Each(fn func(nativebridge.Address, *Wrapper) bool) {
	r.mu.Lock()
	snapshot := make(map[nativebridge.Address]*Wrapper, len(r.wrappers))
	for addr, w := range r.wrappers {
		snapshot[addr] = w
	}
	r.mu.Unlock()

	for addr, w := range snapshot {
		if !fn(addr, w) {
			return
		}
	}
}

// Subscribe adds an observer for wrapper lifecycle events.
func (r *Registry) Subscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	r.observers = append(r.observers, o)
}

// Unsubscribe removes an observer.
func (r *Registry) Unsubscribe(o Observer) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	for i, obs := range r.observers {
		if obs == o {
			r.observers = append(r.observers[:i], r.observers[i+1:]...)
			return
		}
	}
}

// Close finalizes every remaining wrapper and stops accepting registrations.
// Host-owned instances are destroyed; native-owned instances are left to the
// native side.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	remaining := make([]*Wrapper, 0, len(r.wrappers))
	for _, w := range r.wrappers {
		remaining = append(remaining, w)
	}
	r.mu.Unlock()

	if len(remaining) > 0 {
		Logger().Debug("registry close: finalizing remaining wrappers",
			zap.Int("count", len(remaining)))
	}
	for _, w := range remaining {
		w.finalize()
	}
	return nil
}

func (r *Registry) notify(e Event) {
	r.obsMu.RLock()
	defer r.obsMu.RUnlock()
	for _, o := range r.observers {
		o.OnBoundaryEvent(e)
	}
}
