package boundary

import (
	"go.uber.org/zap"

	nativebridge "github.com/wippyai/native-bridge"
)

// finalize is the hook invoked when the host collector destroys a wrapper
// (the reference count reaches zero, or the registry shuts down). It
// unregisters the address before releasing storage, then dispatches the
// destruction path on the ownership state.
//
// finalize is idempotent and may run on any goroutine, including handle
// finalizer goroutines.
func (w *Wrapper) finalize() {
	w.mu.Lock()
	if w.finalized {
		w.mu.Unlock()
		return
	}
	w.finalized = true
	state := w.state
	inst := w.inst
	parent := w.parent
	w.parent = nil
	w.hostRefs = 0
	w.state = Invalid
	w.mu.Unlock()

	// The address must never resolve to this wrapper once storage can be
	// reused, so unregister before any destruction call.
	w.reg.Unregister(inst.Addr)
	w.reg.notify(Event{Type: EventFinalized, Wrapper: w, Addr: inst.Addr, State: state})

	switch state {
	case HostOwned, Invalid:
		// Host provenance: run the destructor, then release storage.
		// Embedded storage was allocated with the wrapper and dies here too.
		// An Invalid wrapper reaching zero references means its outstanding
		// transfer handle was dropped; destruction still belongs to the host.
		if inst.Type != nil && inst.Type.Destructor != nil {
			inst.Type.Destructor(inst.Addr)
		}
		if inst.Heap != nil {
			if err := inst.Heap.Free(inst.Addr); err != nil {
				Logger().Warn("finalize: free failed",
					zap.Uint64("addr", uint64(inst.Addr)),
					zap.String("type", w.typeName()),
					zap.Error(err))
			}
		}
		w.reg.notify(Event{Type: EventDestroyed, Wrapper: w, Addr: inst.Addr, State: state})

	case NativeOwned:
		// Non-owning view: the native side destroys the instance on its own
		// schedule, via DestroyNative or a raw destruction call.
	}

	if parent != nil {
		parent.Release()
	}
}

// DestroyNative performs the native side's manual destruction of an
// instance, keeping the registry synchronized so the freed address never
// resolves to a stale wrapper.
//
// Precondition (caller-upheld, not runtime-enforced): the instance must not
// be host-owned. Destroying a host-owned instance this way is the documented
// undefined-behavior hazard of raw destruction calls; this function logs the
// violation when it can observe one and proceeds.
func DestroyNative(reg *Registry, inst nativebridge.Instance) error {
	if !inst.Valid() {
		return nil
	}

	if reg != nil {
		if w, ok := reg.Lookup(inst.Addr); ok && w.State() == HostOwned {
			Logger().Warn("raw native destruction of a host-owned instance",
				zap.Uint64("addr", uint64(inst.Addr)),
				zap.String("type", w.typeName()))
		}
		retireWrapper(reg, inst.Addr)
	}

	return inst.Destroy()
}

// retireWrapper takes the wrapper registered for addr out of circulation
// without running host destruction: native-side destruction is about to free
// the address, and it must never resolve to a stale wrapper afterwards.
func retireWrapper(reg *Registry, addr nativebridge.Address) {
	w, ok := reg.Lookup(addr)
	if !ok {
		return
	}

	w.mu.Lock()
	if w.finalized {
		w.mu.Unlock()
		return
	}
	w.finalized = true
	w.state = Invalid
	w.hostRefs = 0
	parent := w.parent
	w.parent = nil
	w.mu.Unlock()

	reg.Unregister(addr)
	reg.notify(Event{Type: EventFinalized, Wrapper: w, Addr: addr, State: NativeOwned})
	if parent != nil {
		parent.Release()
	}
}
