package boundary

import (
	"sync"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/errors"
)

// Wrapper is the host-visible handle for one native instance. Its lifetime
// is governed by the host collector, modeled here as the Retain/Release
// reference count; the last Release triggers finalization.
type Wrapper struct {
	reg       *Registry
	parent    *Wrapper
	inst      nativebridge.Instance
	hostRefs  int
	mu        sync.Mutex
	state     State
	embedded  bool
	finalized bool
}

// NewWrapper creates and registers a wrapper over externally allocated
// instance storage. The returned wrapper holds one host reference on behalf
// of the caller.
func NewWrapper(reg *Registry, inst nativebridge.Instance, state State) (*Wrapper, error) {
	if reg == nil {
		return nil, errors.InvalidInput(errors.PhaseRegistry, "nil registry")
	}
	if !inst.Valid() {
		return nil, errors.InvalidInput(errors.PhaseRegistry, "instance has no storage")
	}
	if state == Invalid {
		return nil, errors.InvalidInput(errors.PhaseRegistry, "cannot create an invalid wrapper")
	}

	w := &Wrapper{
		reg:      reg,
		inst:     inst,
		state:    state,
		hostRefs: 1,
	}
	if err := reg.Register(inst.Addr, w); err != nil {
		return nil, err
	}

	reg.notify(Event{Type: EventWrapped, Wrapper: w, Addr: inst.Addr, State: state})
	return w, nil
}

// NewEmbedded creates a wrapper whose instance storage is allocated together
// with it. Embedded wrappers are always HostOwned and never transition to
// NativeOwned: there is no external pointer to hand to native code.
func NewEmbedded(reg *Registry, heap nativebridge.Heap, typ *nativebridge.TypeInfo) (*Wrapper, error) {
	if reg == nil || heap == nil || typ == nil {
		return nil, errors.InvalidInput(errors.PhaseRegistry, "nil registry, heap, or type")
	}

	addr, err := heap.Alloc(typ.Size)
	if err != nil {
		return nil, errors.AllocationFailed(typ.Size, err)
	}

	inst := nativebridge.Instance{Type: typ, Heap: heap, Addr: addr}
	w := &Wrapper{
		reg:      reg,
		inst:     inst,
		state:    HostOwned,
		embedded: true,
		hostRefs: 1,
	}
	if err := reg.Register(addr, w); err != nil {
		// Undo the allocation; the wrapper never became visible.
		_ = heap.Free(addr)
		return nil, err
	}

	reg.notify(Event{Type: EventWrapped, Wrapper: w, Addr: addr, State: HostOwned})
	return w, nil
}

// State returns the current ownership state.
func (w *Wrapper) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Embedded reports whether the instance storage lives inside the wrapper.
func (w *Wrapper) Embedded() bool {
	return w.embedded
}

// Addr returns the instance address.
func (w *Wrapper) Addr() nativebridge.Address {
	return w.inst.Addr
}

// Instance returns the instance reference without a validity check. Most
// callers want Borrow.
func (w *Wrapper) Instance() nativebridge.Instance {
	return w.inst
}

// HostRefs returns the current host reference count.
func (w *Wrapper) HostRefs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hostRefs
}

// Borrow returns the instance reference for the duration of a call. It fails
// while the wrapper is Invalid or finalized.
func (w *Wrapper) Borrow() (nativebridge.Instance, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized || w.state == Invalid {
		return nativebridge.Instance{}, errors.UseAfterInvalidation(w.typeName(), uint64(w.inst.Addr))
	}
	return w.inst, nil
}

// Invalidate revokes the wrapper pending a reverse transfer. Only a
// HostOwned wrapper can be invalidated.
func (w *Wrapper) Invalidate() error {
	w.mu.Lock()

	if w.finalized || w.state == Invalid {
		w.mu.Unlock()
		return errors.UseAfterInvalidation(w.typeName(), uint64(w.inst.Addr))
	}
	if w.state != HostOwned {
		w.mu.Unlock()
		return errors.InvalidInput(errors.PhaseTransfer, "only a host-owned wrapper can be invalidated")
	}

	w.state = Invalid
	addr := w.inst.Addr
	w.mu.Unlock()

	w.reg.notify(Event{Type: EventInvalidated, Wrapper: w, Addr: addr, State: Invalid})
	return nil
}

// Revalidate restores a revoked wrapper to HostOwned. Revalidating a wrapper
// that is already HostOwned is a no-op, so a second hand-back attempt cannot
// double-transition.
func (w *Wrapper) Revalidate() error {
	w.mu.Lock()

	if w.finalized {
		w.mu.Unlock()
		return errors.UseAfterInvalidation(w.typeName(), uint64(w.inst.Addr))
	}

	switch w.state {
	case HostOwned:
		w.mu.Unlock()
		return nil
	case NativeOwned:
		w.mu.Unlock()
		return errors.InvalidInput(errors.PhaseTransfer, "cannot revalidate a native-owned wrapper")
	}

	w.state = HostOwned
	addr := w.inst.Addr
	w.mu.Unlock()

	w.reg.notify(Event{Type: EventRevalidated, Wrapper: w, Addr: addr, State: HostOwned})
	return nil
}

// Retain increments the host reference count. This is the surface the host
// collector (and control blocks) use; it works in every state, including
// Invalid, because the wrapper object itself stays collectible while revoked.
func (w *Wrapper) Retain() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return
	}
	w.hostRefs++
}

// Release decrements the host reference count. When the count reaches zero
// the finalization hook runs.
func (w *Wrapper) Release() {
	w.mu.Lock()
	if w.finalized || w.hostRefs == 0 {
		w.mu.Unlock()
		return
	}
	w.hostRefs--
	last := w.hostRefs == 0
	w.mu.Unlock()

	if last {
		w.finalize()
	}
}

// setParent ties the wrapper's lifetime to a parent wrapper (the
// reference_internal return policy). The parent reference is released when
// this wrapper finalizes.
func (w *Wrapper) setParent(parent *Wrapper) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.parent = parent
}

// adoptHost flips an existing NativeOwned wrapper to HostOwned and grants
// the caller a host reference. All legality checks happen before this runs.
func (w *Wrapper) adoptHost() {
	w.mu.Lock()
	w.state = HostOwned
	w.hostRefs++
	addr := w.inst.Addr
	w.mu.Unlock()

	w.reg.notify(Event{Type: EventWrapped, Wrapper: w, Addr: addr, State: HostOwned})
}

func (w *Wrapper) typeName() string {
	if w.inst.Type == nil {
		return ""
	}
	return w.inst.Type.Name
}
