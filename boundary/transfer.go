package boundary

import (
	"runtime"
	"sync"

	"go.uber.org/zap"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/errors"
)

// deleterTag records the provenance carried by a transfer deleter.
type deleterTag uint8

const (
	tagNativeOwns deleterTag = iota + 1
	tagHostOwns
)

// TransferDeleter is the tagged deleter attached to every exclusive handle
// leaving the host. The tag records which side owned the instance at
// transfer time, which is what makes Host→Native transfer always legal.
type TransferDeleter struct {
	dtor nativebridge.Destructor
	w    *Wrapper
	tag  deleterTag
}

// NativeOwns tags a deleter with native provenance: destroying the handle
// runs the captured destructor and releases storage directly.
func NativeOwns(dtor nativebridge.Destructor) TransferDeleter {
	return TransferDeleter{tag: tagNativeOwns, dtor: dtor}
}

// HostOwns tags a deleter with host provenance: the wrapper is revoked while
// the handle is outstanding, and destroying the handle notifies the host to
// finalize the wrapper rather than freeing memory directly.
func HostOwns(w *Wrapper) TransferDeleter {
	return TransferDeleter{tag: tagHostOwns, w: w}
}

// HostSide reports whether the deleter carries host provenance.
func (d TransferDeleter) HostSide() bool {
	return d.tag == tagHostOwns
}

// Wrapper returns the revoked wrapper for a host-provenance deleter.
func (d TransferDeleter) Wrapper() *Wrapper {
	return d.w
}

func (d TransferDeleter) String() string {
	switch d.tag {
	case tagNativeOwns:
		return "native-owns"
	case tagHostOwns:
		return "host-owns"
	default:
		return "untagged"
	}
}

// dispatch runs the destruction path selected by the tag.
func (d TransferDeleter) dispatch(reg *Registry, inst nativebridge.Instance) error {
	switch d.tag {
	case tagNativeOwns:
		// The address is about to be freed: retire any wrapper registered
		// for it (a non-owning Reference view) so it never resolves stale.
		if reg != nil {
			retireWrapper(reg, inst.Addr)
		}
		if d.dtor != nil {
			d.dtor(inst.Addr)
		}
		if inst.Heap != nil {
			return inst.Heap.Free(inst.Addr)
		}
		return nil

	case tagHostOwns:
		// Reverse hand-back followed by normal collection; never a raw
		// deallocation call.
		if err := d.w.Revalidate(); err != nil {
			Logger().Warn("transfer deleter: revalidate failed", zap.Error(err))
		}
		d.w.Release()
		return nil

	default:
		return errors.InvalidInput(errors.PhaseTransfer, "untagged transfer deleter")
	}
}

// UniqueHandle is an exclusive-ownership handle held by the native side. It
// is destroyed at most once; an unreferenced handle is destroyed by a Go
// finalizer as a backstop.
type UniqueHandle struct {
	reg      *Registry
	inst     nativebridge.Instance
	del      TransferDeleter
	mu       sync.Mutex
	consumed bool
}

func newUniqueHandle(reg *Registry, inst nativebridge.Instance, del TransferDeleter) *UniqueHandle {
	h := &UniqueHandle{reg: reg, inst: inst, del: del}
	runtime.SetFinalizer(h, (*UniqueHandle).Destroy)
	return h
}

// Instance returns the instance the handle owns.
func (h *UniqueHandle) Instance() (nativebridge.Instance, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.consumed {
		return nativebridge.Instance{}, errors.InvalidInput(errors.PhaseTransfer, "handle already consumed")
	}
	return h.inst, nil
}

// Deleter returns the handle's tagged deleter.
func (h *UniqueHandle) Deleter() TransferDeleter {
	return h.del
}

// Destroy runs the tagged destruction path exactly once. For host-provenance
// handles this notifies the host collector; for native-provenance handles it
// destroys the instance directly.
func (h *UniqueHandle) Destroy() error {
	h.mu.Lock()
	if h.consumed {
		h.mu.Unlock()
		return nil
	}
	h.consumed = true
	h.mu.Unlock()
	runtime.SetFinalizer(h, nil)

	return h.del.dispatch(h.reg, h.inst)
}

// consume takes the handle out of circulation without destruction, for a
// hand-back to the host.
func (h *UniqueHandle) consume() (nativebridge.Instance, TransferDeleter, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.consumed {
		return nativebridge.Instance{}, TransferDeleter{}, false
	}
	h.consumed = true
	runtime.SetFinalizer(h, nil)
	return h.inst, h.del, true
}

// restore puts a consumed handle back into circulation after a hand-back
// failed, so the caller still holds a destroyable handle.
func (h *UniqueHandle) restore() {
	h.mu.Lock()
	h.consumed = false
	h.mu.Unlock()
	runtime.SetFinalizer(h, (*UniqueHandle).Destroy)
}

// Protocol is the exclusive-ownership state machine. All transfers are
// synchronous and atomic: every legality check happens before any state
// mutation becomes visible.
type Protocol struct {
	reg *Registry
}

// NewProtocol creates a transfer protocol over the given registry.
func NewProtocol(reg *Registry) *Protocol {
	return &Protocol{reg: reg}
}

// TransferToHost performs the plain Native→Host exclusive transfer: the host
// adopts the instance and destruction is deferred to finalization. It is
// legal only while the instance is native-owned and its storage is
// compatible with host-deferred deallocation; otherwise it refuses without
// mutating any ownership state.
func (p *Protocol) TransferToHost(inst nativebridge.Instance) (*Wrapper, error) {
	if !inst.Valid() {
		return nil, errors.InvalidInput(errors.PhaseTransfer, "instance has no storage")
	}

	w, exists := p.reg.Lookup(inst.Addr)
	if exists {
		switch st := w.State(); {
		case st == Invalid:
			return nil, errors.UseAfterInvalidation(w.typeName(), uint64(inst.Addr))
		case w.Embedded():
			return nil, errors.OwnershipTransfer(errors.PhaseTransfer, w.typeName(), uint64(inst.Addr),
				"embedded instance cannot change owner")
		case st == HostOwned:
			return nil, errors.OwnershipTransfer(errors.PhaseTransfer, w.typeName(), uint64(inst.Addr),
				"instance is already host-owned")
		}
	}

	switch inst.Type.Compat {
	case nativebridge.CompatForeign:
		return nil, errors.OwnershipTransfer(errors.PhaseTransfer, inst.Type.Name, uint64(inst.Addr),
			"instance storage is never dealloc-compatible")
	case nativebridge.CompatUnknown:
		if !inst.Heap.Compatible(inst.Addr) {
			return nil, errors.OwnershipTransfer(errors.PhaseTransfer, inst.Type.Name, uint64(inst.Addr),
				"instance storage is not dealloc-compatible")
		}
	}

	Logger().Debug("plain transfer to host",
		zap.Uint64("addr", uint64(inst.Addr)),
		zap.String("type", inst.Type.Name))

	if exists {
		w.adoptHost()
		return w, nil
	}
	return NewWrapper(p.reg, inst, HostOwned)
}

// TransferToNative performs the tagged Host→Native exclusive transfer. It is
// always legal for an owned instance: the returned handle's deleter records
// provenance, so destruction dispatches correctly either way.
//
// A host-owned instance leaves its wrapper revoked (Invalid) until the
// handle is handed back or destroyed. A native-owned instance simply moves
// to the new holder; no wrapper state changes.
func (p *Protocol) TransferToNative(inst nativebridge.Instance) (*UniqueHandle, error) {
	if !inst.Valid() {
		return nil, errors.InvalidInput(errors.PhaseTransfer, "instance has no storage")
	}

	if w, ok := p.reg.Lookup(inst.Addr); ok {
		switch w.State() {
		case Invalid:
			return nil, errors.UseAfterInvalidation(w.typeName(), uint64(inst.Addr))
		case HostOwned:
			// The handle keeps the revoked wrapper alive until hand-back.
			w.Retain()
			if err := w.Invalidate(); err != nil {
				w.Release()
				return nil, err
			}
			Logger().Debug("tagged transfer to native",
				zap.Uint64("addr", uint64(inst.Addr)),
				zap.String("provenance", "host-owns"))
			return newUniqueHandle(p.reg, inst, HostOwns(w)), nil
		}
	}

	Logger().Debug("tagged transfer to native",
		zap.Uint64("addr", uint64(inst.Addr)),
		zap.String("provenance", "native-owns"))
	return newUniqueHandle(p.reg, inst, NativeOwns(inst.Type.Destructor)), nil
}

// ReturnToHost consumes a tagged handle crossing back into the host. A
// host-provenance handle revalidates its original wrapper without any
// destruction call; a native-provenance handle makes the instance
// collector-managed from now on, and the destructor captured in the deleter
// is never invoked directly again.
func (p *Protocol) ReturnToHost(h *UniqueHandle) (*Wrapper, error) {
	if h == nil {
		return nil, errors.InvalidInput(errors.PhaseTransfer, "nil handle")
	}

	// Consuming first makes the handle the single decision point: a handle
	// destroyed underneath cannot hand back a wrapper whose reference was
	// already released. An illegal hand-back restores the handle.
	inst, del, ok := h.consume()
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseTransfer, "handle already consumed")
	}

	if del.HostSide() {
		w := del.Wrapper()
		if err := w.Revalidate(); err != nil {
			h.restore()
			return nil, err
		}
		// The reference the handle held now belongs to the host caller.
		Logger().Debug("tagged return to host",
			zap.Uint64("addr", uint64(inst.Addr)),
			zap.String("provenance", "host-owns"))
		return w, nil
	}

	var w *Wrapper
	if existing, ok := p.reg.Lookup(inst.Addr); ok {
		if existing.State() == Invalid {
			h.restore()
			return nil, errors.UseAfterInvalidation(existing.typeName(), uint64(inst.Addr))
		}
		if existing.State() == NativeOwned {
			existing.adoptHost()
		} else {
			existing.Retain()
		}
		w = existing
	} else {
		created, err := NewWrapper(p.reg, inst, HostOwned)
		if err != nil {
			h.restore()
			return nil, err
		}
		w = created
	}

	Logger().Debug("tagged return to host",
		zap.Uint64("addr", uint64(inst.Addr)),
		zap.String("provenance", "native-owns"))
	return w, nil
}
