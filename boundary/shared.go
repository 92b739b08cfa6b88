package boundary

import (
	"runtime"
	"sync"

	"go.uber.org/zap"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/errors"
)

// SharedBridge converts between native shared-ownership handles and host
// references, manufacturing independent control blocks on demand.
//
// Control blocks for the same instance do not know about each other. The
// true global reference count of an instance is the sum across all
// outstanding control blocks plus the host's internal references; no single
// control block (and no UseCount call) can observe that sum.
type SharedBridge struct {
	reg *Registry
}

// NewSharedBridge creates a shared-ownership bridge over the given registry.
func NewSharedBridge(reg *Registry) *SharedBridge {
	return &SharedBridge{reg: reg}
}

// controlBlock tracks one shared-ownership reference count and its deleter.
// A host-origin block (w != nil) releases a host reference when the count
// reaches zero. A native-origin block (w == nil) destroys the instance
// directly instead.
type controlBlock struct {
	w    *Wrapper
	inst nativebridge.Instance
	reg  *Registry
	mu   sync.Mutex
	refs int
}

func (cb *controlBlock) retain() {
	cb.mu.Lock()
	cb.refs++
	cb.mu.Unlock()
}

func (cb *controlBlock) release() error {
	cb.mu.Lock()
	if cb.refs == 0 {
		cb.mu.Unlock()
		return nil
	}
	cb.refs--
	last := cb.refs == 0
	w := cb.w
	cb.mu.Unlock()

	if !last {
		return nil
	}
	if w != nil {
		w.Release()
		return nil
	}
	return DestroyNative(cb.reg, cb.inst)
}

func (cb *controlBlock) count() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.refs
}

// SharedHandle is one reference within one control block. Copies made with
// Clone share the control block; handles made by separate bridge calls do
// not.
type SharedHandle struct {
	cb       *controlBlock
	mu       sync.Mutex
	released bool
}

func newSharedHandle(cb *controlBlock) *SharedHandle {
	sh := &SharedHandle{cb: cb}
	runtime.SetFinalizer(sh, (*SharedHandle).Release)
	return sh
}

// Instance returns the shared instance.
func (sh *SharedHandle) Instance() (nativebridge.Instance, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.released {
		return nativebridge.Instance{}, errors.InvalidInput(errors.PhaseShare, "shared handle released")
	}
	return sh.cb.inst, nil
}

// Clone adds a reference within this handle's control block.
func (sh *SharedHandle) Clone() (*SharedHandle, error) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.released {
		return nil, errors.InvalidInput(errors.PhaseShare, "shared handle released")
	}
	sh.cb.retain()
	return newSharedHandle(sh.cb), nil
}

// UseCount returns this control block's reference count. It does not
// reflect the true global reference count of the instance: other control
// blocks and the host's internal references are invisible here.
func (sh *SharedHandle) UseCount() int {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.released {
		return 0
	}
	return sh.cb.count()
}

// Release drops this handle's reference. Releasing twice is a no-op. An
// unreferenced handle is released by a Go finalizer as a backstop.
func (sh *SharedHandle) Release() error {
	sh.mu.Lock()
	if sh.released {
		sh.mu.Unlock()
		return nil
	}
	sh.released = true
	sh.mu.Unlock()
	runtime.SetFinalizer(sh, nil)

	return sh.cb.release()
}

// WrapForSharing crosses an instance into a native shared-ownership handle.
// The new control block retains the wrapper at construction and releases it
// when the block's count reaches zero; if no wrapper exists yet, one is
// created HostOwned.
func (sb *SharedBridge) WrapForSharing(inst nativebridge.Instance) (*SharedHandle, error) {
	if !inst.Valid() {
		return nil, errors.InvalidInput(errors.PhaseShare, "instance has no storage")
	}

	w, ok := sb.reg.Lookup(inst.Addr)
	if ok {
		if w.State() == Invalid {
			return nil, errors.UseAfterInvalidation(w.typeName(), uint64(inst.Addr))
		}
		w.Retain()
	} else {
		created, err := NewWrapper(sb.reg, inst, HostOwned)
		if err != nil {
			return nil, err
		}
		w = created
	}

	Logger().Debug("wrap for sharing",
		zap.Uint64("addr", uint64(inst.Addr)),
		zap.String("type", inst.Type.Name))

	cb := &controlBlock{refs: 1, w: w, inst: inst, reg: sb.reg}
	return newSharedHandle(cb), nil
}

// ShareFromNative manufactures a native-origin shared handle for an instance
// the native side owns. No wrapper is involved until the handle crosses into
// the host via UnwrapFromSharing.
func (sb *SharedBridge) ShareFromNative(inst nativebridge.Instance) (*SharedHandle, error) {
	if !inst.Valid() {
		return nil, errors.InvalidInput(errors.PhaseShare, "instance has no storage")
	}

	cb := &controlBlock{refs: 1, inst: inst, reg: sb.reg}
	return newSharedHandle(cb), nil
}

// DeriveShared derives a shared-ownership handle from a bare instance
// reference, for native types that declare the self-sharing capability.
// Deriving from a host-owned instance is illegal: the derived handle would
// assume sole ownership and later attempt an incompatible destruction path.
func (sb *SharedBridge) DeriveShared(inst nativebridge.Instance) (*SharedHandle, error) {
	if !inst.Valid() {
		return nil, errors.InvalidInput(errors.PhaseShare, "instance has no storage")
	}
	if !inst.Type.SelfSharing {
		return nil, errors.InvalidInput(errors.PhaseShare, "type does not support self-sharing")
	}

	if w, ok := sb.reg.Lookup(inst.Addr); ok && w.State() != NativeOwned {
		return nil, errors.IllegalSelfOwnership(w.typeName(), uint64(inst.Addr))
	}

	return sb.ShareFromNative(inst)
}

// UnwrapFromSharing crosses a shared handle into a host reference. If a
// wrapper already exists for the instance it is returned unchanged - no
// duplicate wrapper is ever created. Otherwise the bridge creates one
// HostOwned and transparently moves the control block's ownership onto the
// host reference count, so the instance is destroyed exactly once through
// finalization.
func (sb *SharedBridge) UnwrapFromSharing(sh *SharedHandle) (*Wrapper, error) {
	if sh == nil {
		return nil, errors.InvalidInput(errors.PhaseShare, "nil shared handle")
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sh.released {
		return nil, errors.InvalidInput(errors.PhaseShare, "shared handle released")
	}

	cb := sh.cb
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.w != nil {
		return cb.w, nil
	}

	if existing, ok := sb.reg.Lookup(cb.inst.Addr); ok {
		// The native-origin block keeps owning; the existing wrapper is a
		// non-owning view and is returned unchanged.
		return existing, nil
	}

	w, err := NewWrapper(sb.reg, cb.inst, HostOwned)
	if err != nil {
		return nil, err
	}
	// The wrapper's initial reference now belongs to the control block: its
	// final release decrements the host count instead of destroying.
	cb.w = w

	Logger().Debug("unwrap from sharing",
		zap.Uint64("addr", uint64(cb.inst.Addr)),
		zap.String("type", cb.inst.Type.Name))
	return w, nil
}
