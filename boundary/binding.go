package boundary

import (
	"go.uber.org/zap"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/errors"
)

// ReturnPolicy selects, per call site, how a crossing return value binds to
// a wrapper. It is consumed by the out-of-scope marshalling layer through
// Binding.Cross.
type ReturnPolicy uint8

const (
	// Reference wraps without adopting ownership; the native side remains
	// the destruction authority.
	Reference ReturnPolicy = iota

	// ReferenceInternal is Reference with the wrapper's lifetime tied to a
	// parent wrapper, which stays alive until the child finalizes.
	ReferenceInternal

	// TakeOwnership adopts the instance as HostOwned (the plain transfer).
	TakeOwnership

	// Copy duplicates the instance and wraps the copy HostOwned.
	Copy

	// Move duplicates the instance, wraps the copy HostOwned, and destroys
	// the native-owned source.
	Move
)

func (p ReturnPolicy) String() string {
	switch p {
	case Reference:
		return "reference"
	case ReferenceInternal:
		return "reference_internal"
	case TakeOwnership:
		return "take_ownership"
	case Copy:
		return "copy"
	case Move:
		return "move"
	default:
		return "unknown"
	}
}

// Binding is the declared crossing surface for one native type. Declaration
// validates configuration shape once, so per-call failures are limited to
// conditions only observable at call time.
type Binding struct {
	typ    *nativebridge.TypeInfo
	reg    *Registry
	proto  *Protocol
	shared *SharedBridge
}

// DeclareBinding validates a type's ownership configuration and returns its
// binding. Configuration-shape errors fail loud here rather than at call
// sites: deleter kinds outside the supported set are rejected, and a
// plain-destructor binding over storage that is never dealloc-compatible is
// refused because every plain transfer through it would fail.
func DeclareBinding(reg *Registry, typ *nativebridge.TypeInfo) (*Binding, error) {
	if reg == nil || typ == nil {
		return nil, errors.InvalidInput(errors.PhaseDeclare, "nil registry or type")
	}
	if typ.Deleter > nativebridge.DeleterTagged {
		return nil, errors.UnsupportedDeleter(typ.Name, uint8(typ.Deleter))
	}
	if typ.Deleter == nativebridge.DeleterPlain && typ.Compat == nativebridge.CompatForeign {
		return nil, errors.OwnershipTransfer(errors.PhaseDeclare, typ.Name, 0,
			"plain-destructor binding over storage that is never dealloc-compatible")
	}

	Logger().Debug("binding declared",
		zap.String("type", typ.Name),
		zap.Uint32("size", typ.Size))

	return &Binding{
		typ:    typ,
		reg:    reg,
		proto:  NewProtocol(reg),
		shared: NewSharedBridge(reg),
	}, nil
}

// Type returns the bound type's metadata.
func (b *Binding) Type() *nativebridge.TypeInfo {
	return b.typ
}

// Protocol returns the exclusive-transfer protocol sharing this binding's
// registry.
func (b *Binding) Protocol() *Protocol {
	return b.proto
}

// Shared returns the shared-ownership bridge sharing this binding's
// registry.
func (b *Binding) Shared() *SharedBridge {
	return b.shared
}

// Cross binds a crossing return value per policy and hands the host a
// referenced wrapper. parent is consulted only for ReferenceInternal and may
// be nil otherwise. The marshalling layer calls Cross exactly once per
// crossing value.
func (b *Binding) Cross(inst nativebridge.Instance, policy ReturnPolicy, parent *Wrapper) (*Wrapper, error) {
	if !inst.Valid() {
		return nil, errors.InvalidInput(errors.PhaseTransfer, "instance has no storage")
	}

	switch policy {
	case Reference:
		return b.crossReference(inst, nil)

	case ReferenceInternal:
		if parent == nil {
			return nil, errors.InvalidInput(errors.PhaseTransfer, "reference_internal requires a parent wrapper")
		}
		return b.crossReference(inst, parent)

	case TakeOwnership:
		return b.proto.TransferToHost(inst)

	case Copy:
		return b.crossCopy(inst)

	case Move:
		w, err := b.crossCopy(inst)
		if err != nil {
			return nil, err
		}
		if src, ok := b.reg.Lookup(inst.Addr); !ok || src.State() == NativeOwned {
			if err := DestroyNative(b.reg, inst); err != nil {
				Logger().Warn("move: source destruction failed",
					zap.Uint64("addr", uint64(inst.Addr)),
					zap.Error(err))
			}
		}
		return w, nil

	default:
		return nil, errors.InvalidInput(errors.PhaseTransfer, "unknown return policy")
	}
}

// ExclusiveOut crosses an instance out of the host as an exclusive handle.
// Bindings declared with the tagged strategy can always transfer; a
// plain-destructor binding cannot represent Host→Native transfer of a
// host-owned instance and refuses it.
func (b *Binding) ExclusiveOut(inst nativebridge.Instance) (*UniqueHandle, error) {
	if b.typ.Deleter == nativebridge.DeleterPlain {
		if w, ok := b.reg.Lookup(inst.Addr); ok && w.State() == HostOwned {
			return nil, errors.OwnershipTransfer(errors.PhaseTransfer, b.typ.Name, uint64(inst.Addr),
				"plain-destructor binding cannot transfer a host-owned instance to native code")
		}
	}
	return b.proto.TransferToNative(inst)
}

// ExclusiveIn consumes an exclusive handle crossing back into the host.
func (b *Binding) ExclusiveIn(h *UniqueHandle) (*Wrapper, error) {
	return b.proto.ReturnToHost(h)
}

func (b *Binding) crossReference(inst nativebridge.Instance, parent *Wrapper) (*Wrapper, error) {
	if w, ok := b.reg.Lookup(inst.Addr); ok {
		if w.State() == Invalid {
			return nil, errors.UseAfterInvalidation(w.typeName(), uint64(inst.Addr))
		}
		w.Retain()
		return w, nil
	}

	w, err := NewWrapper(b.reg, inst, NativeOwned)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		parent.Retain()
		w.setParent(parent)
	}
	return w, nil
}

func (b *Binding) crossCopy(inst nativebridge.Instance) (*Wrapper, error) {
	data, err := inst.Heap.Read(inst.Addr, inst.Type.Size)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransfer, errors.KindAllocation, err, "read source instance")
	}

	addr, err := inst.Heap.Alloc(inst.Type.Size)
	if err != nil {
		return nil, errors.AllocationFailed(inst.Type.Size, err)
	}
	if err := inst.Heap.Write(addr, data); err != nil {
		_ = inst.Heap.Free(addr)
		return nil, errors.Wrap(errors.PhaseTransfer, errors.KindAllocation, err, "write instance copy")
	}

	dup := nativebridge.Instance{Type: inst.Type, Heap: inst.Heap, Addr: addr}
	w, err := NewWrapper(b.reg, dup, HostOwned)
	if err != nil {
		_ = inst.Heap.Free(addr)
		return nil, err
	}
	return w, nil
}
