package nativebridge

// Address identifies a native instance within its Heap. Address 0 is
// reserved and never refers to a live instance.
type Address uint64

// Destructor tears down the native state of the instance at addr. It does
// not release the instance's storage; that is the owning Heap's job.
type Destructor func(addr Address)

// DeleterKind selects the ownership strategy of an exclusive-ownership
// binding. Kinds outside this set are rejected at binding-declaration time.
type DeleterKind uint8

const (
	// DeleterPlain destroys through the type's plain destructor. Exclusive
	// crossings into the host require dealloc-compatible storage.
	DeleterPlain DeleterKind = iota

	// DeleterTagged destroys through a tagged transfer deleter carrying
	// ownership provenance, making transfer always representable.
	DeleterTagged
)

// AllocCompat is the statically-known deallocation compatibility of a type's
// instances, supplied by the type-metadata system.
type AllocCompat uint8

const (
	// CompatUnknown means compatibility cannot be verified per type; it must
	// be checked per address at call time.
	CompatUnknown AllocCompat = iota

	// CompatHeap means instances are always allocated compatibly with
	// host-deferred deallocation.
	CompatHeap

	// CompatForeign means instances are never compatibly allocated
	// (stack-allocated, embedded, or foreign allocator).
	CompatForeign
)

// TypeInfo describes one bound native type. It is the contract supplied by
// the out-of-scope type-metadata system.
type TypeInfo struct {
	Destructor Destructor
	Name       string
	Size       uint32
	Deleter    DeleterKind
	Compat     AllocCompat

	// SelfSharing reports whether the native type can derive a
	// shared-ownership handle from a bare instance reference. Deriving one
	// from a host-owned instance is illegal; see boundary.SharedBridge.
	SelfSharing bool
}

// Heap is the instance storage collaborator. Implementations must be safe
// for concurrent use; finalization may free addresses from collector
// goroutines.
type Heap interface {
	// Alloc reserves size bytes and returns the instance address.
	Alloc(size uint32) (Address, error)

	// Free releases the storage at addr. Freeing an unknown address is an
	// error: the registry relies on freed addresses never resolving again.
	Free(addr Address) error

	// Read copies length bytes of instance state starting at addr.
	Read(addr Address, length uint32) ([]byte, error)

	// Write stores instance state at addr.
	Write(addr Address, data []byte) error

	// Compatible reports whether addr was allocated in a manner compatible
	// with host-deferred deallocation. Used for the plain-transfer legality
	// check when a type's compatibility is not statically known.
	Compatible(addr Address) bool
}

// Instance is a native instance reference crossing the boundary.
type Instance struct {
	Type *TypeInfo
	Heap Heap
	Addr Address
}

// Valid reports whether the instance refers to storage at all.
func (i Instance) Valid() bool {
	return i.Addr != 0 && i.Type != nil && i.Heap != nil
}

// Destroy runs the native destruction path: destructor, then storage
// release. This is the native side's manual deletion primitive. Calling it
// on an instance currently owned by the host violates a documented
// precondition and is not detected here.
func (i Instance) Destroy() error {
	if !i.Valid() {
		return nil
	}
	if i.Type.Destructor != nil {
		i.Type.Destructor(i.Addr)
	}
	return i.Heap.Free(i.Addr)
}
