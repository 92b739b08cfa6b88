// Package boundary implements the ownership boundary between native
// instances and the managed host runtime.
//
// Every native instance visible to the host is represented by exactly one
// Wrapper, tracked in a Registry keyed by instance address. The wrapper
// carries an ownership state:
//
//	NativeOwned - the native side destroys the instance; the wrapper is a
//	              non-owning view
//	HostOwned   - destruction is deferred to host finalization
//	Invalid     - the wrapper is revoked pending a reverse transfer
//
// # Exclusive Ownership
//
// Exclusive transfers go through Protocol. A plain transfer into the host
// (TakeOwnership) is legal only for dealloc-compatible instances. Transfers
// out of the host return a UniqueHandle whose deleter is tagged with
// provenance (NativeOwns or HostOwns), so the handle can always be destroyed
// or handed back safely regardless of which side owned the instance:
//
//	h, err := proto.TransferToNative(inst) // wrapper becomes Invalid
//	...
//	w, err := proto.ReturnToHost(h)        // wrapper revalidated, same wrapper
//
// # Shared Ownership
//
// Shared transfers go through SharedBridge. Each crossing manufactures an
// independent control block whose deleter retains the wrapper at construction
// and releases it at destruction. Control blocks for the same instance cannot
// see each other: UseCount on any single handle reflects only that handle's
// control block, never the true global reference count. This is an accepted
// design limitation, not a defect.
//
// # Finalization
//
// When the last host reference to a wrapper is released, the finalization
// hook runs: the address is unregistered, then destruction dispatches on the
// ownership state. Finalization is idempotent, reentrant, and makes no
// assumption about the calling goroutine; handle finalizers may invoke it
// from collector goroutines.
//
// # Undetectable Hazards
//
// Two misuses violate documented preconditions and cannot be detected after
// the fact:
//
//   - destroying a host-owned instance through a raw native destruction call
//     (bypass DestroyNative, or call it on a HostOwned wrapper)
//   - deriving a self-referential shared handle from a host-owned instance
//     without the tagged mechanism
//
// SharedBridge.DeriveShared refuses the second case when it can observe it,
// but callers remain responsible for not reaching these states.
package boundary
