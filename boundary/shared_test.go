package boundary

import (
	"errors"
	"runtime"
	"testing"

	bounderrors "github.com/wippyai/native-bridge/errors"
)

func TestSharedBridge_WrapForSharingCreatesWrapper(t *testing.T) {
	env := newTestEnv(t)
	sb := NewSharedBridge(env.reg)
	inst := env.newInstance(t)

	sh, err := sb.WrapForSharing(inst)
	if err != nil {
		t.Fatalf("WrapForSharing failed: %v", err)
	}

	w, ok := env.reg.Lookup(inst.Addr)
	if !ok {
		t.Fatal("no wrapper created on registry miss")
	}
	if w.State() != HostOwned {
		t.Fatalf("state = %s, want host-owned", w.State())
	}

	if err := sh.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if env.dtors.count(inst.Addr) != 1 {
		t.Fatalf("destructor calls = %d, want 1", env.dtors.count(inst.Addr))
	}
}

func TestSharedBridge_TwoControlBlocksEitherOrder(t *testing.T) {
	for _, reversed := range []bool{false, true} {
		name := "forward"
		if reversed {
			name = "reversed"
		}
		t.Run(name, func(t *testing.T) {
			env := newTestEnv(t)
			proto := NewProtocol(env.reg)
			sb := NewSharedBridge(env.reg)
			inst := env.newInstance(t)

			w, err := proto.TransferToHost(inst)
			if err != nil {
				t.Fatalf("TransferToHost failed: %v", err)
			}
			base := w.HostRefs()

			sh1, err := sb.WrapForSharing(inst)
			if err != nil {
				t.Fatalf("first WrapForSharing failed: %v", err)
			}
			sh2, err := sb.WrapForSharing(inst)
			if err != nil {
				t.Fatalf("second WrapForSharing failed: %v", err)
			}

			if w.HostRefs() != base+2 {
				t.Fatalf("HostRefs = %d, want %d", w.HostRefs(), base+2)
			}

			first, second := sh1, sh2
			if reversed {
				first, second = sh2, sh1
			}
			if err := first.Release(); err != nil {
				t.Fatalf("Release failed: %v", err)
			}
			if err := second.Release(); err != nil {
				t.Fatalf("Release failed: %v", err)
			}

			// Refcount back to its pre-creation value, no destruction while
			// the wrapper remains host-owned and externally referenced.
			if w.HostRefs() != base {
				t.Fatalf("HostRefs = %d, want %d", w.HostRefs(), base)
			}
			if env.dtors.count(inst.Addr) != 0 {
				t.Fatal("control block release destroyed a referenced instance")
			}
			if w.State() != HostOwned {
				t.Fatalf("state = %s, want host-owned", w.State())
			}

			w.Release()
			if env.dtors.count(inst.Addr) != 1 {
				t.Fatalf("destructor calls = %d, want 1", env.dtors.count(inst.Addr))
			}
		})
	}
}

func TestSharedHandle_UseCountIsPerControlBlock(t *testing.T) {
	env := newTestEnv(t)
	sb := NewSharedBridge(env.reg)
	inst := env.newInstance(t)

	sh1, err := sb.WrapForSharing(inst)
	if err != nil {
		t.Fatalf("WrapForSharing failed: %v", err)
	}
	sh2, err := sb.WrapForSharing(inst)
	if err != nil {
		t.Fatalf("WrapForSharing failed: %v", err)
	}

	clone, err := sh1.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	// Independent control blocks cannot observe each other: the true global
	// count is 3 references plus the host's own, but no handle reports it.
	if sh1.UseCount() != 2 {
		t.Fatalf("sh1.UseCount() = %d, want 2", sh1.UseCount())
	}
	if sh2.UseCount() != 1 {
		t.Fatalf("sh2.UseCount() = %d, want 1", sh2.UseCount())
	}

	for _, sh := range []*SharedHandle{sh1, clone, sh2} {
		if err := sh.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
	}
	if env.dtors.count(inst.Addr) != 1 {
		t.Fatalf("destructor calls = %d, want 1", env.dtors.count(inst.Addr))
	}
}

func TestSharedHandle_ReleaseTwice(t *testing.T) {
	env := newTestEnv(t)
	sb := NewSharedBridge(env.reg)
	inst := env.newInstance(t)

	sh, err := sb.WrapForSharing(inst)
	if err != nil {
		t.Fatalf("WrapForSharing failed: %v", err)
	}

	if err := sh.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := sh.Release(); err != nil {
		t.Fatalf("second Release should be a no-op, got %v", err)
	}
	if env.dtors.count(inst.Addr) != 1 {
		t.Fatalf("destructor calls = %d, want 1", env.dtors.count(inst.Addr))
	}
	if sh.UseCount() != 0 {
		t.Fatal("released handle should report a zero use count")
	}
}

func TestSharedBridge_UnwrapReusesWrapper(t *testing.T) {
	env := newTestEnv(t)
	proto := NewProtocol(env.reg)
	sb := NewSharedBridge(env.reg)
	inst := env.newInstance(t)

	w, err := proto.TransferToHost(inst)
	if err != nil {
		t.Fatalf("TransferToHost failed: %v", err)
	}

	sh, err := sb.WrapForSharing(inst)
	if err != nil {
		t.Fatalf("WrapForSharing failed: %v", err)
	}

	got, err := sb.UnwrapFromSharing(sh)
	if err != nil {
		t.Fatalf("UnwrapFromSharing failed: %v", err)
	}
	if got != w {
		t.Fatal("unwrap created a duplicate wrapper")
	}

	if err := sh.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	w.Release()
	if env.dtors.count(inst.Addr) != 1 {
		t.Fatalf("destructor calls = %d, want 1", env.dtors.count(inst.Addr))
	}
}

func TestSharedBridge_UnwrapNativeOriginCreatesWrapper(t *testing.T) {
	env := newTestEnv(t)
	sb := NewSharedBridge(env.reg)
	inst := env.newInstance(t)

	sh, err := sb.ShareFromNative(inst)
	if err != nil {
		t.Fatalf("ShareFromNative failed: %v", err)
	}

	w, err := sb.UnwrapFromSharing(sh)
	if err != nil {
		t.Fatalf("UnwrapFromSharing failed: %v", err)
	}
	if w.State() != HostOwned {
		t.Fatalf("state = %s, want host-owned", w.State())
	}

	// The control block's ownership moved onto the host reference count:
	// releasing the last shared reference finalizes through the wrapper,
	// destroying exactly once.
	if err := sh.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if env.dtors.count(inst.Addr) != 1 {
		t.Fatalf("destructor calls = %d, want 1", env.dtors.count(inst.Addr))
	}
	if _, ok := env.reg.Lookup(inst.Addr); ok {
		t.Fatal("stale wrapper after shared destruction")
	}
}

func TestSharedBridge_NativeOriginDestroysWithoutWrapper(t *testing.T) {
	env := newTestEnv(t)
	sb := NewSharedBridge(env.reg)
	inst := env.newInstance(t)

	sh, err := sb.ShareFromNative(inst)
	if err != nil {
		t.Fatalf("ShareFromNative failed: %v", err)
	}
	clone, err := sh.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	if err := sh.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if env.dtors.count(inst.Addr) != 0 {
		t.Fatal("destroyed while a shared reference remains")
	}
	if err := clone.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if env.dtors.count(inst.Addr) != 1 {
		t.Fatalf("destructor calls = %d, want 1", env.dtors.count(inst.Addr))
	}
}

func TestSharedBridge_DeriveSharedFromHostOwnedIllegal(t *testing.T) {
	env := newTestEnv(t)
	env.typ.SelfSharing = true
	proto := NewProtocol(env.reg)
	sb := NewSharedBridge(env.reg)
	inst := env.newInstance(t)

	w, err := proto.TransferToHost(inst)
	if err != nil {
		t.Fatalf("TransferToHost failed: %v", err)
	}

	_, err = sb.DeriveShared(inst)
	if !errors.Is(err, bounderrors.IllegalSelfOwnership("", 0)) {
		t.Fatalf("expected illegal_self_ownership, got %v", err)
	}

	// The refusal leaves the wrapper untouched.
	if w.State() != HostOwned || w.HostRefs() != 1 {
		t.Fatal("illegal derivation mutated the wrapper")
	}
}

func TestSharedBridge_DeriveSharedFromNativeOwned(t *testing.T) {
	env := newTestEnv(t)
	env.typ.SelfSharing = true
	sb := NewSharedBridge(env.reg)
	inst := env.newInstance(t)

	sh, err := sb.DeriveShared(inst)
	if err != nil {
		t.Fatalf("DeriveShared failed: %v", err)
	}
	if err := sh.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if env.dtors.count(inst.Addr) != 1 {
		t.Fatalf("destructor calls = %d, want 1", env.dtors.count(inst.Addr))
	}
}

func TestSharedBridge_DeriveSharedWithoutCapability(t *testing.T) {
	env := newTestEnv(t)
	sb := NewSharedBridge(env.reg)
	inst := env.newInstance(t)

	if _, err := sb.DeriveShared(inst); err == nil {
		t.Fatal("deriving without the self-sharing capability should fail")
	}
}

func TestSharedBridge_WrapForSharingInvalidWrapper(t *testing.T) {
	env := newTestEnv(t)
	proto := NewProtocol(env.reg)
	sb := NewSharedBridge(env.reg)
	inst := env.newInstance(t)

	if _, err := proto.TransferToHost(inst); err != nil {
		t.Fatalf("TransferToHost failed: %v", err)
	}
	h, err := proto.TransferToNative(inst)
	if err != nil {
		t.Fatalf("TransferToNative failed: %v", err)
	}

	_, err = sb.WrapForSharing(inst)
	if !errors.Is(err, bounderrors.UseAfterInvalidation("", 0)) {
		t.Fatalf("expected use_after_invalidation, got %v", err)
	}
	runtime.KeepAlive(h)
}
