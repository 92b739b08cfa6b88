package nativebridge_test

import (
	"testing"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/heap"
)

func TestInstance_Valid(t *testing.T) {
	h := heap.NewGoHeap()
	defer h.Close()

	typ := &nativebridge.TypeInfo{Name: "mesh", Size: 8}
	addr, err := h.Alloc(typ.Size)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	inst := nativebridge.Instance{Type: typ, Heap: h, Addr: addr}
	if !inst.Valid() {
		t.Fatal("instance with storage should be valid")
	}

	for _, bad := range []nativebridge.Instance{
		{},
		{Type: typ, Heap: h},
		{Type: typ, Addr: addr},
		{Heap: h, Addr: addr},
	} {
		if bad.Valid() {
			t.Fatalf("instance %+v should be invalid", bad)
		}
	}
}

func TestInstance_Destroy(t *testing.T) {
	h := heap.NewGoHeap()
	defer h.Close()

	calls := 0
	typ := &nativebridge.TypeInfo{
		Name: "mesh",
		Size: 8,
		Destructor: func(nativebridge.Address) {
			calls++
		},
	}
	addr, err := h.Alloc(typ.Size)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	inst := nativebridge.Instance{Type: typ, Heap: h, Addr: addr}
	if err := inst.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("destructor calls = %d, want 1", calls)
	}
	if h.Len() != 0 {
		t.Fatal("storage not released")
	}

	// Destroying a zero instance is a no-op.
	if err := (nativebridge.Instance{}).Destroy(); err != nil {
		t.Fatalf("zero instance Destroy should be nil, got %v", err)
	}
}
