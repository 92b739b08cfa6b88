package heap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nativebridge "github.com/wippyai/native-bridge"
)

func newTestWasmHeap(t *testing.T) *WasmHeap {
	t.Helper()

	ctx := context.Background()
	h, err := NewWasmHeap(ctx, WasmHeapConfig{MinPages: 1, MaxPages: 4})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, h.Close(ctx))
	})
	return h
}

func TestWasmHeap_RoundTrip(t *testing.T) {
	h := newTestWasmHeap(t)

	addr, err := h.Alloc(16)
	require.NoError(t, err)
	require.NotZero(t, addr)

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	require.NoError(t, h.Write(addr, payload))

	got, err := h.Read(addr, 4)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWasmHeap_Compatible(t *testing.T) {
	h := newTestWasmHeap(t)

	addr, err := h.Alloc(8)
	require.NoError(t, err)

	assert.True(t, h.Compatible(addr))
	assert.False(t, h.Compatible(addr+1), "interior pointers are not allocations")

	require.NoError(t, h.Free(addr))
	assert.False(t, h.Compatible(addr), "freed address must not report compatible")
}

func TestWasmHeap_FreeZeroesGuestBytes(t *testing.T) {
	h := newTestWasmHeap(t)

	addr, err := h.Alloc(8)
	require.NoError(t, err)
	require.NoError(t, h.Write(addr, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	require.NoError(t, h.Free(addr))

	reused, err := h.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, addr, reused)

	got, err := h.Read(reused, 8)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), got, "reused blocks start zeroed")
}

func TestWasmHeap_DoubleFree(t *testing.T) {
	h := newTestWasmHeap(t)

	addr, err := h.Alloc(8)
	require.NoError(t, err)
	require.NoError(t, h.Free(addr))
	assert.Error(t, h.Free(addr))
}

func TestWasmHeap_FreeRefusesUnzeroableBlock(t *testing.T) {
	h := newTestWasmHeap(t)

	addr, err := h.Alloc(8)
	require.NoError(t, err)

	// A block recorded beyond the guest memory cannot be zeroed; Free must
	// refuse it and keep the bookkeeping intact instead of recycling stale
	// bytes.
	bogus := nativebridge.Address(uint64(h.memory.Size()) + 64)
	h.allocs[bogus] = wasmBlock{addr: bogus, size: 8}

	require.Error(t, h.Free(bogus))
	assert.Equal(t, 2, h.Len(), "refused free must not drop the block")

	require.NoError(t, h.Free(addr))
}

func TestWasmHeap_GrowsGuestMemory(t *testing.T) {
	h := newTestWasmHeap(t)

	// Cross the first page boundary; the heap must grow the guest memory.
	for i := 0; i < 3; i++ {
		addr, err := h.Alloc(40 * 1024)
		require.NoError(t, err, "allocation %d", i)
		require.NoError(t, h.Write(addr, []byte{0xaa}))
	}
	assert.Equal(t, 3, h.Len())
}

func TestWasmHeap_ExhaustsAtMaxPages(t *testing.T) {
	ctx := context.Background()
	h, err := NewWasmHeap(ctx, WasmHeapConfig{MinPages: 1, MaxPages: 1})
	require.NoError(t, err)
	defer h.Close(ctx)

	_, err = h.Alloc(wasmPageSize * 2)
	assert.Error(t, err, "allocation beyond MaxPages must fail")
}

func TestWasmHeap_BoundsChecks(t *testing.T) {
	h := newTestWasmHeap(t)

	addr, err := h.Alloc(4)
	require.NoError(t, err)

	_, err = h.Read(addr, 8)
	assert.Error(t, err)
	assert.Error(t, h.Write(addr, make([]byte, 8)))
}

func TestWasmHeap_Close(t *testing.T) {
	ctx := context.Background()
	h, err := NewWasmHeap(ctx, WasmHeapConfig{})
	require.NoError(t, err)

	require.NoError(t, h.Close(ctx))
	require.NoError(t, h.Close(ctx), "Close is idempotent")

	_, err = h.Alloc(4)
	assert.Error(t, err)
}
