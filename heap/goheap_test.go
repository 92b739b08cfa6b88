package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoHeap_AllocReadWrite(t *testing.T) {
	h := NewGoHeap()
	defer h.Close()

	addr, err := h.Alloc(8)
	require.NoError(t, err)
	require.NotZero(t, addr)

	require.NoError(t, h.Write(addr, []byte{1, 2, 3, 4}))

	got, err := h.Read(addr, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)

	// Reads return copies.
	got[0] = 99
	again, err := h.Read(addr, 1)
	require.NoError(t, err)
	assert.Equal(t, byte(1), again[0])
}

func TestGoHeap_Compatible(t *testing.T) {
	h := NewGoHeap()
	defer h.Close()

	compat, err := h.Alloc(8)
	require.NoError(t, err)
	foreign, err := h.AllocForeign(8)
	require.NoError(t, err)

	assert.True(t, h.Compatible(compat))
	assert.False(t, h.Compatible(foreign))
	assert.False(t, h.Compatible(0xdead), "unknown address must not report compatible")
}

func TestGoHeap_FreeUnknownAddress(t *testing.T) {
	h := NewGoHeap()
	defer h.Close()

	err := h.Free(0xdead)
	require.Error(t, err)
}

func TestGoHeap_DoubleFree(t *testing.T) {
	h := NewGoHeap()
	defer h.Close()

	addr, err := h.Alloc(8)
	require.NoError(t, err)
	require.NoError(t, h.Free(addr))

	err = h.Free(addr)
	require.Error(t, err, "double free must be detected")
}

func TestGoHeap_AddressReuse(t *testing.T) {
	h := NewGoHeap()
	defer h.Close()

	addr, err := h.Alloc(16)
	require.NoError(t, err)
	require.NoError(t, h.Free(addr))

	reused, err := h.Alloc(16)
	require.NoError(t, err)
	assert.Equal(t, addr, reused, "freed blocks of the same size are reused")

	// Fresh content, not the old bytes.
	got, err := h.Read(reused, 16)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), got)
}

func TestGoHeap_BoundsChecks(t *testing.T) {
	h := NewGoHeap()
	defer h.Close()

	addr, err := h.Alloc(4)
	require.NoError(t, err)

	_, err = h.Read(addr, 8)
	assert.Error(t, err)
	assert.Error(t, h.Write(addr, make([]byte, 8)))
}

func TestGoHeap_Close(t *testing.T) {
	h := NewGoHeap()

	_, err := h.Alloc(4)
	require.NoError(t, err)

	require.NoError(t, h.Close())
	require.NoError(t, h.Close(), "Close is idempotent")

	_, err = h.Alloc(4)
	assert.Error(t, err, "closed heap refuses allocation")
}

func TestGoHeap_Len(t *testing.T) {
	h := NewGoHeap()
	defer h.Close()

	a, err := h.Alloc(4)
	require.NoError(t, err)
	_, err = h.Alloc(4)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Len())

	require.NoError(t, h.Free(a))
	assert.Equal(t, 1, h.Len())
}
