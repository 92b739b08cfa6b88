package heap

import (
	"sync"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/errors"
)

// GoHeap is an in-process instance storage backend. Freed addresses of the
// same size are reused, which exercises the registry's stale-address
// contract the way a real allocator would.
type GoHeap struct {
	allocs   map[nativebridge.Address]*allocation
	freeList []freedBlock
	next     nativebridge.Address
	mu       sync.Mutex
	closed   bool
}

type allocation struct {
	data       []byte
	compatible bool
}

type freedBlock struct {
	addr nativebridge.Address
	size uint32
}

// NewGoHeap creates an empty heap.
func NewGoHeap() *GoHeap {
	return &GoHeap{
		allocs: make(map[nativebridge.Address]*allocation, 64),
		next:   0x1000,
	}
}

// Alloc reserves size bytes of dealloc-compatible storage.
func (h *GoHeap) Alloc(size uint32) (nativebridge.Address, error) {
	return h.alloc(size, true)
}

// AllocForeign reserves size bytes that are never dealloc-compatible,
// modeling stack or foreign-allocator storage.
func (h *GoHeap) AllocForeign(size uint32) (nativebridge.Address, error) {
	return h.alloc(size, false)
}

func (h *GoHeap) alloc(size uint32, compatible bool) (nativebridge.Address, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, errors.Closed(errors.PhaseRegistry, "heap")
	}

	a := &allocation{data: make([]byte, size), compatible: compatible}

	for i, fb := range h.freeList {
		if fb.size == size {
			h.freeList = append(h.freeList[:i], h.freeList[i+1:]...)
			h.allocs[fb.addr] = a
			return fb.addr, nil
		}
	}

	addr := h.next
	h.next += nativebridge.Address(size)
	if size == 0 {
		h.next++
	}
	h.allocs[addr] = a
	return addr, nil
}

// Free releases the storage at addr. Freeing an unknown or already freed
// address is an error.
func (h *GoHeap) Free(addr nativebridge.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.allocs[addr]
	if !ok {
		return errors.NotFound(errors.PhaseFinalize, "allocation", uint64(addr))
	}

	size := uint32(len(a.data))
	delete(h.allocs, addr)
	if a.compatible {
		h.freeList = append(h.freeList, freedBlock{addr: addr, size: size})
	}
	return nil
}

// Read copies length bytes of instance state starting at addr.
func (h *GoHeap) Read(addr nativebridge.Address, length uint32) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.allocs[addr]
	if !ok {
		return nil, errors.NotFound(errors.PhaseRegistry, "allocation", uint64(addr))
	}
	if int(length) > len(a.data) {
		return nil, errors.InvalidInput(errors.PhaseRegistry, "read past end of allocation")
	}

	out := make([]byte, length)
	copy(out, a.data[:length])
	return out, nil
}

// Write stores instance state at addr.
func (h *GoHeap) Write(addr nativebridge.Address, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.allocs[addr]
	if !ok {
		return errors.NotFound(errors.PhaseRegistry, "allocation", uint64(addr))
	}
	if len(data) > len(a.data) {
		return errors.InvalidInput(errors.PhaseRegistry, "write past end of allocation")
	}

	copy(a.data, data)
	return nil
}

// Compatible reports whether addr was allocated compatibly with
// host-deferred deallocation.
func (h *GoHeap) Compatible(addr nativebridge.Address) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	a, ok := h.allocs[addr]
	return ok && a.compatible
}

// Len returns the number of live allocations.
func (h *GoHeap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.allocs)
}

// Close releases all allocations and stops accepting operations.
func (h *GoHeap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.allocs = nil
	h.freeList = nil
	return nil
}
