package heap

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/errors"
	"github.com/wippyai/native-bridge/wasmbin"
)

const wasmPageSize = 65536

// WasmHeap stores instance bytes in the linear memory of a wazero guest
// module. The guest is a synthesized memory-only module; the Go side keeps
// the allocation map and a bump pointer, reusing freed blocks of the same
// size.
type WasmHeap struct {
	runtime  wazero.Runtime
	module   api.Module
	memory   api.Memory
	allocs   map[nativebridge.Address]wasmBlock
	freeList []wasmBlock
	next     uint32
	mu       sync.Mutex
	closed   bool
}

type wasmBlock struct {
	addr nativebridge.Address
	size uint32
}

// WasmHeapConfig bounds the guest memory.
type WasmHeapConfig struct {
	MinPages uint32
	MaxPages uint32
}

// NewWasmHeap instantiates the guest module and returns a heap over its
// exported memory.
func NewWasmHeap(ctx context.Context, cfg WasmHeapConfig) (*WasmHeap, error) {
	if cfg.MinPages == 0 {
		cfg.MinPages = 1
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 256
	}

	runtimeCfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(cfg.MaxPages)
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	bin := wasmbin.MemoryModule("memory", cfg.MinPages, cfg.MaxPages)
	mod, err := rt.InstantiateWithConfig(ctx, bin, wazero.NewModuleConfig().WithName("native-heap"))
	if err != nil {
		_ = rt.Close(ctx)
		return nil, errors.Wrap(errors.PhaseRegistry, errors.KindAllocation, err, "instantiate heap module")
	}

	mem := mod.ExportedMemory("memory")
	if mem == nil {
		_ = rt.Close(ctx)
		return nil, errors.InvalidInput(errors.PhaseRegistry, "heap module exports no memory")
	}

	return &WasmHeap{
		runtime: rt,
		module:  mod,
		memory:  mem,
		allocs:  make(map[nativebridge.Address]wasmBlock, 64),
		next:    8, // offset 0 stays unused; Address 0 is reserved
	}, nil
}

// Alloc reserves size bytes of guest memory. Guest storage is always
// dealloc-compatible: the host frees it through the same bookkeeping.
func (h *WasmHeap) Alloc(size uint32) (nativebridge.Address, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, errors.Closed(errors.PhaseRegistry, "heap")
	}

	for i, fb := range h.freeList {
		if fb.size == size {
			h.freeList = append(h.freeList[:i], h.freeList[i+1:]...)
			h.allocs[fb.addr] = fb
			return fb.addr, nil
		}
	}

	aligned := (size + 7) &^ 7
	if aligned == 0 {
		aligned = 8
	}

	offset := h.next
	end := uint64(offset) + uint64(aligned)
	if end > uint64(h.memory.Size()) {
		needed := (end - uint64(h.memory.Size()) + wasmPageSize - 1) / wasmPageSize
		if _, ok := h.memory.Grow(uint32(needed)); !ok {
			return 0, errors.AllocationFailed(size, nil)
		}
	}
	h.next = offset + aligned

	block := wasmBlock{addr: nativebridge.Address(offset), size: size}
	h.allocs[block.addr] = block
	return block.addr, nil
}

// Free releases the block at addr and zeroes its guest bytes so stale state
// never leaks into a reused allocation.
func (h *WasmHeap) Free(addr nativebridge.Address) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	block, ok := h.allocs[addr]
	if !ok {
		return errors.NotFound(errors.PhaseFinalize, "allocation", uint64(addr))
	}

	// Zero before releasing the bookkeeping: a block whose bytes cannot be
	// cleared must not reach the free list with stale state.
	if block.size > 0 {
		if !h.memory.Write(uint32(addr), make([]byte, block.size)) {
			return errors.InvalidInput(errors.PhaseFinalize, "zeroing freed bytes out of guest memory bounds")
		}
	}
	delete(h.allocs, addr)
	h.freeList = append(h.freeList, block)
	return nil
}

// Read copies length bytes of instance state out of guest memory.
func (h *WasmHeap) Read(addr nativebridge.Address, length uint32) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	block, ok := h.allocs[addr]
	if !ok {
		return nil, errors.NotFound(errors.PhaseRegistry, "allocation", uint64(addr))
	}
	if length > block.size {
		return nil, errors.InvalidInput(errors.PhaseRegistry, "read past end of allocation")
	}

	view, ok := h.memory.Read(uint32(addr), length)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseRegistry, "read out of guest memory bounds")
	}
	out := make([]byte, length)
	copy(out, view)
	return out, nil
}

// Write stores instance state into guest memory.
func (h *WasmHeap) Write(addr nativebridge.Address, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	block, ok := h.allocs[addr]
	if !ok {
		return errors.NotFound(errors.PhaseRegistry, "allocation", uint64(addr))
	}
	if uint32(len(data)) > block.size {
		return errors.InvalidInput(errors.PhaseRegistry, "write past end of allocation")
	}

	if !h.memory.Write(uint32(addr), data) {
		return errors.InvalidInput(errors.PhaseRegistry, "write out of guest memory bounds")
	}
	return nil
}

// Compatible reports whether addr is live guest storage. Everything this
// heap hands out is dealloc-compatible.
func (h *WasmHeap) Compatible(addr nativebridge.Address) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.allocs[addr]
	return ok
}

// Len returns the number of live allocations.
func (h *WasmHeap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.allocs)
}

// Close tears down the guest runtime.
func (h *WasmHeap) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.allocs = nil
	h.freeList = nil
	h.mu.Unlock()

	return h.runtime.Close(ctx)
}
