// Package heap provides native instance storage backends implementing the
// nativebridge.Heap interface.
//
// GoHeap keeps instance bytes in process memory and is the default backend.
// It can also hand out foreign allocations (AllocForeign), which model
// stack-allocated or externally allocated instances: they are readable and
// writable but report as not dealloc-compatible, so plain ownership
// transfer into the host refuses them.
//
// WasmHeap keeps instance bytes in the linear memory of a wazero guest
// module, for hosts whose native side lives inside a WebAssembly sandbox.
// The guest module is synthesized by the wasmbin package and exports only a
// memory; allocation bookkeeping stays on the Go side.
package heap
