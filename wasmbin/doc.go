// Package wasmbin encodes the minimal WebAssembly binary modules used by
// heap.WasmHeap. The only module shape it knows how to build is a
// memory-only module: one memory definition plus one export, no code. That
// is all a storage-only guest needs; allocation bookkeeping lives on the Go
// side.
package wasmbin
