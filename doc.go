// Package nativebridge reconciles two incompatible ownership models when
// native objects cross into and out of a managed, reference-counted host
// runtime.
//
// The native side uses explicit ownership: exclusive handles, shared handles
// backed by reference-counted control blocks, and manual destruction. The
// host side represents every crossing instance with a lightweight Wrapper
// whose lifetime is governed by the host's collector. The boundary layer in
// this module guarantees that each instance is destroyed exactly once, no
// matter how many times it crosses or how ownership moves between the sides.
//
// # Architecture Overview
//
// The module is organized into packages with distinct responsibilities:
//
//	nativebridge/    Root package with the instance model and Heap interface
//	├── boundary/    Wrapper, instance registry, ownership state machine,
//	│                shared-ownership bridge, finalization
//	├── heap/        Instance storage backends (in-process, wazero guest memory)
//	├── wasmbin/     Minimal WebAssembly binary encoder used by heap.WasmHeap
//	├── errors/      Structured error types for boundary failures
//	└── cmd/bridge/  Demo CLI with an interactive registry inspector
//
// # Quick Start
//
// Declare a binding for a native type, cross an instance into the host, and
// let host finalization destroy it:
//
//	reg := boundary.NewRegistry()
//	defer reg.Close()
//
//	b, err := boundary.DeclareBinding(reg, typ)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	w, err := b.Cross(inst, boundary.TakeOwnership, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	w.Release() // last host reference: destructor runs exactly once
//
// # Collaborators
//
// Three collaborators are consumed through interfaces and remain outside this
// module: the type-metadata system (supplies TypeInfo per native type), the
// call-marshalling layer (invokes Binding.Cross exactly once per crossing
// value), and the host collector itself (modeled at the boundary by the
// Wrapper's Retain/Release reference count).
package nativebridge
