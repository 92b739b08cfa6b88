// Package errors provides structured error types for the native-bridge
// boundary layer.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes context: the native type name, the
// instance address, a detail message, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseTransfer, errors.KindOwnershipTransfer).
//		Type("mesh").
//		Addr(addr).
//		Detail("instance is not dealloc-compatible").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OwnershipTransfer(errors.PhaseTransfer, "mesh", addr, "embedded instance")
//	err := errors.UseAfterInvalidation("mesh", addr)
//
// All errors implement the standard error interface and support errors.Is/As.
// Two *Error values match under errors.Is when Phase and Kind agree.
package errors
