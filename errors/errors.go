package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the boundary layer the error occurred
type Phase string

const (
	PhaseDeclare  Phase = "declare"  // binding declaration
	PhaseTransfer Phase = "transfer" // exclusive ownership transfer
	PhaseShare    Phase = "share"    // shared ownership bridging
	PhaseRegistry Phase = "registry" // instance registry mutation
	PhaseFinalize Phase = "finalize" // host-collector finalization
)

// Kind categorizes the error
type Kind string

const (
	KindOwnershipTransfer    Kind = "ownership_transfer"
	KindUseAfterInvalidation Kind = "use_after_invalidation"
	KindUnsupportedDeleter   Kind = "unsupported_deleter"
	KindDoubleRegistration   Kind = "double_registration"
	KindIllegalSelfOwnership Kind = "illegal_self_ownership"
	KindAllocation           Kind = "allocation"
	KindNotFound             Kind = "not_found"
	KindClosed               Kind = "closed"
	KindInvalidInput         Kind = "invalid_input"
)

// Error is the structured error type used throughout the boundary layer
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Type   string
	Detail string
	Addr   uint64
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Type != "" {
		b.WriteString(": type ")
		b.WriteString(e.Type)
	}

	if e.Addr != 0 {
		if e.Type != "" {
			b.WriteString(" at ")
		} else {
			b.WriteString(": at ")
		}
		fmt.Fprintf(&b, "0x%x", e.Addr)
	}

	if e.Detail != "" {
		if e.Type != "" || e.Addr != 0 {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Type sets the native type name
func (b *Builder) Type(t string) *Builder {
	b.err.Type = t
	return b
}

// Addr sets the instance address
func (b *Builder) Addr(addr uint64) *Builder {
	b.err.Addr = addr
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// OwnershipTransfer creates an illegal plain-transfer error
func OwnershipTransfer(phase Phase, typeName string, addr uint64, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOwnershipTransfer,
		Type:   typeName,
		Addr:   addr,
		Detail: detail,
	}
}

// UseAfterInvalidation creates an error for an operation on an invalidated wrapper
func UseAfterInvalidation(typeName string, addr uint64) *Error {
	return &Error{
		Phase:  PhaseTransfer,
		Kind:   KindUseAfterInvalidation,
		Type:   typeName,
		Addr:   addr,
		Detail: "wrapper is invalid pending reverse transfer",
	}
}

// UnsupportedDeleter creates an error for a deleter kind outside the supported set
func UnsupportedDeleter(typeName string, kind uint8) *Error {
	return &Error{
		Phase:  PhaseDeclare,
		Kind:   KindUnsupportedDeleter,
		Type:   typeName,
		Detail: fmt.Sprintf("deleter kind %d is not supported", kind),
	}
}

// DoubleRegistration creates an error for registering an occupied address
func DoubleRegistration(typeName string, addr uint64) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindDoubleRegistration,
		Type:   typeName,
		Addr:   addr,
		Detail: "address already resolves to a live wrapper",
	}
}

// IllegalSelfOwnership creates an error for deriving a self-referential
// shared handle from a host-owned instance
func IllegalSelfOwnership(typeName string, addr uint64) *Error {
	return &Error{
		Phase:  PhaseShare,
		Kind:   KindIllegalSelfOwnership,
		Type:   typeName,
		Addr:   addr,
		Detail: "cannot derive shared ownership from a host-owned instance",
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what string, addr uint64) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Addr:   addr,
		Detail: fmt.Sprintf("%s not found", what),
	}
}

// Closed creates an error for operations on a closed component
func Closed(phase Phase, component string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s is closed", component),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
