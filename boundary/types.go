package boundary

import (
	nativebridge "github.com/wippyai/native-bridge"
)

// State is the ownership state of a Wrapper.
type State uint8

const (
	// NativeOwned means the native side is the destruction authority; the
	// wrapper is a non-owning view.
	NativeOwned State = iota

	// HostOwned means destruction is deferred to host finalization.
	HostOwned

	// Invalid means the wrapper is revoked pending a reverse transfer.
	Invalid
)

func (s State) String() string {
	switch s {
	case NativeOwned:
		return "native-owned"
	case HostOwned:
		return "host-owned"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Event types for wrapper lifecycle notifications.
type EventType uint8

const (
	EventWrapped EventType = iota
	EventInvalidated
	EventRevalidated
	EventFinalized
	EventDestroyed
)

func (t EventType) String() string {
	switch t {
	case EventWrapped:
		return "wrapped"
	case EventInvalidated:
		return "invalidated"
	case EventRevalidated:
		return "revalidated"
	case EventFinalized:
		return "finalized"
	case EventDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Event represents a wrapper lifecycle event.
type Event struct {
	Wrapper *Wrapper
	Addr    nativebridge.Address
	State   State
	Type    EventType
}

// Observer receives notifications about wrapper lifecycle events. Observers
// are called synchronously and must not block.
type Observer interface {
	OnBoundaryEvent(Event)
}
