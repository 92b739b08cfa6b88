package boundary

import (
	"sync"
	"testing"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/heap"
)

// destructorCounter counts destructor invocations per address.
type destructorCounter struct {
	mu    sync.Mutex
	calls map[nativebridge.Address]int
}

func newDestructorCounter() *destructorCounter {
	return &destructorCounter{calls: make(map[nativebridge.Address]int)}
}

func (c *destructorCounter) destructor(addr nativebridge.Address) {
	c.mu.Lock()
	c.calls[addr]++
	c.mu.Unlock()
}

func (c *destructorCounter) count(addr nativebridge.Address) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[addr]
}

func (c *destructorCounter) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

type testEnv struct {
	reg   *Registry
	heap  *heap.GoHeap
	typ   *nativebridge.TypeInfo
	dtors *destructorCounter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dtors := newDestructorCounter()
	env := &testEnv{
		reg:   NewRegistry(),
		heap:  heap.NewGoHeap(),
		dtors: dtors,
	}
	env.typ = &nativebridge.TypeInfo{
		Name:       "mesh",
		Size:       16,
		Destructor: dtors.destructor,
		Deleter:    nativebridge.DeleterTagged,
		Compat:     nativebridge.CompatUnknown,
	}
	t.Cleanup(func() {
		env.reg.Close()
	})
	return env
}

// newInstance allocates dealloc-compatible storage for the env's type.
func (e *testEnv) newInstance(t *testing.T) nativebridge.Instance {
	t.Helper()

	addr, err := e.heap.Alloc(e.typ.Size)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	return nativebridge.Instance{Type: e.typ, Heap: e.heap, Addr: addr}
}

// newForeignInstance allocates storage that is not dealloc-compatible.
func (e *testEnv) newForeignInstance(t *testing.T) nativebridge.Instance {
	t.Helper()

	addr, err := e.heap.AllocForeign(e.typ.Size)
	if err != nil {
		t.Fatalf("AllocForeign failed: %v", err)
	}
	return nativebridge.Instance{Type: e.typ, Heap: e.heap, Addr: addr}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) OnBoundaryEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) byType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
