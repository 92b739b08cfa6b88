package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	nativebridge "github.com/wippyai/native-bridge"
	"github.com/wippyai/native-bridge/boundary"
	"github.com/wippyai/native-bridge/heap"
)

func main() {
	var (
		scenario    = flag.String("scenario", "all", "Scenario to run (roundtrip|shared|embedded|all)")
		heapKind    = flag.String("heap", "go", "Instance storage backend (go|wasm)")
		verbose     = flag.Bool("v", false, "Enable debug logging")
		interactive = flag.Bool("i", false, "Interactive registry inspector")
	)
	flag.Parse()

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer logger.Sync()
		boundary.SetLogger(logger)
	}

	if *interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			fmt.Fprintln(os.Stderr, "Error: interactive mode requires a terminal")
			os.Exit(1)
		}
		if err := runInteractive(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(*scenario, *heapKind); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(scenario, heapKind string) error {
	ctx := context.Background()

	var (
		store   nativebridge.Heap
		cleanup func() error
	)
	switch heapKind {
	case "go":
		h := heap.NewGoHeap()
		store, cleanup = h, h.Close
	case "wasm":
		h, err := heap.NewWasmHeap(ctx, heap.WasmHeapConfig{})
		if err != nil {
			return err
		}
		store, cleanup = h, func() error { return h.Close(ctx) }
	default:
		return fmt.Errorf("unknown heap backend %q", heapKind)
	}
	defer cleanup()

	reg := boundary.NewRegistry()
	defer reg.Close()

	scenarios := map[string]func(*boundary.Registry, nativebridge.Heap) error{
		"roundtrip": demoRoundTrip,
		"shared":    demoShared,
		"embedded":  demoEmbedded,
	}

	if scenario == "all" {
		for _, name := range []string{"roundtrip", "shared", "embedded"} {
			fmt.Printf("== %s ==\n", name)
			if err := scenarios[name](reg, store); err != nil {
				return err
			}
			fmt.Println()
		}
		return nil
	}

	fn, ok := scenarios[scenario]
	if !ok {
		return fmt.Errorf("unknown scenario %q", scenario)
	}
	return fn(reg, store)
}

func demoType(store nativebridge.Heap) *nativebridge.TypeInfo {
	return &nativebridge.TypeInfo{
		Name: "mesh",
		Size: 16,
		Destructor: func(addr nativebridge.Address) {
			fmt.Printf("   native destructor ran at 0x%x\n", uint64(addr))
		},
		Deleter: nativebridge.DeleterTagged,
		Compat:  nativebridge.CompatUnknown,
	}
}

// demoRoundTrip walks an instance through plain transfer, a tagged exclusive
// excursion to native code, and the hand-back that restores its wrapper.
func demoRoundTrip(reg *boundary.Registry, store nativebridge.Heap) error {
	typ := demoType(store)
	b, err := boundary.DeclareBinding(reg, typ)
	if err != nil {
		return err
	}

	addr, err := store.Alloc(typ.Size)
	if err != nil {
		return err
	}
	inst := nativebridge.Instance{Type: typ, Heap: store, Addr: addr}
	fmt.Printf("   native instance at 0x%x\n", uint64(addr))

	w, err := b.Cross(inst, boundary.TakeOwnership, nil)
	if err != nil {
		return err
	}
	fmt.Printf("   crossed take_ownership: state=%s refs=%d\n", w.State(), w.HostRefs())

	h, err := b.ExclusiveOut(inst)
	if err != nil {
		return err
	}
	fmt.Printf("   exclusive out: deleter=%s wrapper=%s\n", h.Deleter(), w.State())

	back, err := b.ExclusiveIn(h)
	if err != nil {
		return err
	}
	fmt.Printf("   handed back: same wrapper=%v state=%s\n", back == w, back.State())

	w.Release()
	w.Release()
	fmt.Println("   released; instance destroyed exactly once")
	return nil
}

// demoShared shows two independent control blocks over one instance and the
// per-block visibility limitation of UseCount.
func demoShared(reg *boundary.Registry, store nativebridge.Heap) error {
	typ := demoType(store)
	sb := boundary.NewSharedBridge(reg)

	addr, err := store.Alloc(typ.Size)
	if err != nil {
		return err
	}
	inst := nativebridge.Instance{Type: typ, Heap: store, Addr: addr}

	sh1, err := sb.WrapForSharing(inst)
	if err != nil {
		return err
	}
	sh2, err := sb.WrapForSharing(inst)
	if err != nil {
		return err
	}
	clone, err := sh1.Clone()
	if err != nil {
		return err
	}

	w, _ := reg.Lookup(addr)
	fmt.Printf("   wrapper refs=%d\n", w.HostRefs())
	fmt.Printf("   sh1 use_count=%d, sh2 use_count=%d (independent blocks cannot see each other)\n",
		sh1.UseCount(), sh2.UseCount())

	for _, sh := range []*boundary.SharedHandle{sh2, clone, sh1} {
		if err := sh.Release(); err != nil {
			return err
		}
	}
	fmt.Println("   all shared references released; destroyed exactly once")
	return nil
}

// demoEmbedded shows that an embedded instance never leaves host ownership
// through the plain path.
func demoEmbedded(reg *boundary.Registry, store nativebridge.Heap) error {
	typ := demoType(store)
	typ.Name = "body"
	typ.Deleter = nativebridge.DeleterPlain
	typ.Compat = nativebridge.CompatHeap

	b, err := boundary.DeclareBinding(reg, typ)
	if err != nil {
		return err
	}

	w, err := boundary.NewEmbedded(reg, store, typ)
	if err != nil {
		return err
	}
	fmt.Printf("   embedded wrapper at 0x%x: state=%s\n", uint64(w.Addr()), w.State())

	if _, err := b.ExclusiveOut(w.Instance()); err != nil {
		fmt.Printf("   plain transfer refused as expected: %v\n", err)
	} else {
		return fmt.Errorf("embedded transfer unexpectedly succeeded")
	}
	fmt.Printf("   wrapper intact: state=%s\n", w.State())

	w.Release()
	return nil
}
