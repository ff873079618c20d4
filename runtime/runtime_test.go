package runtime

import (
	"strings"
	"testing"

	"github.com/antlover26/malang/bound"
	"github.com/antlover26/malang/heap"
	"github.com/antlover26/malang/types"
	"github.com/antlover26/malang/value"
)

// fakeMachine is a minimal bound.Machine stand-in so this package's tests
// can exercise natives directly, without pulling in the vm package (which
// would import runtime's caller, not the reverse).
type fakeMachine struct {
	out    strings.Builder
	ts     *types.Store
	heap   *heap.Heap
	paused bool
	broken bool
}

func newFakeMachine(ts *types.Store) *fakeMachine {
	return &fakeMachine{ts: ts, heap: heap.New(ts)}
}

func (m *fakeMachine) Push(value.Value)                 {}
func (m *fakeMachine) Pop() value.Value                 { return value.Null }
func (m *fakeMachine) PopN(n int) []value.Value          { return nil }
func (m *fakeMachine) Heap() bound.Heap                  { return m.heap }
func (m *fakeMachine) Types() *types.Store                { return m.ts }
func (m *fakeMachine) Trap(kind int, message string)     { panic(message) }
func (m *fakeMachine) PauseGC()                          { m.paused = true }
func (m *fakeMachine) ResumeGC()                         { m.paused = false }
func (m *fakeMachine) CollectNow() int                   { return m.heap.Run(m) }
func (m *fakeMachine) SnapshotString() string            { return "<snapshot>" }
func (m *fakeMachine) SetBreaking(b bool)                { m.broken = b }
func (m *fakeMachine) Breaking() bool                    { return m.broken }
func (m *fakeMachine) StackTrace() string                { return "<trace>" }
func (m *fakeMachine) Write(s string)                    { m.out.WriteString(s) }
func (m *fakeMachine) GCRoots() []value.Value            { return nil }

func newPrimitiveTypes(ts *types.Store) PrimitiveTypes {
	return PrimitiveTypes{
		Int:    ts.Declare("int", types.None).ID,
		Bool:   ts.Declare("bool", types.None).ID,
		Double: ts.Declare("double", types.None).ID,
		Buffer: ts.Declare("Buffer", types.None).ID,
		String: ts.Declare("string", types.None).ID,
		Object: ts.Declare("object", types.None).ID,
	}
}

func TestRegisterInstallsEveryBuiltin(t *testing.T) {
	ts := types.NewStore()
	pt := newPrimitiveTypes(ts)
	if err := ts.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}

	fns := bound.NewMap()
	if err := Register(fns, pt); err != nil {
		t.Fatalf("Register: %v", err)
	}

	want := []bound.Signature{
		{Name: "println", Params: []types.ID{pt.Int}},
		{Name: "println", Params: []types.ID{pt.Bool}},
		{Name: "println", Params: []types.ID{pt.Double}},
		{Name: "println", Params: []types.ID{pt.Buffer}},
		{Name: "println", Params: []types.ID{pt.String}},
		{Name: "println", Params: []types.ID{pt.Object}},
		{Name: "stack_trace"},
		{Name: "gc_pause"},
		{Name: "gc_resume"},
		{Name: "gc_run"},
		{Name: "breakpoint"},
	}
	for _, sig := range want {
		if _, ok := fns.Lookup(sig); !ok {
			t.Errorf("missing registration for %+v", sig)
		}
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	ts := types.NewStore()
	pt := newPrimitiveTypes(ts)
	if err := ts.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}

	fns := bound.NewMap()
	if err := Register(fns, pt); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := Register(fns, pt); err == nil {
		t.Fatal("Register: want error on duplicate registration, got nil")
	}
}

func TestPrintlnOverloadsFormatByType(t *testing.T) {
	ts := types.NewStore()
	pt := newPrimitiveTypes(ts)
	dog := ts.Declare("Dog", types.None)
	if err := ts.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}

	cases := []struct {
		name string
		fn   bound.NativeFunc
		arg  func(m *fakeMachine) value.Value
		want string
	}{
		{"int", printlnInt, func(m *fakeMachine) value.Value { return value.FromFixnum(42) }, "42\n"},
		{"bool true", printlnBool, func(m *fakeMachine) value.Value { return value.FromBoolean(true) }, "true\n"},
		{"bool false", printlnBool, func(m *fakeMachine) value.Value { return value.FromBoolean(false) }, "false\n"},
		{"double", printlnDouble, func(m *fakeMachine) value.Value { return value.FromDouble(3.5) }, "3.5\n"},
		{"buffer", printlnBuffer, func(m *fakeMachine) value.Value {
			obj := m.heap.AllocBuffer(m, pt.Buffer, 3)
			obj.SetBytes([]byte("abc"))
			return heap.ToValue(obj)
		}, "abc\n"},
		{"string", printlnString, func(m *fakeMachine) value.Value {
			return heap.ToValue(m.heap.AllocString(m, pt.String, []byte("hello")))
		}, "hello\n"},
		{"object", printlnObject, func(m *fakeMachine) value.Value {
			return heap.ToValue(m.heap.AllocPlain(m, dog.ID))
		}, "Dog\n"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := newFakeMachine(ts)
			arg := c.arg(m)
			c.fn(m, []value.Value{arg})
			if got := m.out.String(); got != c.want {
				t.Errorf("output = %q, want %q", got, c.want)
			}
		})
	}
}

func TestGCNatives(t *testing.T) {
	ts := types.NewStore()
	plain := ts.Declare("Plain", types.None)
	if err := ts.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}

	m := newFakeMachine(ts)
	m.heap.Pause()
	for i := 0; i < 5; i++ {
		m.heap.AllocPlain(m, plain.ID)
	}

	nativeGCPause(m, nil)
	if !m.paused {
		t.Error("gc_pause did not pause")
	}
	nativeGCResume(m, nil)
	if m.paused {
		t.Error("gc_resume did not resume")
	}

	nativeGCRun(m, nil)
	if m.heap.Count() != 0 {
		t.Errorf("Count() after gc_run = %d, want 0", m.heap.Count())
	}
	if !strings.Contains(m.out.String(), "<snapshot>") {
		t.Errorf("gc_run output = %q, want it to contain the snapshot diagnostic", m.out.String())
	}
}

func TestBreakpointNative(t *testing.T) {
	ts := types.NewStore()
	m := newFakeMachine(ts)
	nativeBreakpoint(m, nil)
	if !m.broken {
		t.Error("breakpoint did not set the debug flag")
	}
}

func TestStackTraceNative(t *testing.T) {
	ts := types.NewStore()
	m := newFakeMachine(ts)
	nativeStackTrace(m, nil)
	if got := m.out.String(); got != "<trace>" {
		t.Errorf("output = %q, want %q", got, "<trace>")
	}
}

func TestResolverRebindsByNameAndParams(t *testing.T) {
	ts := types.NewStore()
	pt := newPrimitiveTypes(ts)
	if err := ts.Link(); err != nil {
		t.Fatalf("Link: %v", err)
	}

	resolve := Resolver(pt)

	fn, ok := resolve("println", []types.ID{pt.Int})
	if !ok {
		t.Fatal("Resolver: println(int) not found")
	}
	m := newFakeMachine(ts)
	fn(m, []value.Value{value.FromFixnum(7)})
	if got := m.out.String(); got != "7\n" {
		t.Errorf("output = %q, want %q", got, "7\n")
	}

	if _, ok := resolve("println", []types.ID{types.ID(999)}); ok {
		t.Error("Resolver: want no match for an unregistered signature")
	}
	if _, ok := resolve("no_such_native", nil); ok {
		t.Error("Resolver: want no match for an unregistered name")
	}
}
