// Package bound implements the Bound Function Map: a name+signature keyed
// table resolving to either a bytecode entry point or a native Go thunk,
// plus the narrow Machine interface native functions use to touch VM
// state without importing the vm package directly.
package bound

import (
	"fmt"

	"github.com/antlover26/malang/types"
	"github.com/antlover26/malang/value"
)

// ID identifies a bound function within a Map. Stable for the lifetime of
// the map; this is what call-site bytecode operands reference.
type ID int32

// Kind distinguishes a bytecode-backed function from a native Go one.
type Kind uint8

const (
	Bytecode Kind = iota
	Native
)

// Signature is a name plus an ordered parameter-type list. Two functions
// with the same name but different signatures are distinct bound
// functions — Malang has no overload resolution by argument count alone,
// only exact signature match, mirroring the type store's MethodKey.
type Signature struct {
	Name   string
	Params []types.ID
}

func (s Signature) key() string {
	k := s.Name + "("
	for i, p := range s.Params {
		if i > 0 {
			k += ","
		}
		k += fmt.Sprintf("%d", p)
	}
	return k + ")"
}

// NativeFunc is a Go implementation of a bound function. It receives a
// Machine handle instead of a concrete *vm.VM so that native functions
// (and this package) never import vm, avoiding an import cycle between
// vm (which must resolve calls through this map) and its natives.
type NativeFunc func(m Machine, args []value.Value) value.Value

// Machine is the narrow surface a native function needs: push/pop on the
// data stack, heap and type-store access, the GC controls exposed as
// natives (§4.3), and the ability to raise a trap. The vm package's *VM
// satisfies this interface; native code never sees anything else of VM
// state, per the spec's Design Note that natives take "an explicit
// context handle" instead of reaching for process-wide globals.
type Machine interface {
	Push(value.Value)
	Pop() value.Value
	PopN(n int) []value.Value
	Heap() Heap
	Types() *types.Store
	Trap(kind int, message string) // kind is vm.TrapKind, passed as int to avoid the cycle

	// PauseGC / ResumeGC toggle automatic collection (gc_pause/gc_resume).
	PauseGC()
	ResumeGC()
	// CollectNow forces an immediate collection irrespective of the
	// trigger policy (gc_run) and returns the number of objects freed.
	CollectNow() int
	// SnapshotString renders a diagnostic identifier for the most recent
	// CollectNow cycle (gc_run's heap-dump output).
	SnapshotString() string
	// SetBreaking toggles the VM's debug flag (the breakpoint native).
	SetBreaking(bool)
	// StackTrace renders the current call stack, used by the
	// stack_trace native to print a trace without trapping.
	StackTrace() string
	// Write emits program output (the println family). Routed through
	// the Machine rather than straight to os.Stdout so tests can
	// capture it.
	Write(s string)
}

// Heap is the subset of *heap.Heap a native function may call, named
// narrowly for the same import-cycle reason as Machine.
type Heap interface {
	Collections() int
	Count() int
}

// Function is one entry in the Bound Function Map: either a bytecode
// entry point (Arity, ReturnType, NumLocals, EntryOffset into the code
// section) or a native thunk, never both.
type Function struct {
	ID        ID
	Signature Signature

	Kind Kind

	// Bytecode kind:
	EntryOffset int
	NumLocals   int

	// Native kind:
	Native NativeFunc

	ReturnType types.ID
}

func (f *Function) Arity() int { return len(f.Signature.Params) }

// Map is the Bound Function Map: name+signature resolves to a stable ID,
// insertion order is preserved (so a persisted image's bound-function
// table has a deterministic layout), and duplicate registration is
// rejected outright — codegen and native registration both go through
// Add, so a signature collision is always a program error, not a runtime
// condition.
type Map struct {
	byKey []Function
	index map[string]ID
}

// NewMap creates an empty Bound Function Map.
func NewMap() *Map {
	return &Map{index: make(map[string]ID)}
}

// Add registers a bytecode-backed function and returns its ID.
func (m *Map) Add(sig Signature, entryOffset, numLocals int, returnType types.ID) (ID, error) {
	return m.add(Function{
		Signature:   sig,
		Kind:        Bytecode,
		EntryOffset: entryOffset,
		NumLocals:   numLocals,
		ReturnType:  returnType,
	})
}

// AddNative registers a native Go thunk and returns its ID.
func (m *Map) AddNative(sig Signature, fn NativeFunc, returnType types.ID) (ID, error) {
	return m.add(Function{
		Signature:  sig,
		Kind:       Native,
		Native:     fn,
		ReturnType: returnType,
	})
}

func (m *Map) add(fn Function) (ID, error) {
	key := fn.Signature.key()
	if _, exists := m.index[key]; exists {
		return -1, fmt.Errorf("bound: duplicate registration for %s", key)
	}
	id := ID(len(m.byKey))
	fn.ID = id
	m.byKey = append(m.byKey, fn)
	m.index[key] = id
	return id, nil
}

// Lookup resolves a function by exact signature.
func (m *Map) Lookup(sig Signature) (ID, bool) {
	id, ok := m.index[sig.key()]
	return id, ok
}

// Get returns the Function for id. Panics on an invalid ID — an
// out-of-range bound-function ID reaching the interpreter is a codegen or
// image-loading bug.
func (m *Map) Get(id ID) *Function {
	if id < 0 || int(id) >= len(m.byKey) {
		panic(fmt.Sprintf("bound: invalid function id %d", id))
	}
	return &m.byKey[id]
}

// Len returns the number of registered functions.
func (m *Map) Len() int { return len(m.byKey) }

// All returns every registered function, in registration order — used by
// the image writer to serialize the bound-function table deterministically.
func (m *Map) All() []Function { return m.byKey }
