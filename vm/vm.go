// Package vm implements Malang's interpreter: the fetch-decode-dispatch
// loop over a linear bytecode stream, the data/call stacks and local
// slots described by §3.6, the Call/Return/virtual-dispatch protocols of
// §4.7, and the fatal-trap error path of §7.2.
package vm

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/antlover26/malang/bound"
	"github.com/antlover26/malang/bytecode"
	"github.com/antlover26/malang/codegen"
	"github.com/antlover26/malang/heap"
	"github.com/antlover26/malang/types"
	"github.com/antlover26/malang/value"
)

// maxDataStack and maxCallDepth are the VM's hard caps (§3.6: "Bounded by
// a hard cap; overflow is fatal"). Malang does not grow these
// unboundedly the way a hosted scripting VM with virtual memory to spare
// might; a program that needs more is a program with unbounded
// recursion or a runaway expression stack.
const (
	maxDataStack = 1 << 16
	maxCallDepth = 1 << 12
)

// Frame is one call-stack record (§3.6): the return address, the base
// and count of this invocation's local slots (which double as its
// argument slots — see Call's protocol below), and the bound function
// this frame is executing, for Return's void/non-void decision and for
// stack-trace rendering.
type Frame struct {
	ReturnPC   int
	LocalsBase int
	NumLocals  int
	CalleeID   bound.ID // -1 for the synthetic top-level frame
}

// VM is a stack machine interpreting one finalized codegen.Program. Data
// stack and locals share one array exactly as §4.7's Call protocol
// implies ("arguments remain on the data stack as the bottom A slots of
// the new frame's locals"): a frame's locals occupy the base of its
// stack window, and expression evaluation within the frame grows above
// them.
type VM struct {
	prog *codegen.Program
	gc   *heap.Heap

	stack []value.Value
	sp    int

	frames []Frame
	fp     int
	maxFP  int // deepest fp reached, for call-depth diagnostics

	pc int

	breaking bool

	// stringObjects holds every materialized string-literal object,
	// keyed by its constant-pool index, and doubles as a permanent GC
	// root set: string interns are "kept permanently marked" per §4.3's
	// mark phase description, which this VM implements by always
	// including them in GCRoots rather than statically painting them
	// Black (simpler, and the sweep phase never runs before the first
	// root walk anyway).
	stringObjects map[int]*heap.Object

	out func(string) // println-family natives write through this

	lastSnapshot Snapshot
}

// Snapshot is a diagnostic record of one CollectNow cycle: an identifier
// unique to that cycle (for correlating gc_run output against external
// heap-dump tooling), plus the freed/live counts the cycle produced.
type Snapshot struct {
	ID          string
	Freed       int
	LiveObjects int
}

// Option configures a VM at construction.
type Option func(*VM)

// WithOutput redirects println-family native output, used by tests to
// capture program output instead of writing to stdout.
func WithOutput(w func(string)) Option {
	return func(v *VM) { v.out = w }
}

// New constructs a VM for prog, backed by gc, and materializes every
// string-literal constant into a heap String object (the constant
// pool's placeholder Null entries, written by codegen for ir.ConstStr,
// are patched in place here — see codegen.Compiler.internString).
func New(prog *codegen.Program, gc *heap.Heap, opts ...Option) *VM {
	stringType, _ := prog.Types.Lookup("string")

	v := &VM{
		prog:          prog,
		gc:            gc,
		stack:         make([]value.Value, maxDataStack),
		frames:        make([]Frame, maxCallDepth),
		fp:            -1,
		stringObjects: make(map[int]*heap.Object),
		out:           func(s string) { fmt.Print(s) },
	}
	for _, opt := range opts {
		opt(v)
	}

	for idx, s := range prog.StringConstants {
		obj := gc.AllocString(v, stringType, []byte(s))
		v.stringObjects[idx] = obj
		prog.Constants[idx] = heap.ToValue(obj)
	}

	return v
}

// ---------------------------------------------------------------------------
// bound.Machine / heap.RootSource
// ---------------------------------------------------------------------------

// Push implements bound.Machine.
func (v *VM) Push(val value.Value) { v.push(val) }

// Pop implements bound.Machine.
func (v *VM) Pop() value.Value { return v.pop() }

// PopN implements bound.Machine.
func (v *VM) PopN(n int) []value.Value { return v.popN(n) }

// Heap implements bound.Machine, exposing only the diagnostic subset
// natives are allowed to see directly (GC control goes through the
// dedicated Pause/Resume/CollectNow methods instead).
func (v *VM) Heap() bound.Heap { return v.gc }

// Types implements bound.Machine.
func (v *VM) Types() *types.Store { return v.prog.Types }

// Trap implements bound.Machine: a native that cannot satisfy its
// contract raises the same fatal path as a bytecode-level trap.
func (v *VM) Trap(kind int, message string) { v.trap(TrapKind(kind), message) }

// PauseGC implements bound.Machine.
func (v *VM) PauseGC() { v.gc.Pause() }

// ResumeGC implements bound.Machine.
func (v *VM) ResumeGC() { v.gc.Resume() }

// CollectNow implements bound.Machine. It runs a full collection and
// records a Snapshot of the cycle, retrievable via SnapshotString for
// the gc_run native's diagnostic output.
func (v *VM) CollectNow() int {
	freed := v.gc.Run(v)
	v.lastSnapshot = Snapshot{
		ID:          uuid.New().String(),
		Freed:       freed,
		LiveObjects: v.gc.Count(),
	}
	return freed
}

// SnapshotString implements bound.Machine, rendering the most recent
// CollectNow cycle's Snapshot as a single diagnostic line.
func (v *VM) SnapshotString() string {
	s := v.lastSnapshot
	return fmt.Sprintf("gc snapshot %s: freed=%d live=%d", s.ID, s.Freed, s.LiveObjects)
}

// SetBreaking implements bound.Machine.
func (v *VM) SetBreaking(b bool) { v.breaking = b }

// Breaking reports whether the breakpoint native has fired.
func (v *VM) Breaking() bool { return v.breaking }

// MaxCallDepth reports the deepest call-stack depth reached during the
// most recent Run, including the entry frame. Used by tests to verify
// recursion depth without instrumenting program bytecode.
func (v *VM) MaxCallDepth() int { return v.maxFP + 1 }

// StackTrace implements bound.Machine.
func (v *VM) StackTrace() string { return v.formatTrace(v.snapshotTrace()) }

// Write implements bound.Machine.
func (v *VM) Write(s string) { v.out(s) }

// GCRoots implements heap.RootSource: every live Object value currently
// on the data stack (which, per the frame layout above, includes every
// live local), plus every materialized string intern.
func (v *VM) GCRoots() []value.Value {
	roots := make([]value.Value, 0, v.sp+len(v.stringObjects))
	roots = append(roots, v.stack[:v.sp]...)
	for _, obj := range v.stringObjects {
		roots = append(roots, heap.ToValue(obj))
	}
	return roots
}

// ---------------------------------------------------------------------------
// Stack primitives
// ---------------------------------------------------------------------------

func (v *VM) push(val value.Value) {
	if v.sp >= len(v.stack) {
		v.trap(TrapStackOverflow, fmt.Sprintf("data stack exceeded %d slots", maxDataStack))
	}
	v.stack[v.sp] = val
	v.sp++
}

func (v *VM) pop() value.Value {
	if v.sp <= 0 {
		panic("vm: pop: stack underflow")
	}
	v.sp--
	return v.stack[v.sp]
}

func (v *VM) popN(n int) []value.Value {
	if v.sp < n {
		panic("vm: popN: stack underflow")
	}
	result := make([]value.Value, n)
	v.sp -= n
	copy(result, v.stack[v.sp:v.sp+n])
	return result
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

// Run executes prog from its entry point to completion, returning a
// *Trap if a fatal condition was raised. The entry point is treated as
// an ordinary frame with no bound function behind it (CalleeID -1):
// Return at frame 0 ends execution rather than resuming a caller.
func (v *VM) Run() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if t, ok := r.(*Trap); ok {
				err = t
				return
			}
			panic(r)
		}
	}()

	v.fp = 0
	v.frames[0] = Frame{ReturnPC: -1, LocalsBase: 0, NumLocals: 0, CalleeID: -1}
	v.sp = 0
	v.pc = v.prog.EntryPoint

	for v.fp >= 0 {
		v.step()
	}
	return nil
}

func (v *VM) readOpcode() bytecode.Opcode {
	op := bytecode.Opcode(v.prog.Code[v.pc])
	v.pc++
	return op
}

func (v *VM) readU16() uint16 {
	lo, hi := v.prog.Code[v.pc], v.prog.Code[v.pc+1]
	v.pc += 2
	return uint16(lo) | uint16(hi)<<8
}

func (v *VM) readI16() int16 { return int16(v.readU16()) }

func (v *VM) readU16Pair() (uint16, uint16) {
	a := v.readU16()
	b := v.readU16()
	return a, b
}

// step fetches, decodes and executes exactly one instruction.
func (v *VM) step() {
	op := v.readOpcode()
	switch op {

	// --- Constants / loads ---
	case bytecode.OpLoadConstant:
		idx := v.readU16()
		v.push(v.prog.Constants[idx])
	case bytecode.OpLoadTrue:
		v.push(value.True)
	case bytecode.OpLoadFalse:
		v.push(value.False)
	case bytecode.OpLoadNull:
		v.push(value.Null)

	// --- Locals ---
	case bytecode.OpLoadLocal:
		n := v.readU16()
		v.push(v.stack[v.frame().LocalsBase+int(n)])
	case bytecode.OpStoreLocal:
		n := v.readU16()
		val := v.pop()
		v.stack[v.frame().LocalsBase+int(n)] = val
	case bytecode.OpAllocLocals:
		n := int(v.readU16())
		v.allocLocals(n)

	// --- Stack ---
	case bytecode.OpDup:
		v.push(v.stack[v.sp-1])
	case bytecode.OpDrop:
		v.pop()
	case bytecode.OpDropN:
		n := v.readU16()
		v.popN(int(n))

	// --- Integer arithmetic/logic ---
	case bytecode.OpIAdd:
		v.binaryInt(func(a, b int32) int32 { return a + b })
	case bytecode.OpISub:
		v.binaryInt(func(a, b int32) int32 { return a - b })
	case bytecode.OpIMul:
		v.binaryInt(func(a, b int32) int32 { return a * b })
	case bytecode.OpIDiv:
		v.intDivMod(false)
	case bytecode.OpIMod:
		v.intDivMod(true)
	case bytecode.OpIShl:
		v.binaryInt(func(a, b int32) int32 { return a << uint32(b) })
	case bytecode.OpIShr:
		v.binaryInt(func(a, b int32) int32 { return a >> uint32(b) })
	case bytecode.OpIAnd:
		v.binaryInt(func(a, b int32) int32 { return a & b })
	case bytecode.OpIOr:
		v.binaryInt(func(a, b int32) int32 { return a | b })
	case bytecode.OpIXor:
		v.binaryInt(func(a, b int32) int32 { return a ^ b })
	case bytecode.OpIEq:
		v.binaryIntBool(func(a, b int32) bool { return a == b })
	case bytecode.OpINe:
		v.binaryIntBool(func(a, b int32) bool { return a != b })
	case bytecode.OpILt:
		v.binaryIntBool(func(a, b int32) bool { return a < b })
	case bytecode.OpILe:
		v.binaryIntBool(func(a, b int32) bool { return a <= b })
	case bytecode.OpIGt:
		v.binaryIntBool(func(a, b int32) bool { return a > b })
	case bytecode.OpIGe:
		v.binaryIntBool(func(a, b int32) bool { return a >= b })
	case bytecode.OpINeg:
		v.push(value.FromFixnum(-v.pop().AsFixnum()))
	case bytecode.OpIPos:
		// no-op: unary plus does not change a Fixnum's value or tag.
	case bytecode.OpINot:
		v.push(value.FromBoolean(!v.pop().IsTruthy()))
	case bytecode.OpIInvert:
		v.push(value.FromFixnum(^v.pop().AsFixnum()))

	// --- Double-double arithmetic/logic ---
	case bytecode.OpDAdd:
		v.binaryDouble(func(a, b float64) float64 { return a + b })
	case bytecode.OpDSub:
		v.binaryDouble(func(a, b float64) float64 { return a - b })
	case bytecode.OpDMul:
		v.binaryDouble(func(a, b float64) float64 { return a * b })
	case bytecode.OpDDiv:
		v.binaryDouble(func(a, b float64) float64 { return a / b })
	case bytecode.OpDMod:
		v.binaryDouble(func(a, b float64) float64 {
			if b == 0 {
				return a / b // NaN/Inf, not a trap: §8 reserves the divide-by-zero trap for IDiv/IMod only
			}
			return math.Mod(a, b)
		})
	case bytecode.OpDEq:
		v.binaryDoubleBool(func(a, b float64) bool { return a == b })
	case bytecode.OpDNe:
		v.binaryDoubleBool(func(a, b float64) bool { return a != b })
	case bytecode.OpDLt:
		v.binaryDoubleBool(func(a, b float64) bool { return a < b })
	case bytecode.OpDLe:
		v.binaryDoubleBool(func(a, b float64) bool { return a <= b })
	case bytecode.OpDGt:
		v.binaryDoubleBool(func(a, b float64) bool { return a > b })
	case bytecode.OpDGe:
		v.binaryDoubleBool(func(a, b float64) bool { return a >= b })
	case bytecode.OpDNeg:
		v.push(value.FromDouble(-v.pop().AsDouble()))
	case bytecode.OpDPos:
		// no-op, symmetric with OpIPos.

	// --- Double-int cross arithmetic/logic (left Double, right Fixnum) ---
	case bytecode.OpDIAdd:
		v.binaryDI(func(a float64, b int32) float64 { return a + float64(b) })
	case bytecode.OpDISub:
		v.binaryDI(func(a float64, b int32) float64 { return a - float64(b) })
	case bytecode.OpDIMul:
		v.binaryDI(func(a float64, b int32) float64 { return a * float64(b) })
	case bytecode.OpDIDiv:
		v.binaryDI(func(a float64, b int32) float64 { return a / float64(b) })
	case bytecode.OpDIMod:
		v.binaryDI(func(a float64, b int32) float64 {
			if b == 0 {
				return a / float64(b)
			}
			return math.Mod(a, float64(b))
		})
	case bytecode.OpDIEq:
		v.binaryDIBool(func(a float64, b int32) bool { return a == float64(b) })
	case bytecode.OpDINe:
		v.binaryDIBool(func(a float64, b int32) bool { return a != float64(b) })
	case bytecode.OpDILt:
		v.binaryDIBool(func(a float64, b int32) bool { return a < float64(b) })
	case bytecode.OpDILe:
		v.binaryDIBool(func(a float64, b int32) bool { return a <= float64(b) })
	case bytecode.OpDIGt:
		v.binaryDIBool(func(a float64, b int32) bool { return a > float64(b) })
	case bytecode.OpDIGe:
		v.binaryDIBool(func(a float64, b int32) bool { return a >= float64(b) })

	// --- Control ---
	case bytecode.OpBranch:
		offset := v.readI16()
		v.pc += int(offset)
	case bytecode.OpBranchIfTrue:
		offset := v.readI16()
		if v.pop().IsTruthy() {
			v.pc += int(offset)
		}
	case bytecode.OpBranchIfFalse:
		offset := v.readI16()
		if !v.pop().IsTruthy() {
			v.pc += int(offset)
		}
	case bytecode.OpReturn:
		v.doReturn()

	// --- Calls ---
	case bytecode.OpCall, bytecode.OpCallMethod, bytecode.OpCallNative:
		id := bound.ID(v.readU16())
		v.call(id)
	case bytecode.OpCallVirtualMethod:
		slot, arity := v.readU16Pair()
		v.callVirtual(int(slot), int(arity))

	// --- Objects ---
	case bytecode.OpAllocObject:
		typeID := types.ID(v.readU16())
		obj := v.gc.AllocPlain(v, typeID)
		v.push(heap.ToValue(obj))
	case bytecode.OpDeallocateObject:
		v.pop() // advisory: dropping the reference is all this core does (§9)
	case bytecode.OpLoadField:
		n := int(v.readU16())
		obj := v.requireObject(v.pop(), TrapFieldOutOfRange)
		if n < 0 || n >= obj.NumSlots() {
			v.trap(TrapFieldOutOfRange, fmt.Sprintf("field index %d out of range [0,%d)", n, obj.NumSlots()))
		}
		v.push(obj.GetSlot(n))
	case bytecode.OpStoreField:
		n := int(v.readU16())
		rhs := v.pop()
		obj := v.requireObject(v.pop(), TrapFieldOutOfRange)
		if n < 0 || n >= obj.NumSlots() {
			v.trap(TrapFieldOutOfRange, fmt.Sprintf("field index %d out of range [0,%d)", n, obj.NumSlots()))
		}
		obj.SetSlot(n, rhs)
	case bytecode.OpAllocArray:
		elemType := types.ID(v.readU16())
		length := v.pop().AsFixnum()
		if length < 0 {
			v.trap(TrapInvalidArrayLength, fmt.Sprintf("negative array length %d", length))
		}
		obj := v.gc.AllocArray(v, elemType, int(length))
		v.push(heap.ToValue(obj))
	case bytecode.OpLoadIndex:
		idx := v.pop().AsFixnum()
		obj := v.requireObject(v.pop(), TrapIndexOutOfRange)
		if idx < 0 || int(idx) >= obj.NumSlots() {
			v.trap(TrapIndexOutOfRange, fmt.Sprintf("index %d out of range [0,%d)", idx, obj.NumSlots()))
		}
		v.push(obj.GetSlot(int(idx)))
	case bytecode.OpStoreIndex:
		rhs := v.pop()
		idx := v.pop().AsFixnum()
		obj := v.requireObject(v.pop(), TrapIndexOutOfRange)
		if idx < 0 || int(idx) >= obj.NumSlots() {
			v.trap(TrapIndexOutOfRange, fmt.Sprintf("index %d out of range [0,%d)", idx, obj.NumSlots()))
		}
		obj.SetSlot(int(idx), rhs)

	// --- Debug ---
	case bytecode.OpBreakpoint:
		v.breaking = true

	default:
		v.trap(TrapUnknownOpcode, fmt.Sprintf("unknown opcode 0x%02X", byte(op)))
	}
}

func (v *VM) frame() *Frame { return &v.frames[v.fp] }

// requireObject resolves val to a heap object or traps with kind — used
// at every field/index/array access site, covering both the "null
// receiver" and "not an object" cases with one check.
func (v *VM) requireObject(val value.Value, kind TrapKind) *heap.Object {
	obj := heap.FromValue(val)
	if obj == nil {
		v.trap(kind, "receiver is not a heap object")
	}
	return obj
}

// allocLocals grows the current frame's local-slot window to n slots,
// padding with Null. A bytecode-initiated Call already reserves the
// callee's full local count before jumping to its entry (§4.7 step 4),
// so for a Call'd function this is a no-op; for the program's entry
// point — reached by a direct pc jump, never through Call — this is
// what actually carves out its locals.
func (v *VM) allocLocals(n int) {
	f := v.frame()
	f.NumLocals = n
	want := f.LocalsBase + n
	for v.sp < want {
		v.push(value.Null)
	}
}

// ---------------------------------------------------------------------------
// Arithmetic helpers
// ---------------------------------------------------------------------------

func (v *VM) binaryInt(f func(a, b int32) int32) {
	b := v.pop().AsFixnum()
	a := v.pop().AsFixnum()
	v.push(value.FromFixnum(f(a, b)))
}

func (v *VM) binaryIntBool(f func(a, b int32) bool) {
	b := v.pop().AsFixnum()
	a := v.pop().AsFixnum()
	v.push(value.FromBoolean(f(a, b)))
}

func (v *VM) binaryDouble(f func(a, b float64) float64) {
	b := v.pop().AsDouble()
	a := v.pop().AsDouble()
	v.push(value.FromDouble(f(a, b)))
}

func (v *VM) binaryDoubleBool(f func(a, b float64) bool) {
	b := v.pop().AsDouble()
	a := v.pop().AsDouble()
	v.push(value.FromBoolean(f(a, b)))
}

func (v *VM) binaryDI(f func(a float64, b int32) float64) {
	b := v.pop().AsFixnum()
	a := v.pop().AsDouble()
	v.push(value.FromDouble(f(a, b)))
}

func (v *VM) binaryDIBool(f func(a float64, b int32) bool) {
	b := v.pop().AsFixnum()
	a := v.pop().AsDouble()
	v.push(value.FromBoolean(f(a, b)))
}

func (v *VM) intDivMod(mod bool) {
	b := v.pop().AsFixnum()
	a := v.pop().AsFixnum()
	if b == 0 {
		v.trap(TrapDivideByZero, fmt.Sprintf("%d %s 0", a, map[bool]string{true: "%", false: "/"}[mod]))
	}
	if mod {
		v.push(value.FromFixnum(a % b))
	} else {
		v.push(value.FromFixnum(a / b))
	}
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// call dispatches a resolved bound.ID, per §4.7's Call/native-call
// protocols. Shared by Call and Call_Method: both reference an already-
// resolved bound function and differ only in how codegen picked the ID,
// never in runtime behavior.
func (v *VM) call(id bound.ID) {
	bf := v.prog.Functions.Get(id)
	switch bf.Kind {
	case bound.Native:
		v.callNative(bf)
	case bound.Bytecode:
		v.pushCallFrame(id, bf)
	}
}

func (v *VM) callNative(bf *bound.Function) {
	args := v.popN(bf.Arity())
	result := bf.Native(v, args)
	if bf.ReturnType != types.None {
		v.push(result)
	}
}

func (v *VM) pushCallFrame(id bound.ID, bf *bound.Function) {
	if v.fp+1 >= len(v.frames) {
		v.trap(TrapStackOverflow, fmt.Sprintf("call stack exceeded %d frames", maxCallDepth))
	}
	arity := bf.Arity()
	localsBase := v.sp - arity
	v.fp++
	if v.fp > v.maxFP {
		v.maxFP = v.fp
	}
	v.frames[v.fp] = Frame{
		ReturnPC:   v.pc,
		LocalsBase: localsBase,
		NumLocals:  bf.NumLocals,
		CalleeID:   id,
	}
	for v.sp < localsBase+bf.NumLocals {
		v.push(value.Null)
	}
	v.pc = bf.EntryOffset
}

// callVirtual resolves the receiver's vtable entry for slot and performs
// a normal call through it (§4.7 "Virtual dispatch"). arity is codegen's
// static argument count for the call site (see bytecode's
// Call_Virtual_Method encoding note): it locates the receiver without
// the VM needing to resolve the method first just to learn its arity.
func (v *VM) callVirtual(slot, arity int) {
	if arity <= 0 || arity > v.sp {
		panic("vm: callVirtual: invalid arity")
	}
	receiver := v.stack[v.sp-arity]
	obj := v.requireObject(receiver, TrapNullReceiver)
	vtable := v.prog.Types.Get(obj.Type).VTable()
	if slot < 0 || slot >= len(vtable) {
		panic("vm: callVirtual: vtable slot out of range")
	}
	v.call(bound.ID(vtable[slot]))
}

// doReturn implements §4.7's Return: preserve the top-of-stack result
// (if the frame's bound function declares one), tear down the frame,
// restore pc, and re-push the result above the caller's locals.
func (v *VM) doReturn() {
	f := *v.frame()
	hasResult := false
	if f.CalleeID >= 0 {
		hasResult = v.prog.Functions.Get(f.CalleeID).ReturnType != types.None
	}

	var result value.Value
	if hasResult {
		result = v.pop()
	}

	v.sp = f.LocalsBase
	v.pc = f.ReturnPC
	v.fp--

	if hasResult {
		v.push(result)
	}
}

// ---------------------------------------------------------------------------
// Traps and stack traces
// ---------------------------------------------------------------------------

func (v *VM) snapshotTrace() []TraceFrame {
	trace := make([]TraceFrame, 0, v.fp+1)
	for i := v.fp; i >= 0; i-- {
		f := v.frames[i]
		name := "<entry>"
		var args []string
		if f.CalleeID >= 0 {
			bf := v.prog.Functions.Get(f.CalleeID)
			name = bf.Signature.Name
			for a := 0; a < bf.Arity(); a++ {
				args = append(args, fmt.Sprintf("%#x", v.stack[f.LocalsBase+a].Bits()))
			}
		}
		trace = append(trace, TraceFrame{Name: name, PC: f.ReturnPC, Args: args})
	}
	return trace
}

func (v *VM) formatTrace(trace []TraceFrame) string {
	var b strings.Builder
	for _, f := range trace {
		fmt.Fprintf(&b, "  at %s(%s) pc=%d\n", f.Name, strings.Join(f.Args, ", "), f.PC)
	}
	return b.String()
}

// trap raises a fatal runtime error: it prints the condition and a stack
// trace to stderr (§4.7: "prints a stack trace and aborts") and panics
// with a *Trap, which Run's recover converts into a returned error.
func (v *VM) trap(kind TrapKind, message string) {
	t := &Trap{Kind: kind, Message: message, Trace: v.snapshotTrace()}
	fmt.Fprintf(os.Stderr, "malang: trap: %s: %s\n%s", kind, message, v.formatTrace(t.Trace))
	panic(t)
}
