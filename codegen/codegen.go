// Package codegen lowers the ir tree into bytecode: two-pass label
// resolution (delegated to bytecode.Builder), constant pool interning by
// value equality, per-function local allocation, and type-specialized
// opcode selection for arithmetic and calls.
package codegen

import (
	"github.com/antlover26/malang/bound"
	"github.com/antlover26/malang/bytecode"
	"github.com/antlover26/malang/ir"
	"github.com/antlover26/malang/types"
	"github.com/antlover26/malang/value"
)

// stringConst records a string literal's constant-pool index and bytes,
// for Program.StringConstants.
type stringConst struct {
	index int
	value string
}

// Compiler holds the state for one Compile invocation across every
// function in the program: the shared builder (functions are emitted
// back to back into one code section), the deduplicated constant pool,
// and the accumulated error list.
type Compiler struct {
	builder    *bytecode.Builder
	functions  *bound.Map
	types      *types.Store
	constants  []value.Value
	constIndex map[uint64]int
	labels     map[*ir.Label]*bytecode.Label
	sourceLocs []SourceLocEntry
	withLocs   bool

	stringConsts []stringConst
	stringIndex  map[string]int
	doubleType   types.ID

	errs errorList
}

// Option configures a Compile call.
type Option func(*Compiler)

// WithSourceLocations makes Compile record a code-offset-to-source-
// position side table (§6 item 6), used for the image's optional debug
// data. vm.Trap's stack trace does not read it; its frames carry a pc,
// not a source position.
func WithSourceLocations() Option {
	return func(c *Compiler) { c.withLocs = true }
}

// WithDoubleType tells codegen which types.ID denotes the Double
// primitive, so it can pick the D_*/DI_* opcode families over I_* for
// arithmetic. Required before compiling any function that uses Double
// arithmetic; omitting it simply makes every arithmetic op resolve to
// the integer family, since types.None never matches a real type.
func WithDoubleType(id types.ID) Option {
	return func(c *Compiler) { c.doubleType = id }
}

// Compile lowers every function into one Program. Each fn must already
// carry its bound.ID in fn.BoundID, pre-registered as a Bytecode kind in
// functions; Compile fills in that entry's EntryOffset and NumLocals once
// the function's body is emitted. Returns the accumulated errors (possibly
// many) rather than stopping at the first, matching the teacher's
// errorf/Errors() split.
func Compile(fns []*ir.Function, functions *bound.Map, ts *types.Store, entryFn *ir.Function, opts ...Option) (*Program, []Error) {
	c := &Compiler{
		builder:    bytecode.NewBuilder(),
		functions:  functions,
		types:      ts,
		constIndex: make(map[uint64]int),
		labels:     make(map[*ir.Label]*bytecode.Label),
		doubleType: types.None,
	}
	for _, opt := range opts {
		opt(c)
	}

	offsets := make(map[*ir.Function]int, len(fns))
	for _, fn := range fns {
		offset := c.builder.Len()
		offsets[fn] = offset
		c.compileFunction(fn)

		bf := functions.Get(fn.BoundID)
		if bf.Kind != bound.Bytecode {
			c.errs.add(fn.Loc(), "codegen: function %q's bound entry is not a Bytecode kind", fn.Name)
			continue
		}
		bf.EntryOffset = offset
		bf.NumLocals = fn.NumLocals
	}

	if !c.errs.ok() {
		return nil, c.errs.errors
	}

	entryOffset, ok := offsets[entryFn]
	if !ok {
		return nil, []Error{{Message: "codegen: entry function was not compiled"}}
	}

	strs := make(map[int]string, len(c.stringConsts))
	for _, sc := range c.stringConsts {
		strs[sc.index] = sc.value
	}

	prog := &Program{
		Code:            c.builder.Bytes(),
		Constants:       c.constants,
		StringConstants: strs,
		Functions:       functions,
		Types:           ts,
		EntryPoint:      entryOffset,
		SourceLocs:      c.sourceLocs,
	}
	return prog, nil
}

func (c *Compiler) recordLoc(loc ir.SourceLocation) {
	if !c.withLocs {
		return
	}
	c.sourceLocs = append(c.sourceLocs, SourceLocEntry{
		Offset: c.builder.Len(),
		File:   loc.File,
		Line:   loc.Line,
		Column: loc.Column,
	})
}

// compileFunction emits Alloc_Locals n as the function's leading
// instruction (§4.6 step 3), then its body.
func (c *Compiler) compileFunction(fn *ir.Function) {
	c.builder.EmitU16(bytecode.OpAllocLocals, uint16(fn.NumLocals))
	if fn.Body != nil {
		for _, n := range fn.Body.Nodes {
			c.compileStmt(n)
		}
	}
}

// intern de-duplicates a literal Value into the constant pool by value
// equality (§4.6 step 2) and returns its index.
func (c *Compiler) intern(v value.Value) int {
	bits := v.Bits()
	if idx, ok := c.constIndex[bits]; ok {
		return idx
	}
	idx := len(c.constants)
	c.constants = append(c.constants, v)
	c.constIndex[bits] = idx
	return idx
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) compileStmt(n ir.Node) {
	switch s := n.(type) {
	case *ir.DiscardResult:
		c.compileValue(s.Expr)
		c.builder.EmitU16(bytecode.OpDropN, uint16(s.N))
	case *ir.Return:
		if s.Value != nil {
			c.compileValue(s.Value)
		}
		c.recordLoc(s.Loc())
		c.builder.Emit(bytecode.OpReturn)
	case *ir.Branch:
		c.compileBranch(s)
	case *ir.AllocLocals:
		c.builder.EmitU16(bytecode.OpAllocLocals, uint16(s.Count))
	case *ir.DeallocateObject:
		c.compileValue(s.Object)
		c.builder.Emit(bytecode.OpDeallocateObject)
	case *ir.StoreField:
		c.compileValue(s.Object)
		c.compileValue(s.Rhs)
		c.builder.EmitU16(bytecode.OpStoreField, uint16(s.Index))
	case *ir.StoreIndex:
		c.compileValue(s.Array)
		c.compileValue(s.Index)
		c.compileValue(s.Rhs)
		c.builder.Emit(bytecode.OpStoreIndex)
	case *ir.Label:
		c.builder.Mark(c.label(s))
	case *ir.NamedBlock:
		// The block's own start label is purely nominal (no code point of
		// its own); only its End label is a real branch target.
	case ir.Value:
		// An expression used as a statement with no declared discard
		// count still needs to balance the stack, but how much depends
		// on whether it pushed anything: a void-returning Call/
		// Call_Native leaves nothing to drop.
		c.compileValue(s)
		if s.ValueType() != types.None {
			c.builder.EmitU16(bytecode.OpDropN, 1)
		}
	default:
		c.errs.add(n.Loc(), "codegen: unhandled statement node %T", n)
	}
}

func (c *Compiler) compileBranch(b *ir.Branch) {
	target := c.label(b.Target)
	if b.Cond == nil {
		c.builder.EmitBranch(bytecode.OpBranch, target)
		return
	}
	c.compileValue(b.Cond)
	if b.IfFalse {
		c.builder.EmitBranch(bytecode.OpBranchIfFalse, target)
	} else {
		c.builder.EmitBranch(bytecode.OpBranchIfTrue, target)
	}
}

func (c *Compiler) label(l *ir.Label) *bytecode.Label {
	if bl, ok := c.labels[l]; ok {
		return bl
	}
	bl := c.builder.NewLabel()
	c.labels[l] = bl
	return bl
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

func (c *Compiler) compileValue(v ir.Value) {
	c.recordLoc(v.Loc())
	switch n := v.(type) {
	case *ir.Constant:
		c.compileConstant(n)
	case *ir.LocalRef:
		c.builder.EmitU16(bytecode.OpLoadLocal, uint16(n.Slot))
	case *ir.Assign:
		c.compileValue(n.Rhs)
		c.builder.Emit(bytecode.OpDup)
		c.builder.EmitU16(bytecode.OpStoreLocal, uint16(n.Slot))
	case *ir.BinaryOp:
		c.compileBinaryOp(n)
	case *ir.UnaryOp:
		c.compileUnaryOp(n)
	case *ir.Call:
		c.compileCall(n)
	case *ir.AllocObject:
		c.builder.EmitU16(bytecode.OpAllocObject, uint16(n.Type))
	case *ir.AllocArray:
		c.compileValue(n.Length)
		c.builder.EmitU16(bytecode.OpAllocArray, uint16(n.ElemType))
	case *ir.FieldRef:
		c.compileValue(n.Object)
		c.builder.EmitU16(bytecode.OpLoadField, uint16(n.Index))
	case *ir.IndexRef:
		c.compileValue(n.Array)
		c.compileValue(n.Index)
		c.builder.Emit(bytecode.OpLoadIndex)
	default:
		c.errs.add(v.Loc(), "codegen: unhandled value node %T", v)
	}
}

func (c *Compiler) compileConstant(n *ir.Constant) {
	switch n.Kind {
	case ir.ConstTrue:
		c.builder.Emit(bytecode.OpLoadTrue)
	case ir.ConstFalse:
		c.builder.Emit(bytecode.OpLoadFalse)
	case ir.ConstNull:
		c.builder.Emit(bytecode.OpLoadNull)
	case ir.ConstInt:
		idx := c.intern(value.FromFixnum(n.Int))
		c.builder.EmitU16(bytecode.OpLoadConstant, uint16(idx))
	case ir.ConstDouble:
		idx := c.intern(value.FromDouble(n.Double))
		c.builder.EmitU16(bytecode.OpLoadConstant, uint16(idx))
	case ir.ConstChar:
		idx := c.intern(value.FromChar(n.Char))
		c.builder.EmitU16(bytecode.OpLoadConstant, uint16(idx))
	case ir.ConstStr:
		// A string literal is not a raw Value: its ultimate home is a
		// heap String object that doesn't exist until the image is
		// loaded. The constant pool slot holds value.Null as a
		// placeholder; the real bytes live in Program.StringConstants,
		// keyed by the same index, for the image/runtime to materialize
		// into heap objects at load time (§6 item 2/4).
		idx := c.internString(n.Str)
		c.builder.EmitU16(bytecode.OpLoadConstant, uint16(idx))
	default:
		c.errs.add(n.Loc(), "codegen: unknown constant kind %v", n.Kind)
	}
}

func (c *Compiler) internString(s string) int {
	if idx, ok := c.stringIndex[s]; ok {
		return idx
	}
	idx := len(c.constants)
	c.constants = append(c.constants, value.Null)
	c.stringConsts = append(c.stringConsts, stringConst{index: idx, value: s})
	if c.stringIndex == nil {
		c.stringIndex = make(map[string]int)
	}
	c.stringIndex[s] = idx
	return idx
}

// ---------------------------------------------------------------------------
// Binary/unary arithmetic — opcode family selected by static operand type
// ---------------------------------------------------------------------------

type opFamily struct {
	intOp, doubleOp, crossOp bytecode.Opcode
}

var binaryOpFamilies = map[string]opFamily{
	"+":  {bytecode.OpIAdd, bytecode.OpDAdd, bytecode.OpDIAdd},
	"-":  {bytecode.OpISub, bytecode.OpDSub, bytecode.OpDISub},
	"*":  {bytecode.OpIMul, bytecode.OpDMul, bytecode.OpDIMul},
	"/":  {bytecode.OpIDiv, bytecode.OpDDiv, bytecode.OpDIDiv},
	"%":  {bytecode.OpIMod, bytecode.OpDMod, bytecode.OpDIMod},
	"==": {bytecode.OpIEq, bytecode.OpDEq, bytecode.OpDIEq},
	"!=": {bytecode.OpINe, bytecode.OpDNe, bytecode.OpDINe},
	"<":  {bytecode.OpILt, bytecode.OpDLt, bytecode.OpDILt},
	"<=": {bytecode.OpILe, bytecode.OpDLe, bytecode.OpDILe},
	">":  {bytecode.OpIGt, bytecode.OpDGt, bytecode.OpDIGt},
	">=": {bytecode.OpIGe, bytecode.OpDGe, bytecode.OpDIGe},
}

// integerOnlyOps have no double/cross counterpart — bitwise operators are
// defined only over Fixnum per §4.5.
var integerOnlyOps = map[string]bytecode.Opcode{
	"<<": bytecode.OpIShl,
	">>": bytecode.OpIShr,
	"&":  bytecode.OpIAnd,
	"|":  bytecode.OpIOr,
	"^":  bytecode.OpIXor,
}

func (c *Compiler) compileBinaryOp(n *ir.BinaryOp) {
	c.compileValue(n.Left)
	c.compileValue(n.Right)

	if op, ok := integerOnlyOps[n.Op]; ok {
		c.builder.Emit(op)
		return
	}

	family, ok := binaryOpFamilies[n.Op]
	if !ok {
		c.errs.add(n.Loc(), "codegen: unknown binary operator %q", n.Op)
		return
	}

	leftIsDouble := c.isDoubleType(n.Left.ValueType())
	rightIsDouble := c.isDoubleType(n.Right.ValueType())

	switch {
	case leftIsDouble && rightIsDouble:
		c.builder.Emit(family.doubleOp)
	case leftIsDouble && !rightIsDouble:
		c.builder.Emit(family.crossOp)
	case !leftIsDouble && !rightIsDouble:
		c.builder.Emit(family.intOp)
	default:
		c.errs.add(n.Loc(), "codegen: no int-left/double-right opcode for %q; reorder operands at the IR level", n.Op)
	}
}

func (c *Compiler) compileUnaryOp(n *ir.UnaryOp) {
	c.compileValue(n.Operand)
	isDouble := c.isDoubleType(n.Operand.ValueType())
	switch n.Op {
	case "neg":
		if isDouble {
			c.builder.Emit(bytecode.OpDNeg)
		} else {
			c.builder.Emit(bytecode.OpINeg)
		}
	case "pos":
		if isDouble {
			c.builder.Emit(bytecode.OpDPos)
		} else {
			c.builder.Emit(bytecode.OpIPos)
		}
	case "not":
		c.builder.Emit(bytecode.OpINot)
	case "invert":
		c.builder.Emit(bytecode.OpIInvert)
	default:
		c.errs.add(n.Loc(), "codegen: unknown unary operator %q", n.Op)
	}
}

// isDoubleType reports whether typ denotes Malang's Double primitive, as
// configured by WithDoubleType.
func (c *Compiler) isDoubleType(typ types.ID) bool {
	return c.doubleType != types.None && typ == c.doubleType
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

func (c *Compiler) compileCall(n *ir.Call) {
	for _, arg := range n.Arguments {
		c.compileValue(arg)
	}
	switch n.Kind {
	case ir.CallDirect:
		c.builder.EmitU16(bytecode.OpCall, uint16(n.CalleeID))
	case ir.CallMethod:
		c.builder.EmitU16(bytecode.OpCallMethod, uint16(n.CalleeID))
	case ir.CallVirtualMethod:
		c.builder.EmitU16x2(bytecode.OpCallVirtualMethod, uint16(n.CalleeID), uint16(len(n.Arguments)))
	case ir.CallNative:
		c.builder.EmitU16(bytecode.OpCallNative, uint16(n.CalleeID))
	default:
		c.errs.add(n.Loc(), "codegen: unknown call kind %v", n.Kind)
	}
}

