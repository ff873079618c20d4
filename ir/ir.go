// Package ir defines the tree-shaped intermediate representation that
// codegen consumes: values, calls, branches, labels, named blocks, and
// binary/unary operations. IR nodes carry no resolved bytecode offsets or
// opcode choices of their own — codegen decides those by reading the
// node's static type information.
package ir

import (
	"github.com/antlover26/malang/bound"
	"github.com/antlover26/malang/types"
)

// SourceLocation is carried by every node for diagnostics and for the
// persisted image's optional source-location side table.
type SourceLocation struct {
	File   string
	Line   int
	Column int
}

// Node is the common interface every IR node satisfies. Loc returns the
// node's originating source position; codegen attaches it to the
// corresponding emitted instruction when a side table is requested.
type Node interface {
	Loc() SourceLocation
}

type base struct {
	loc SourceLocation
}

func (b base) Loc() SourceLocation { return b.loc }

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

// Value is any expression node. It leaves one result on the data stack,
// except a Call whose Type is types.None (a void function or native),
// which leaves nothing.
type Value interface {
	Node
	ValueType() types.ID
}

// ConstKind selects which literal field of a Constant node is populated.
// True/False/Null get dedicated single-byte opcodes (Load_True/
// Load_False/Load_Null); every other literal goes through the constant
// pool (Load_Constant k).
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstDouble
	ConstChar
	ConstStr
	ConstTrue
	ConstFalse
	ConstNull
)

// Constant is a literal int, double, char, string, bool or null. Codegen
// interns non-singleton kinds by value equality into the constant pool
// (§4.6 step 2).
type Constant struct {
	base
	Kind   ConstKind
	Type   types.ID
	Int    int32
	Double float64
	Char   rune
	Str    string
}

func (c *Constant) ValueType() types.ID { return c.Type }

// NewConstant creates a Constant node of the given kind.
func NewConstant(loc SourceLocation, kind ConstKind, typ types.ID) *Constant {
	return &Constant{base: base{loc}, Kind: kind, Type: typ}
}

// LocalRef reads a function's local slot n (a parameter or a Decl'd
// variable, indistinguishable once lowered — see DESIGN.md's Open
// Question resolution for Decl_Constant vs Decl_Assign).
type LocalRef struct {
	base
	Slot int
	Type types.ID
}

func (l *LocalRef) ValueType() types.ID { return l.Type }

// Assign writes Rhs into a local slot and evaluates to Rhs's value
// (assignment-as-expression, matching the spec's statement/expression
// duality for Decl_Assign).
type Assign struct {
	base
	Slot int
	Rhs  Value
}

func (a *Assign) ValueType() types.ID { return a.Rhs.ValueType() }

// BinaryOp is a binary arithmetic or comparison expression. Op is one of
// the family names in §4.5 ("+", "-", "*", "/", "%", "<<", ">>", "&",
// "|", "^", "==", "!=", "<", "<=", ">", ">="); codegen picks the
// type-specialized opcode (I_*, D_*, DI_*) from Left/Right's static
// types, never at runtime.
type BinaryOp struct {
	base
	Op          string
	Left, Right Value
	Type        types.ID
}

func (b *BinaryOp) ValueType() types.ID { return b.Type }

// UnaryOp is "neg", "pos", "not" or "invert" applied to Operand.
type UnaryOp struct {
	base
	Op      string
	Operand Value
	Type    types.ID
}

func (u *UnaryOp) ValueType() types.ID { return u.Type }

// ---------------------------------------------------------------------------
// Calls — one shared shape, distinguished only by which opcode family
// codegen picks for it (grounded on IR_Call / IR_Call_Method /
// IR_Call_Virtual_Method sharing one base in original_source/ir_call.hpp)
// ---------------------------------------------------------------------------

// CallKind selects which bytecode call family a Call node lowers to.
type CallKind uint8

const (
	// CallDirect lowers to Call id: Callee is a bound.ID constant.
	CallDirect CallKind = iota
	// CallMethod lowers to Call_Method id, after codegen resolves the
	// method by (receiver_type, name, arg_types) — Callee carries the
	// already-resolved bound.ID by the time codegen sees this node.
	CallMethod
	// CallVirtualMethod lowers to Call_Virtual_Method slot — Callee
	// carries the vtable slot index instead of a bound.ID.
	CallVirtualMethod
	// CallNative lowers to Call_Native id.
	CallNative
)

// Call is the single shared call node shape. CalleeID is either a
// bound.ID (CallDirect/CallMethod/CallNative) or a vtable slot
// (CallVirtualMethod); Arguments are evaluated left to right and pushed
// in declaration order, receiver first for a method call.
type Call struct {
	base
	Kind      CallKind
	CalleeID  int
	Arguments []Value
	Type      types.ID
}

func (c *Call) ValueType() types.ID { return c.Type }

// ---------------------------------------------------------------------------
// Objects
// ---------------------------------------------------------------------------

// AllocObject lowers to Alloc_Object type_id.
type AllocObject struct {
	base
	Type types.ID
}

func (a *AllocObject) ValueType() types.ID { return a.Type }

// AllocArray lowers to Alloc_Array elem_type_id; Length is evaluated and
// pushed before the opcode executes.
type AllocArray struct {
	base
	ElemType types.ID
	Length   Value
	Type     types.ID
}

func (a *AllocArray) ValueType() types.ID { return a.Type }

// FieldRef reads or (if used as an Assign target) writes field n of
// Object.
type FieldRef struct {
	base
	Object Value
	Index  int
	Type   types.ID
}

func (f *FieldRef) ValueType() types.ID { return f.Type }

// IndexRef reads or writes Array[Index].
type IndexRef struct {
	base
	Array Value
	Index Value
	Type  types.ID
}

func (i *IndexRef) ValueType() types.ID { return i.Type }

// DeallocateObject lowers to Deallocate_Object — an advisory hint, never
// a forced reclaim (see DESIGN.md's Open Question resolution).
type DeallocateObject struct {
	base
	Object Value
}

func NewDeallocateObject(loc SourceLocation, object Value) *DeallocateObject {
	return &DeallocateObject{base: base{loc}, Object: object}
}

// StoreField lowers to Store_Field n — the statement form of a field
// assignment (`obj.field = rhs`). Object and Rhs are evaluated in that
// order, matching Store_Field's declared stack delta of -2.
type StoreField struct {
	base
	Object Value
	Index  int
	Rhs    Value
}

func NewStoreField(loc SourceLocation, object Value, index int, rhs Value) *StoreField {
	return &StoreField{base: base{loc}, Object: object, Index: index, Rhs: rhs}
}

// StoreIndex lowers to Store_Index — the statement form of an array
// element assignment (`arr[index] = rhs`). Array, Index and Rhs are
// evaluated in that order, matching Store_Index's declared stack delta
// of -3.
type StoreIndex struct {
	base
	Array Value
	Index Value
	Rhs   Value
}

func NewStoreIndex(loc SourceLocation, array, index, rhs Value) *StoreIndex {
	return &StoreIndex{base: base{loc}, Array: array, Index: index, Rhs: rhs}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// DiscardResult lowers to Drop_N n — an expression statement whose value
// is computed for effect and then discarded.
type DiscardResult struct {
	base
	Expr Value
	N    int
}

func NewDiscardResult(loc SourceLocation, expr Value, n int) *DiscardResult {
	return &DiscardResult{base: base{loc}, Expr: expr, N: n}
}

// AllocLocals lowers to the function's leading Alloc_Locals n instruction
// (§4.6 step 3): the sum of every Decl in scope.
type AllocLocals struct {
	base
	Count int
}

func NewAllocLocals(loc SourceLocation, count int) *AllocLocals {
	return &AllocLocals{base: base{loc}, Count: count}
}

// Return lowers to Return. Value is nil for a void return.
type Return struct {
	base
	Value Value
}

func NewReturn(loc SourceLocation, value Value) *Return {
	return &Return{base: base{loc}, Value: value}
}

// ---------------------------------------------------------------------------
// Control flow: labels, named blocks, branches
// ---------------------------------------------------------------------------

// Label is a named branch target. Grounded on Label_Map::make_label: a
// label has a name used only at IR-construction time for lookups — by
// the time codegen runs, branches reference the *Label pointer directly.
type Label struct {
	base
	Name string
}

// NamedBlock binds a named label Start to an implicit End label, matching
// Label_Map::make_named_block. Used for if/while lowering so that `break`/
// loop-exit branches can target block.End without the caller tracking a
// raw offset.
type NamedBlock struct {
	base
	Name string
	End  *Label
}

// Branch lowers to Branch/Branch_If_True/Branch_If_False depending on
// Cond: Cond == nil is unconditional, otherwise IfFalse selects which
// conditional family is emitted.
type Branch struct {
	base
	Cond    Value // nil for unconditional
	IfFalse bool  // true: Branch_If_False, false: Branch_If_True (ignored if Cond == nil)
	Target  *Label
}

func NewBranch(loc SourceLocation, cond Value, ifFalse bool, target *Label) *Branch {
	return &Branch{base: base{loc}, Cond: cond, IfFalse: ifFalse, Target: target}
}

// Block is an ordered sequence of statement-level IR nodes (DiscardResult,
// Assign-as-statement, Return, Branch, Label, NamedBlock, AllocLocals).
type Block struct {
	base
	Nodes []Node
}

func NewBlock(loc SourceLocation, nodes []Node) *Block {
	return &Block{base: base{loc}, Nodes: nodes}
}

// Function is one compilable unit: its parameter count (a prefix of
// Locals), full local slot count, and body. BoundID is the entry this
// function's body fills in the Bound Function Map — codegen writes the
// resolved EntryOffset back through it once the body is emitted.
type Function struct {
	base
	Name       string
	NumParams  int
	NumLocals  int
	ReturnType types.ID
	Body       *Block
	Labels     *LabelMap
	BoundID    bound.ID
}

// ---------------------------------------------------------------------------
// LabelMap — name-keyed label interning, grounded on Label_Map
// ---------------------------------------------------------------------------

// LabelMap interns named labels and named blocks by string name within
// one function, asserting no duplicate or self-referential end label —
// this is the IR-construction-time counterpart to codegen's own
// offset-keyed label table (§4.6 step 1); LabelMap never holds offsets,
// only names-to-node.
type LabelMap struct {
	byName map[string]Node // *Label or *NamedBlock
}

// NewLabelMap creates an empty label map.
func NewLabelMap() *LabelMap {
	return &LabelMap{byName: make(map[string]Node)}
}

// MakeLabel creates and interns a new label. Panics if name is empty or
// already in use, matching Label_Map::make_label's assertions.
func (m *LabelMap) MakeLabel(loc SourceLocation, name string) *Label {
	if name == "" {
		panic("ir: label name must not be empty")
	}
	if _, exists := m.byName[name]; exists {
		panic("ir: duplicate label name " + name)
	}
	l := &Label{base: base{loc}, Name: name}
	m.byName[name] = l
	return l
}

// MakeNamedBlock creates a named block with an implicit end label. Panics
// if name == endName or either name is already in use, matching
// Label_Map::make_named_block's assertions.
func (m *LabelMap) MakeNamedBlock(loc SourceLocation, name, endName string) *NamedBlock {
	if name == "" || endName == "" {
		panic("ir: block/end label name must not be empty")
	}
	if name == endName {
		panic("ir: block name and end label name must differ")
	}
	if _, exists := m.byName[name]; exists {
		panic("ir: duplicate label name " + name)
	}
	end := m.MakeLabel(loc, endName)
	b := &NamedBlock{base: base{loc}, Name: name, End: end}
	m.byName[name] = b
	return b
}

// GetLabel looks up an interned label or named block by name.
func (m *LabelMap) GetLabel(name string) Node {
	return m.byName[name]
}

// GetNamedBlock looks up an interned named block by name, or nil if name
// resolves to a plain Label or nothing at all.
func (m *LabelMap) GetNamedBlock(name string) *NamedBlock {
	if b, ok := m.byName[name].(*NamedBlock); ok {
		return b
	}
	return nil
}
