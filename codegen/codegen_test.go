package codegen

import (
	"testing"

	"github.com/antlover26/malang/bound"
	"github.com/antlover26/malang/bytecode"
	"github.com/antlover26/malang/ir"
	"github.com/antlover26/malang/types"
	"github.com/antlover26/malang/value"
)

// declareFunc registers name as a Bytecode-kind entry in functions and
// returns an *ir.Function wired to it, matching what a real frontend does
// before handing a function list to Compile.
func declareFunc(t *testing.T, functions *bound.Map, name string, numParams, numLocals int, retType types.ID, body *ir.Block) *ir.Function {
	t.Helper()
	id, err := functions.Add(bound.Signature{Name: name}, 0, 0, retType)
	if err != nil {
		t.Fatalf("Add(%s): %v", name, err)
	}
	return &ir.Function{
		Name:       name,
		NumParams:  numParams,
		NumLocals:  numLocals,
		ReturnType: retType,
		Body:       body,
		BoundID:    id,
	}
}

func TestCompileSimpleReturn(t *testing.T) {
	functions := bound.NewMap()
	ts := types.NewStore()

	ret := ir.NewReturn(ir.SourceLocation{}, ir.NewConstant(ir.SourceLocation{}, ir.ConstInt, types.None))
	ret.Value.(*ir.Constant).Int = 7
	body := ir.NewBlock(ir.SourceLocation{}, []ir.Node{ret})
	fn := declareFunc(t, functions, "main", 0, 0, types.None, body)

	prog, errs := Compile([]*ir.Function{fn}, functions, ts, fn)
	if errs != nil {
		t.Fatalf("Compile errors: %v", errs)
	}
	if prog.EntryPoint != 0 {
		t.Errorf("EntryPoint = %d, want 0", prog.EntryPoint)
	}
	if len(prog.Constants) != 1 || prog.Constants[0].AsFixnum() != 7 {
		t.Errorf("Constants = %v, want [Fixnum(7)]", prog.Constants)
	}

	r := bytecode.NewReader(prog.Code)
	if op := r.ReadOpcode(); op != bytecode.OpAllocLocals {
		t.Fatalf("first op = %v, want OpAllocLocals", op)
	}
	r.ReadU16()
	if op := r.ReadOpcode(); op != bytecode.OpLoadConstant {
		t.Fatalf("second op = %v, want OpLoadConstant", op)
	}
	r.ReadU16()
	if op := r.ReadOpcode(); op != bytecode.OpReturn {
		t.Fatalf("third op = %v, want OpReturn", op)
	}

	bf := functions.Get(fn.BoundID)
	if bf.EntryOffset != 0 {
		t.Errorf("EntryOffset = %d, want 0", bf.EntryOffset)
	}
}

func TestCompileConstantInterning(t *testing.T) {
	functions := bound.NewMap()
	ts := types.NewStore()

	c1 := ir.NewConstant(ir.SourceLocation{}, ir.ConstInt, types.None)
	c1.Int = 42
	c2 := ir.NewConstant(ir.SourceLocation{}, ir.ConstInt, types.None)
	c2.Int = 42
	c3 := ir.NewConstant(ir.SourceLocation{}, ir.ConstInt, types.None)
	c3.Int = 43

	body := ir.NewBlock(ir.SourceLocation{}, []ir.Node{
		ir.NewDiscardResult(ir.SourceLocation{}, c1, 1),
		ir.NewDiscardResult(ir.SourceLocation{}, c2, 1),
		ir.NewReturn(ir.SourceLocation{}, c3),
	})
	fn := declareFunc(t, functions, "f", 0, 0, types.None, body)

	prog, errs := Compile([]*ir.Function{fn}, functions, ts, fn)
	if errs != nil {
		t.Fatalf("Compile errors: %v", errs)
	}
	if len(prog.Constants) != 2 {
		t.Fatalf("Constants = %v, want 2 entries (42 deduped, 43 distinct)", prog.Constants)
	}
}

func TestCompileStringLiteralUsesSideTable(t *testing.T) {
	functions := bound.NewMap()
	ts := types.NewStore()

	s := ir.NewConstant(ir.SourceLocation{}, ir.ConstStr, types.None)
	s.Str = "hello"
	body := ir.NewBlock(ir.SourceLocation{}, []ir.Node{
		ir.NewReturn(ir.SourceLocation{}, s),
	})
	fn := declareFunc(t, functions, "f", 0, 0, types.None, body)

	prog, errs := Compile([]*ir.Function{fn}, functions, ts, fn)
	if errs != nil {
		t.Fatalf("Compile errors: %v", errs)
	}
	if len(prog.Constants) != 1 || prog.Constants[0] != value.Null {
		t.Fatalf("Constants = %v, want [Null] placeholder", prog.Constants)
	}
	if prog.StringConstants[0] != "hello" {
		t.Errorf("StringConstants[0] = %q, want %q", prog.StringConstants[0], "hello")
	}
}

func TestCompileBranchForwardAndBackward(t *testing.T) {
	functions := bound.NewMap()
	ts := types.NewStore()
	labels := ir.NewLabelMap()
	loopStart := labels.MakeLabel(ir.SourceLocation{}, "loop_start")
	loopEnd := labels.MakeLabel(ir.SourceLocation{}, "loop_end")

	trueConst := ir.NewConstant(ir.SourceLocation{}, ir.ConstTrue, types.None)
	body := ir.NewBlock(ir.SourceLocation{}, []ir.Node{
		loopStart,
		ir.NewBranch(ir.SourceLocation{}, trueConst, true, loopEnd), // Branch_If_False -> forward
		ir.NewBranch(ir.SourceLocation{}, nil, false, loopStart),    // unconditional -> backward
		loopEnd,
		ir.NewReturn(ir.SourceLocation{}, nil),
	})
	fn := declareFunc(t, functions, "loop", 0, 0, types.None, body)

	prog, errs := Compile([]*ir.Function{fn}, functions, ts, fn)
	if errs != nil {
		t.Fatalf("Compile errors: %v", errs)
	}

	r := bytecode.NewReader(prog.Code)
	r.ReadOpcode() // Alloc_Locals
	r.ReadU16()

	loopStartOffset := r.Position()
	if op := r.ReadOpcode(); op != bytecode.OpLoadTrue {
		t.Fatalf("expected OpLoadTrue, got %v", op)
	}
	if op := r.ReadOpcode(); op != bytecode.OpBranchIfFalse {
		t.Fatalf("expected OpBranchIfFalse, got %v", op)
	}
	fwdOffset := r.ReadI16()
	fwdRefEnd := r.Position()
	branchEndPos := fwdRefEnd + int(fwdOffset)

	if op := r.ReadOpcode(); op != bytecode.OpBranch {
		t.Fatalf("expected OpBranch, got %v", op)
	}
	backOffset := r.ReadI16()
	backRefEnd := r.Position()
	target := backRefEnd + int(backOffset)
	if target != loopStartOffset {
		t.Errorf("backward branch target = %d, want %d", target, loopStartOffset)
	}

	if op := r.ReadOpcode(); op != bytecode.OpReturn {
		t.Fatalf("expected OpReturn at loop_end, got %v", op)
	}
	if branchEndPos != fwdRefEnd+int(fwdOffset) {
		t.Fatalf("sanity check failed")
	}
	returnPos := r.Position() - 1
	if branchEndPos != returnPos {
		t.Errorf("forward branch target = %d, want %d (the Return opcode)", branchEndPos, returnPos)
	}
}

func TestCompileBinaryOpFamilySelection(t *testing.T) {
	ts := types.NewStore()
	doubleType := ts.Declare("Double", types.None).ID
	ts.Link()

	intLit := func(n int32) *ir.Constant {
		c := ir.NewConstant(ir.SourceLocation{}, ir.ConstInt, types.None)
		c.Int = n
		return c
	}
	doubleLit := func(f float64, typ types.ID) *ir.Constant {
		c := ir.NewConstant(ir.SourceLocation{}, ir.ConstDouble, typ)
		c.Double = f
		return c
	}

	tests := []struct {
		name   string
		left   ir.Value
		right  ir.Value
		want   bytecode.Opcode
	}{
		{"int+int", intLit(1), intLit(2), bytecode.OpIAdd},
		{"double+double", doubleLit(1, doubleType), doubleLit(2, doubleType), bytecode.OpDAdd},
		{"double+int", doubleLit(1, doubleType), intLit(2), bytecode.OpDIAdd},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			functions := bound.NewMap()
			op := &ir.BinaryOp{Op: "+", Left: tt.left, Right: tt.right, Type: types.None}
			body := ir.NewBlock(ir.SourceLocation{}, []ir.Node{
				ir.NewReturn(ir.SourceLocation{}, op),
			})
			fn := declareFunc(t, functions, tt.name, 0, 0, types.None, body)

			prog, errs := Compile([]*ir.Function{fn}, functions, ts, fn, WithDoubleType(doubleType))
			if errs != nil {
				t.Fatalf("Compile errors: %v", errs)
			}

			r := bytecode.NewReader(prog.Code)
			r.ReadOpcode() // Alloc_Locals
			r.ReadU16()
			r.ReadOpcode() // left operand load
			r.ReadU16()
			r.ReadOpcode() // right operand load
			r.ReadU16()
			if op := r.ReadOpcode(); op != tt.want {
				t.Errorf("opcode = %v, want %v", op, tt.want)
			}
		})
	}
}

func TestCompileIntLeftDoubleRightIsError(t *testing.T) {
	functions := bound.NewMap()
	ts := types.NewStore()
	doubleType := ts.Declare("Double", types.None).ID
	ts.Link()

	left := ir.NewConstant(ir.SourceLocation{}, ir.ConstInt, types.None)
	right := ir.NewConstant(ir.SourceLocation{}, ir.ConstDouble, doubleType)
	op := &ir.BinaryOp{Op: "+", Left: left, Right: right, Type: types.None}
	body := ir.NewBlock(ir.SourceLocation{}, []ir.Node{
		ir.NewDiscardResult(ir.SourceLocation{}, op, 1),
		ir.NewReturn(ir.SourceLocation{}, nil),
	})
	fn := declareFunc(t, functions, "f", 0, 0, types.None, body)

	_, errs := Compile([]*ir.Function{fn}, functions, ts, fn, WithDoubleType(doubleType))
	if errs == nil {
		t.Fatal("expected a codegen error for int-left/double-right")
	}
}

func TestCompileIntegerOnlyOperatorsBypassDoubleCheck(t *testing.T) {
	functions := bound.NewMap()
	ts := types.NewStore()

	left := ir.NewConstant(ir.SourceLocation{}, ir.ConstInt, types.None)
	right := ir.NewConstant(ir.SourceLocation{}, ir.ConstInt, types.None)
	op := &ir.BinaryOp{Op: "&", Left: left, Right: right, Type: types.None}
	body := ir.NewBlock(ir.SourceLocation{}, []ir.Node{
		ir.NewReturn(ir.SourceLocation{}, op),
	})
	fn := declareFunc(t, functions, "f", 0, 0, types.None, body)

	prog, errs := Compile([]*ir.Function{fn}, functions, ts, fn)
	if errs != nil {
		t.Fatalf("Compile errors: %v", errs)
	}
	r := bytecode.NewReader(prog.Code)
	r.ReadOpcode()
	r.ReadU16()
	r.ReadOpcode()
	r.ReadU16()
	r.ReadOpcode()
	r.ReadU16()
	if op := r.ReadOpcode(); op != bytecode.OpIAnd {
		t.Errorf("opcode = %v, want OpIAnd", op)
	}
}

func TestCompileUnaryOpSelection(t *testing.T) {
	functions := bound.NewMap()
	ts := types.NewStore()
	doubleType := ts.Declare("Double", types.None).ID
	ts.Link()

	operand := ir.NewConstant(ir.SourceLocation{}, ir.ConstDouble, doubleType)
	op := &ir.UnaryOp{Op: "neg", Operand: operand, Type: doubleType}
	body := ir.NewBlock(ir.SourceLocation{}, []ir.Node{
		ir.NewReturn(ir.SourceLocation{}, op),
	})
	fn := declareFunc(t, functions, "f", 0, 0, types.None, body)

	prog, errs := Compile([]*ir.Function{fn}, functions, ts, fn, WithDoubleType(doubleType))
	if errs != nil {
		t.Fatalf("Compile errors: %v", errs)
	}
	r := bytecode.NewReader(prog.Code)
	r.ReadOpcode()
	r.ReadU16()
	r.ReadOpcode()
	r.ReadU16()
	if op := r.ReadOpcode(); op != bytecode.OpDNeg {
		t.Errorf("opcode = %v, want OpDNeg", op)
	}
}

func TestCompileCallKinds(t *testing.T) {
	functions := bound.NewMap()
	ts := types.NewStore()

	calleeID, err := functions.Add(bound.Signature{Name: "callee"}, 0, 0, types.None)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		kind ir.CallKind
		want bytecode.Opcode
	}{
		{"direct", ir.CallDirect, bytecode.OpCall},
		{"method", ir.CallMethod, bytecode.OpCallMethod},
		{"virtual", ir.CallVirtualMethod, bytecode.OpCallVirtualMethod},
		{"native", ir.CallNative, bytecode.OpCallNative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			functions := bound.NewMap()
			functions.Add(bound.Signature{Name: "callee"}, 0, 0, types.None)
			_ = calleeID
			call := &ir.Call{Kind: tt.kind, CalleeID: 0, Type: types.None}
			body := ir.NewBlock(ir.SourceLocation{}, []ir.Node{
				ir.NewDiscardResult(ir.SourceLocation{}, call, 1),
				ir.NewReturn(ir.SourceLocation{}, nil),
			})
			fn := declareFunc(t, functions, "caller", 0, 0, types.None, body)

			prog, errs := Compile([]*ir.Function{fn}, functions, ts, fn)
			if errs != nil {
				t.Fatalf("Compile errors: %v", errs)
			}
			r := bytecode.NewReader(prog.Code)
			r.ReadOpcode() // Alloc_Locals
			r.ReadU16()
			if op := r.ReadOpcode(); op != tt.want {
				t.Errorf("opcode = %v, want %v", op, tt.want)
			}
		})
	}
}

func TestCompileBareExpressionStatementDropsByValueType(t *testing.T) {
	tests := []struct {
		name     string
		retType  types.ID
		wantDrop bool
	}{
		{"void call leaves nothing to drop", types.None, false},
		{"non-void call leaves a result to drop", types.ID(3), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			functions := bound.NewMap()
			ts := types.NewStore()
			calleeID, err := functions.Add(bound.Signature{Name: "callee"}, 0, 0, tt.retType)
			if err != nil {
				t.Fatal(err)
			}
			call := &ir.Call{Kind: ir.CallDirect, CalleeID: int(calleeID), Type: tt.retType}
			body := ir.NewBlock(ir.SourceLocation{}, []ir.Node{
				call,
				ir.NewReturn(ir.SourceLocation{}, nil),
			})
			fn := declareFunc(t, functions, "caller", 0, 0, types.None, body)

			prog, errs := Compile([]*ir.Function{fn}, functions, ts, fn)
			if errs != nil {
				t.Fatalf("Compile errors: %v", errs)
			}

			r := bytecode.NewReader(prog.Code)
			r.ReadOpcode() // Alloc_Locals
			r.ReadU16()
			if op := r.ReadOpcode(); op != bytecode.OpCall {
				t.Fatalf("opcode = %v, want OpCall", op)
			}
			r.ReadU16()
			gotDrop := r.ReadOpcode() == bytecode.OpDropN
			if gotDrop != tt.wantDrop {
				t.Errorf("emitted OpDropN = %v, want %v", gotDrop, tt.wantDrop)
			}
		})
	}
}

func TestCompileUnresolvedEntryFunctionIsError(t *testing.T) {
	functions := bound.NewMap()
	ts := types.NewStore()

	body := ir.NewBlock(ir.SourceLocation{}, []ir.Node{ir.NewReturn(ir.SourceLocation{}, nil)})
	fn := declareFunc(t, functions, "f", 0, 0, types.None, body)
	notCompiled := &ir.Function{Name: "missing", BoundID: fn.BoundID}

	_, errs := Compile([]*ir.Function{fn}, functions, ts, notCompiled)
	if errs == nil {
		t.Fatal("expected an error when entryFn was never compiled")
	}
}

func TestCompileStoreFieldAndStoreIndex(t *testing.T) {
	functions := bound.NewMap()
	ts := types.NewStore()

	obj := ir.NewConstant(ir.SourceLocation{}, ir.ConstInt, types.None)
	rhs := ir.NewConstant(ir.SourceLocation{}, ir.ConstInt, types.None)
	storeField := ir.NewStoreField(ir.SourceLocation{}, obj, 2, rhs)

	arr := ir.NewConstant(ir.SourceLocation{}, ir.ConstInt, types.None)
	idx := ir.NewConstant(ir.SourceLocation{}, ir.ConstInt, types.None)
	storeIndex := ir.NewStoreIndex(ir.SourceLocation{}, arr, idx, rhs)

	body := ir.NewBlock(ir.SourceLocation{}, []ir.Node{
		storeField,
		storeIndex,
		ir.NewReturn(ir.SourceLocation{}, nil),
	})
	fn := declareFunc(t, functions, "f", 0, 0, types.None, body)

	prog, errs := Compile([]*ir.Function{fn}, functions, ts, fn)
	if errs != nil {
		t.Fatalf("Compile errors: %v", errs)
	}

	r := bytecode.NewReader(prog.Code)
	r.ReadOpcode() // Alloc_Locals
	r.ReadU16()

	r.ReadOpcode() // Object load
	r.ReadU16()
	r.ReadOpcode() // Rhs load
	r.ReadU16()
	if op := r.ReadOpcode(); op != bytecode.OpStoreField {
		t.Fatalf("opcode = %v, want OpStoreField", op)
	}
	if idx := r.ReadU16(); idx != 2 {
		t.Errorf("Store_Field index = %d, want 2", idx)
	}

	r.ReadOpcode() // Array load
	r.ReadU16()
	r.ReadOpcode() // Index load
	r.ReadU16()
	r.ReadOpcode() // Rhs load
	r.ReadU16()
	if op := r.ReadOpcode(); op != bytecode.OpStoreIndex {
		t.Fatalf("opcode = %v, want OpStoreIndex", op)
	}

	if op := r.ReadOpcode(); op != bytecode.OpReturn {
		t.Fatalf("opcode = %v, want OpReturn", op)
	}
}

func TestCompileSourceLocationsOnlyRecordedWhenRequested(t *testing.T) {
	functions := bound.NewMap()
	ts := types.NewStore()

	loc := ir.SourceLocation{File: "a.mal", Line: 3, Column: 1}
	ret := ir.NewReturn(loc, nil)
	body := ir.NewBlock(ir.SourceLocation{}, []ir.Node{ret})
	fn := declareFunc(t, functions, "f", 0, 0, types.None, body)

	prog, errs := Compile([]*ir.Function{fn}, functions, ts, fn)
	if errs != nil {
		t.Fatalf("Compile errors: %v", errs)
	}
	if len(prog.SourceLocs) != 0 {
		t.Errorf("SourceLocs = %v, want empty without WithSourceLocations", prog.SourceLocs)
	}

	functions2 := bound.NewMap()
	fn2 := declareFunc(t, functions2, "f", 0, 0, types.None, body)
	prog2, errs2 := Compile([]*ir.Function{fn2}, functions2, ts, fn2, WithSourceLocations())
	if errs2 != nil {
		t.Fatalf("Compile errors: %v", errs2)
	}
	if len(prog2.SourceLocs) == 0 {
		t.Error("SourceLocs is empty, want at least one entry with WithSourceLocations")
	}
}
