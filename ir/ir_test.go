package ir

import (
	"testing"

	"github.com/antlover26/malang/types"
)

func TestConstantValueType(t *testing.T) {
	c := NewConstant(SourceLocation{}, ConstInt, types.None)
	c.Int = 42
	if c.ValueType() != types.None {
		t.Errorf("ValueType() = %v, want types.None", c.ValueType())
	}
}

func TestLabelMapMakeLabel(t *testing.T) {
	m := NewLabelMap()
	l := m.MakeLabel(SourceLocation{}, "loop_start")
	if l.Name != "loop_start" {
		t.Errorf("Name = %q, want loop_start", l.Name)
	}
	if got := m.GetLabel("loop_start"); got != l {
		t.Error("GetLabel did not return the interned label")
	}
}

func TestLabelMapDuplicateNamePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on duplicate label name")
		}
	}()
	m := NewLabelMap()
	m.MakeLabel(SourceLocation{}, "x")
	m.MakeLabel(SourceLocation{}, "x")
}

func TestLabelMapNamedBlock(t *testing.T) {
	m := NewLabelMap()
	b := m.MakeNamedBlock(SourceLocation{}, "while_1", "while_1_end")
	if b.End.Name != "while_1_end" {
		t.Errorf("End.Name = %q, want while_1_end", b.End.Name)
	}
	if got := m.GetNamedBlock("while_1"); got != b {
		t.Error("GetNamedBlock did not return the interned block")
	}
	if got := m.GetLabel("while_1_end"); got != b.End {
		t.Error("end label should also be independently interned")
	}
}

func TestLabelMapSameNameAndEndNamePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic when block name equals end name")
		}
	}()
	m := NewLabelMap()
	m.MakeNamedBlock(SourceLocation{}, "x", "x")
}

func TestBinaryOpValueType(t *testing.T) {
	left := NewConstant(SourceLocation{}, ConstInt, types.None)
	right := NewConstant(SourceLocation{}, ConstInt, types.None)
	op := &BinaryOp{Op: "+", Left: left, Right: right, Type: types.ID(3)}
	if op.ValueType() != types.ID(3) {
		t.Errorf("ValueType() = %v, want 3", op.ValueType())
	}
}

func TestDiscardResultAndDeallocateConstruction(t *testing.T) {
	expr := NewConstant(SourceLocation{}, ConstInt, types.None)
	d := NewDiscardResult(SourceLocation{}, expr, 1)
	if d.N != 1 || d.Expr != expr {
		t.Error("NewDiscardResult did not store its fields correctly")
	}

	dealloc := NewDeallocateObject(SourceLocation{}, expr)
	if dealloc.Object != expr {
		t.Error("NewDeallocateObject did not store its operand")
	}
}

func TestNewStoreFieldConstruction(t *testing.T) {
	obj := NewConstant(SourceLocation{}, ConstInt, types.None)
	rhs := NewConstant(SourceLocation{}, ConstInt, types.None)
	s := NewStoreField(SourceLocation{}, obj, 3, rhs)
	if s.Object != obj || s.Index != 3 || s.Rhs != rhs {
		t.Error("NewStoreField did not store its fields correctly")
	}
}

func TestNewStoreIndexConstruction(t *testing.T) {
	arr := NewConstant(SourceLocation{}, ConstInt, types.None)
	idx := NewConstant(SourceLocation{}, ConstInt, types.None)
	rhs := NewConstant(SourceLocation{}, ConstInt, types.None)
	s := NewStoreIndex(SourceLocation{}, arr, idx, rhs)
	if s.Array != arr || s.Index != idx || s.Rhs != rhs {
		t.Error("NewStoreIndex did not store its fields correctly")
	}
}
