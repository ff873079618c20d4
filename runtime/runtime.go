// Package runtime implements Malang's native builtin roster: the
// per-primitive-type println overloads, the debug/GC control natives, and
// the registration entry point a host program calls once at startup
// before compiling or loading a Program (§6 "Native registration API").
package runtime

import (
	"fmt"
	"strconv"

	"github.com/antlover26/malang/bound"
	"github.com/antlover26/malang/heap"
	"github.com/antlover26/malang/image"
	"github.com/antlover26/malang/types"
	"github.com/antlover26/malang/value"
)

// PrimitiveTypes names the type IDs Register needs to bind println's
// per-type overloads against. A caller assembles these from its
// types.Store before compiling any source that calls println — exactly
// as original_source/src/vm/runtime/builtins.cpp's runtime_builtins_init
// takes a Type_Map and looks up get_int()/get_bool()/etc.
type PrimitiveTypes struct {
	Int    types.ID
	Bool   types.ID
	Double types.ID
	Buffer types.ID
	String types.ID
	Object types.ID // the common root type; println(object) is the fallback overload
}

// Register installs the builtin native roster into fns: println overloaded
// per primitive type (int, bool, double, buffer, string, object — object's
// println prints its dynamic type's name), stack_trace, gc_pause/gc_resume/
// gc_run, and breakpoint. Grounded verbatim on
// original_source/src/vm/runtime/builtins.cpp's roster and dispatch-by-
// static-type shape; each Go native receives its argument already popped
// (by vm.VM.callNative), unlike the C++ original which pops from the VM
// stack by hand.
func Register(fns *bound.Map, pt PrimitiveTypes) error {
	registrations := []struct {
		name   string
		params []types.ID
		fn     bound.NativeFunc
	}{
		{"println", []types.ID{pt.Int}, printlnInt},
		{"println", []types.ID{pt.Bool}, printlnBool},
		{"println", []types.ID{pt.Double}, printlnDouble},
		{"println", []types.ID{pt.Buffer}, printlnBuffer},
		{"println", []types.ID{pt.String}, printlnString},
		{"println", []types.ID{pt.Object}, printlnObject},
		{"stack_trace", nil, nativeStackTrace},
		{"gc_pause", nil, nativeGCPause},
		{"gc_resume", nil, nativeGCResume},
		{"gc_run", nil, nativeGCRun},
		{"breakpoint", nil, nativeBreakpoint},
	}

	for _, r := range registrations {
		if _, err := fns.AddNative(bound.Signature{Name: r.name, Params: r.params}, r.fn, types.None); err != nil {
			return fmt.Errorf("runtime: register %s: %w", r.name, err)
		}
	}
	return nil
}

func printlnInt(m bound.Machine, args []value.Value) value.Value {
	m.Write(strconv.FormatInt(int64(args[0].AsFixnum()), 10) + "\n")
	return value.Null
}

func printlnBool(m bound.Machine, args []value.Value) value.Value {
	if args[0].AsBoolean() {
		m.Write("true\n")
	} else {
		m.Write("false\n")
	}
	return value.Null
}

func printlnDouble(m bound.Machine, args []value.Value) value.Value {
	m.Write(strconv.FormatFloat(args[0].AsDouble(), 'f', -1, 64) + "\n")
	return value.Null
}

func printlnBuffer(m bound.Machine, args []value.Value) value.Value {
	obj := heap.FromValue(args[0])
	m.Write(obj.String() + "\n")
	return value.Null
}

// printlnString prints a String object's payload. The original VM reads
// this through a pair of field indices ("length", ".intern_data") because
// its heap objects are uniformly slot-arrays; this system's heap.Object
// gives a String its own raw byte-slice body (see heap.Object.Tag), so
// the fields are unnecessary here — Bytes() already is the string's data.
func printlnString(m bound.Machine, args []value.Value) value.Value {
	obj := heap.FromValue(args[0])
	m.Write(obj.String() + "\n")
	return value.Null
}

func printlnObject(m bound.Machine, args []value.Value) value.Value {
	obj := heap.FromValue(args[0])
	m.Write(m.Types().Get(obj.Type).Name + "\n")
	return value.Null
}

func nativeStackTrace(m bound.Machine, args []value.Value) value.Value {
	m.Write(m.StackTrace())
	return value.Null
}

func nativeGCPause(m bound.Machine, args []value.Value) value.Value {
	m.PauseGC()
	return value.Null
}

func nativeGCResume(m bound.Machine, args []value.Value) value.Value {
	m.ResumeGC()
	return value.Null
}

func nativeGCRun(m bound.Machine, args []value.Value) value.Value {
	m.CollectNow()
	m.Write(m.SnapshotString() + "\n")
	return value.Null
}

func nativeBreakpoint(m bound.Machine, args []value.Value) value.Value {
	m.SetBreaking(true)
	return value.Null
}

// Resolver builds an image.NativeResolver that rebinds a persisted image's
// native bound-function records back to this roster, by exact (name,
// param types) signature. pt must name the same type IDs the image was
// originally compiled against — the convention this core uses is that a
// host declares its primitive types first and in the same fixed order
// every time, so their IDs line up across a compile/persist/reload cycle
// without needing the names themselves to be written into the image.
func Resolver(pt PrimitiveTypes) image.NativeResolver {
	fns := bound.NewMap()
	if err := Register(fns, pt); err != nil {
		panic(fmt.Sprintf("runtime: building resolver: %v", err))
	}
	return func(name string, paramTypes []types.ID) (bound.NativeFunc, bool) {
		id, ok := fns.Lookup(bound.Signature{Name: name, Params: paramTypes})
		if !ok {
			return nil, false
		}
		return fns.Get(id).Native, true
	}
}
