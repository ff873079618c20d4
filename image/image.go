// Package image implements Malang's persisted bytecode image codec (§6
// "Bytecode file layout"): a little-endian binary container for one
// finalized codegen.Program, plus an optional CBOR-encoded source-location
// side table.
package image

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"

	"github.com/antlover26/malang/bound"
	"github.com/antlover26/malang/codegen"
	"github.com/antlover26/malang/types"
	"github.com/antlover26/malang/value"
)

// Magic identifies a Malang image file (§6 item 1).
var Magic = [4]byte{'M', 'A', 'L', 'G'}

// Version is the current image format version.
const Version uint16 = 1

// constTag discriminates a constant-pool entry's variant (§6 item 2: "each
// constant tagged by variant"). A string literal's slot carries the
// placeholder value.Null in Program.Constants — its real bytes live in
// Program.StringConstants — so it gets its own tag and its own payload
// shape (length-prefixed bytes) rather than the 8-byte Value encoding
// every other tag uses.
type constTag uint8

const (
	constNull constTag = iota
	constTrue
	constFalse
	constFixnum
	constDouble
	constChar
	constString
)

// funcKind mirrors bound.Kind on the wire; kept distinct from bound.Kind
// itself so a future reordering of that enum can't silently corrupt
// existing images.
type funcKind uint8

const (
	funcBytecode funcKind = iota
	funcNative
)

// NativeResolver rebinds a persisted native bound-function record back to
// a live Go thunk at load time, by exact (name, param types) signature —
// an image never carries native code, only the fact that a slot was
// native and what it was called (§6's "Native registration API":
// `make_builtin` is how a host re-establishes natives, not deserialization).
type NativeResolver func(name string, paramTypes []types.ID) (bound.NativeFunc, bool)

type writer struct {
	w   io.Writer
	err error
}

func (w *writer) write(data []byte) {
	if w.err != nil {
		return
	}
	_, w.err = w.w.Write(data)
}

func (w *writer) u16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.write(buf[:])
}

func (w *writer) u32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.write(buf[:])
}

func (w *writer) i32(v int32) { w.u32(uint32(v)) }

func (w *writer) u64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.write(buf[:])
}

func (w *writer) str(s string) {
	w.u32(uint32(len(s)))
	w.write([]byte(s))
}

// Write serializes prog as a Malang image (§6).
func Write(out io.Writer, prog *codegen.Program) error {
	w := &writer{w: out}

	w.write(Magic[:])
	w.u16(Version)

	writeConstants(w, prog)
	writeFunctions(w, prog.Functions)
	writeTypes(w, prog.Types)

	w.u32(uint32(len(prog.Code)))
	w.write(prog.Code)

	if len(prog.SourceLocs) > 0 {
		w.write([]byte{1})
		enc, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			return fmt.Errorf("image: cbor encmode: %w", err)
		}
		locBytes, err := enc.Marshal(prog.SourceLocs)
		if err != nil {
			return fmt.Errorf("image: marshal source locs: %w", err)
		}
		w.u32(uint32(len(locBytes)))
		w.write(locBytes)
	} else {
		w.write([]byte{0})
	}

	w.u32(uint32(prog.EntryPoint))

	if w.err != nil {
		return fmt.Errorf("image: write: %w", w.err)
	}
	return nil
}

func writeConstants(w *writer, prog *codegen.Program) {
	w.u32(uint32(len(prog.Constants)))
	for idx, v := range prog.Constants {
		if s, ok := prog.StringConstants[idx]; ok {
			w.write([]byte{byte(constString)})
			w.str(s)
			continue
		}
		switch {
		case v == value.Null:
			w.write([]byte{byte(constNull)})
		case v == value.True:
			w.write([]byte{byte(constTrue)})
		case v == value.False:
			w.write([]byte{byte(constFalse)})
		case v.IsChar():
			w.write([]byte{byte(constChar)})
			w.u64(v.Bits())
		case v.IsFixnum():
			w.write([]byte{byte(constFixnum)})
			w.u64(v.Bits())
		default:
			w.write([]byte{byte(constDouble)})
			w.u64(v.Bits())
		}
	}
}

func writeFunctions(w *writer, fns *bound.Map) {
	all := fns.All()
	w.u32(uint32(len(all)))
	for _, fn := range all {
		w.str(fn.Signature.Name)

		w.u16(uint16(len(fn.Signature.Params)))
		for _, p := range fn.Signature.Params {
			w.u16(uint16(p))
		}

		switch fn.Kind {
		case bound.Bytecode:
			w.write([]byte{byte(funcBytecode)})
			w.u32(uint32(fn.EntryOffset))
		case bound.Native:
			w.write([]byte{byte(funcNative)})
			w.u32(0) // no entry offset; rebound by name+signature on load
		}
		w.u16(uint16(fn.Arity()))
		w.i32(int32(fn.ReturnType))
		w.u32(uint32(fn.NumLocals))
	}
}

func writeTypes(w *writer, ts *types.Store) {
	n := ts.Len()
	w.u32(uint32(n))
	for id := 0; id < n; id++ {
		info := ts.Get(types.ID(id))
		w.str(info.Name)
		w.i32(int32(info.Parent))

		fields := info.Fields()
		w.u32(uint32(len(fields)))
		for _, f := range fields {
			w.str(f.Name)
			w.i32(int32(f.Type))
		}

		methods := info.OwnMethods()
		w.u32(uint32(len(methods)))
		for _, m := range methods {
			w.str(m.Name)
			w.u16(uint16(len(m.ParamTypes)))
			for _, p := range m.ParamTypes {
				w.u16(uint16(p))
			}
			w.i32(int32(m.Fn))
		}
	}
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

type reader struct {
	r   io.Reader
	err error
}

func (r *reader) read(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		r.err = err
	}
	return buf
}

func (r *reader) u16() uint16 { return binary.LittleEndian.Uint16(r.read(2)) }
func (r *reader) u32() uint32 { return binary.LittleEndian.Uint32(r.read(4)) }
func (r *reader) i32() int32  { return int32(r.u32()) }
func (r *reader) u64() uint64 { return binary.LittleEndian.Uint64(r.read(8)) }
func (r *reader) str() string {
	n := r.u32()
	return string(r.read(int(n)))
}

// Read deserializes a Malang image into a runnable Program. resolveNative
// rebinds every persisted native record to a live Go thunk; a record that
// fails to resolve is an error, since a Program with a dangling native
// call can never run.
func Read(in io.Reader, resolveNative NativeResolver) (*codegen.Program, error) {
	r := &reader{r: in}

	magic := r.read(4)
	if r.err != nil {
		return nil, fmt.Errorf("image: read header: %w", r.err)
	}
	if !bytes.Equal(magic, Magic[:]) {
		return nil, fmt.Errorf("image: bad magic %q, want %q", magic, Magic)
	}
	version := r.u16()
	if version != Version {
		return nil, fmt.Errorf("image: unsupported version %d, want %d", version, Version)
	}

	constants, strConsts, err := readConstants(r)
	if err != nil {
		return nil, err
	}

	fns, err := readFunctions(r, resolveNative)
	if err != nil {
		return nil, err
	}

	ts, err := readTypes(r)
	if err != nil {
		return nil, err
	}

	codeLen := r.u32()
	code := r.read(int(codeLen))

	var sourceLocs []codegen.SourceLocEntry
	hasLocs := r.read(1)
	if r.err == nil && hasLocs[0] == 1 {
		locLen := r.u32()
		locBytes := r.read(int(locLen))
		if r.err == nil {
			if err := cbor.Unmarshal(locBytes, &sourceLocs); err != nil {
				return nil, fmt.Errorf("image: unmarshal source locs: %w", err)
			}
		}
	}

	entryPoint := int(r.u32())

	if r.err != nil {
		return nil, fmt.Errorf("image: read: %w", r.err)
	}

	return &codegen.Program{
		Code:            code,
		Constants:       constants,
		StringConstants: strConsts,
		Functions:       fns,
		Types:           ts,
		EntryPoint:      entryPoint,
		SourceLocs:      sourceLocs,
	}, nil
}

func readConstants(r *reader) ([]value.Value, map[int]string, error) {
	count := r.u32()
	constants := make([]value.Value, count)
	strConsts := make(map[int]string)
	for i := range constants {
		tagByte := r.read(1)
		if r.err != nil {
			return nil, nil, fmt.Errorf("image: read constant tag: %w", r.err)
		}
		switch constTag(tagByte[0]) {
		case constNull:
			constants[i] = value.Null
		case constTrue:
			constants[i] = value.True
		case constFalse:
			constants[i] = value.False
		case constFixnum, constDouble, constChar:
			constants[i] = value.FromBits(r.u64())
		case constString:
			strConsts[i] = r.str()
			constants[i] = value.Null
		default:
			return nil, nil, fmt.Errorf("image: unknown constant tag %d", tagByte[0])
		}
	}
	if r.err != nil {
		return nil, nil, fmt.Errorf("image: read constants: %w", r.err)
	}
	return constants, strConsts, nil
}

func readFunctions(r *reader, resolveNative NativeResolver) (*bound.Map, error) {
	count := r.u32()
	fns := bound.NewMap()
	for i := uint32(0); i < count; i++ {
		name := r.str()
		paramCount := r.u16()
		params := make([]types.ID, paramCount)
		for j := range params {
			params[j] = types.ID(r.u16())
		}
		kindByte := r.read(1)
		entryOrNative := r.u32()
		arity := r.u16()
		_ = arity
		returnType := types.ID(r.i32())
		numLocals := r.u32()
		if r.err != nil {
			return nil, fmt.Errorf("image: read function %d: %w", i, r.err)
		}

		sig := bound.Signature{Name: name, Params: params}
		switch funcKind(kindByte[0]) {
		case funcBytecode:
			if _, err := fns.Add(sig, int(entryOrNative), int(numLocals), returnType); err != nil {
				return nil, fmt.Errorf("image: register function %q: %w", name, err)
			}
		case funcNative:
			if resolveNative == nil {
				return nil, fmt.Errorf("image: function %q is native but no resolver was given", name)
			}
			native, ok := resolveNative(name, params)
			if !ok {
				return nil, fmt.Errorf("image: no native registered for %q", name)
			}
			if _, err := fns.AddNative(sig, native, returnType); err != nil {
				return nil, fmt.Errorf("image: register native %q: %w", name, err)
			}
		default:
			return nil, fmt.Errorf("image: unknown function kind %d for %q", kindByte[0], name)
		}
	}
	return fns, nil
}

func readTypes(r *reader) (*types.Store, error) {
	count := r.u32()
	ts := types.NewStore()

	type pendingMethod struct {
		typeID types.ID
		name   string
		params []types.ID
		fn     types.BoundFunctionID
	}
	var pending []pendingMethod

	for i := uint32(0); i < count; i++ {
		name := r.str()
		parent := types.ID(r.i32())

		fieldCount := r.u32()
		fields := make([]struct {
			name string
			typ  types.ID
		}, fieldCount)
		for j := range fields {
			fields[j].name = r.str()
			fields[j].typ = types.ID(r.i32())
		}

		methodCount := r.u32()
		methods := make([]pendingMethod, methodCount)
		for j := range methods {
			mName := r.str()
			paramCount := r.u16()
			params := make([]types.ID, paramCount)
			for k := range params {
				params[k] = types.ID(r.u16())
			}
			fn := types.BoundFunctionID(r.i32())
			methods[j] = pendingMethod{name: mName, params: params, fn: fn}
		}
		if r.err != nil {
			return nil, fmt.Errorf("image: read type %d: %w", i, r.err)
		}

		info := ts.Declare(name, parent)
		for _, f := range fields {
			ts.AddField(info.ID, f.name, f.typ)
		}
		for _, m := range methods {
			m.typeID = info.ID
			pending = append(pending, m)
		}
	}

	for _, m := range pending {
		ts.Get(m.typeID).AddMethod(m.name, m.params, m.fn)
	}

	if err := ts.Link(); err != nil {
		return nil, fmt.Errorf("image: link types: %w", err)
	}
	return ts, nil
}
