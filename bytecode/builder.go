package bytecode

import "encoding/binary"

// Builder constructs a bytecode stream, grounded on the two-pass
// label-patching idiom: forward jumps emit a placeholder offset and
// record the patch site; Mark resolves a label to the current position
// and back-patches every recorded site.
type Builder struct {
	bytes []byte
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the bytecode constructed so far.
func (b *Builder) Bytes() []byte { return b.bytes }

// Len returns the current length of the stream.
func (b *Builder) Len() int { return len(b.bytes) }

// Emit appends an opcode with no operand.
func (b *Builder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitU16 appends an opcode with a 16-bit unsigned operand (little-endian).
func (b *Builder) EmitU16(op Opcode, operand uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], operand)
	b.bytes = append(b.bytes, byte(op), buf[0], buf[1])
}

// EmitU16x2 appends an opcode with two 16-bit unsigned operands
// (little-endian), used only by Call_Virtual_Method's (slot, arity) pair.
func (b *Builder) EmitU16x2(op Opcode, a, c uint16) {
	var buf [4]byte
	binary.LittleEndian.PutUint16(buf[0:2], a)
	binary.LittleEndian.PutUint16(buf[2:4], c)
	b.bytes = append(b.bytes, byte(op), buf[0], buf[1], buf[2], buf[3])
}

// ---------------------------------------------------------------------------
// Label management for branches
// ---------------------------------------------------------------------------

// Label is a forward or backward branch target, per the two-pass codegen
// contract (§4.6 step 1): first pass emits placeholders and records refs,
// second pass — here, Mark — patches them once the target is known.
type Label struct {
	resolved bool
	position int
	refs     []int // byte offsets of the pending 16-bit operand to patch
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves label to the builder's current position and patches every
// forward reference recorded against it so far. Panics if called twice on
// the same label — a label is bound to exactly one code offset.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		panic("bytecode: label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		offset := int16(label.position - (ref + 2))
		b.bytes[ref] = byte(offset)
		b.bytes[ref+1] = byte(offset >> 8)
	}
	label.refs = nil
}

// EmitBranch emits a Branch/BranchIfTrue/BranchIfFalse targeting label. If
// the label is already resolved (a backward branch), the offset is
// computed immediately; otherwise a placeholder is recorded for Mark to
// patch later.
func (b *Builder) EmitBranch(op Opcode, label *Label) {
	b.bytes = append(b.bytes, byte(op))
	if label.resolved {
		offset := int16(label.position - (len(b.bytes) + 2))
		b.bytes = append(b.bytes, byte(offset), byte(offset>>8))
		return
	}
	label.refs = append(label.refs, len(b.bytes))
	b.bytes = append(b.bytes, 0, 0)
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// Reader reads a bytecode stream sequentially, for either interpretation
// or disassembly.
type Reader struct {
	bytes []byte
	pos   int
}

// NewReader creates a reader over bc, starting at offset 0.
func NewReader(bc []byte) *Reader {
	return &Reader{bytes: bc}
}

// Position returns the current read offset.
func (r *Reader) Position() int { return r.pos }

// HasMore reports whether any bytes remain.
func (r *Reader) HasMore() bool { return r.pos < len(r.bytes) }

// Seek moves the read position to an absolute offset, used when a Call or
// Branch instruction redirects the program counter.
func (r *Reader) Seek(pos int) { r.pos = pos }

// ReadOpcode reads and returns the next opcode byte.
func (r *Reader) ReadOpcode() Opcode {
	if r.pos >= len(r.bytes) {
		panic("bytecode: read past end of stream")
	}
	op := Opcode(r.bytes[r.pos])
	r.pos++
	return op
}

// ReadU16 reads a 16-bit unsigned operand (little-endian).
func (r *Reader) ReadU16() uint16 {
	if r.pos+2 > len(r.bytes) {
		panic("bytecode: read past end of stream")
	}
	v := binary.LittleEndian.Uint16(r.bytes[r.pos:])
	r.pos += 2
	return v
}

// ReadI16 reads a 16-bit signed branch offset (little-endian).
func (r *Reader) ReadI16() int16 {
	return int16(r.ReadU16())
}

// ReadU16Pair reads two consecutive 16-bit unsigned operands, used only by
// Call_Virtual_Method's (slot, arity) encoding.
func (r *Reader) ReadU16Pair() (uint16, uint16) {
	a := r.ReadU16()
	c := r.ReadU16()
	return a, c
}
