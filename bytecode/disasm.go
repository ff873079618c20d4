package bytecode

import "fmt"

// DisassembleInstruction formats the instruction at r's current position
// and advances r past it.
func DisassembleInstruction(r *Reader) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()

	switch info.Operand {
	case OperandNone:
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	case OperandU16:
		v := r.ReadU16()
		return fmt.Sprintf("%04d  %s %d", pos, info.Name, v)
	case OperandI16:
		offset := r.ReadI16()
		target := r.Position() + int(offset)
		return fmt.Sprintf("%04d  %s %d (-> %04d)", pos, info.Name, offset, target)
	case OperandU16x2:
		a, c := r.ReadU16Pair()
		return fmt.Sprintf("%04d  %s %d %d", pos, info.Name, a, c)
	default:
		return fmt.Sprintf("%04d  %s", pos, info.Name)
	}
}

// Disassemble returns a full, newline-joined disassembly of bc.
func Disassemble(bc []byte) string {
	r := NewReader(bc)
	out := ""
	for r.HasMore() {
		if out != "" {
			out += "\n"
		}
		out += DisassembleInstruction(r)
	}
	return out
}
