package codegen

import (
	"github.com/antlover26/malang/bound"
	"github.com/antlover26/malang/types"
	"github.com/antlover26/malang/value"
)

// Program is the finalized output of Compile: the immutable artifact the
// VM is constructed with (§3.5).
type Program struct {
	Code            []byte
	Constants       []value.Value
	StringConstants map[int]string // constant pool index -> literal bytes, for string literals
	Functions       *bound.Map
	Types           *types.Store
	EntryPoint      int
	SourceLocs      []SourceLocEntry // optional; empty unless WithSourceLocations is set
}

// SourceLocEntry maps one code offset to a source position, for the
// image's optional side table (§6 item 6). The vm package does not consult
// it when building a stack trace.
type SourceLocEntry struct {
	Offset int
	File   string
	Line   int
	Column int
}
