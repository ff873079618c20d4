package codegen

import (
	"fmt"

	"github.com/antlover26/malang/ir"
)

// Error is a single codegen-time failure: an unresolved symbol or a type
// disagreement, per the spec's "any unresolved symbol or type
// disagreement is a codegen error, fatal, never surfaced as a runtime
// error." Collected into a slice rather than returned eagerly, mirroring
// the teacher's Compiler.errorf/Errors() split, so one pass can report
// every problem in a function instead of stopping at the first.
type Error struct {
	Loc     ir.SourceLocation
	Message string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.Loc.File, e.Loc.Line, e.Loc.Column, e.Message)
}

// errorList accumulates Error values during one Compile call.
type errorList struct {
	errors []Error
}

func (l *errorList) add(loc ir.SourceLocation, format string, args ...interface{}) {
	l.errors = append(l.errors, Error{Loc: loc, Message: fmt.Sprintf(format, args...)})
}

func (l *errorList) ok() bool { return len(l.errors) == 0 }
