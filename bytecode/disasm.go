package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble renders an entire file's instruction array to text, one
// instruction per line prefixed with its index, so the output round-trips
// against a re-assembly of the same opcodes and operands.
func Disassemble(f *File) string {
	var b strings.Builder
	for i, in := range f.Instrs {
		fmt.Fprintf(&b, "%5d: %s\n", i, in.Disassemble())
	}
	return b.String()
}
