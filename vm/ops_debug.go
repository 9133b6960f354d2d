package vm

import (
	"fmt"

	"github.com/stbcvm/stbcvm/bytecode"
)

// execDebug implements DEBUG_PRINT, BREAKPOINT, and LINE_INFO.
// BREAKPOINT is an in-bytecode equivalent of an address-set breakpoint: it
// unconditionally pauses. LINE_INFO is a marker opcode; source position is
// already carried on every Instruction, so it has no further effect here.
func (v *VM) execDebug(in bytecode.Instruction) *uint32 {
	switch in.Op {
	case bytecode.DEBUG_PRINT:
		val, ok := v.pop()
		if !ok {
			return nil
		}
		if v.Output != nil {
			fmt.Fprintln(v.Output, val.GoString())
		}
	case bytecode.BREAKPOINT:
		v.state = StatePaused
	case bytecode.LINE_INFO:
		// no-op marker
	}
	return nil
}
