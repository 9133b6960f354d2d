package vm

import "github.com/stbcvm/stbcvm/bytecode"

// execJump implements unconditional and conditional jumps. JMP_EQ/JMP_NE
// compare with the same rules EQ_* uses for the operands' shared type.
func (v *VM) execJump(in bytecode.Instruction) *uint32 {
	addr := uint32(in.Operand)

	if in.Op == bytecode.JMP {
		return &addr
	}

	if in.Op == bytecode.JMP_TRUE || in.Op == bytecode.JMP_FALSE {
		cond, ok := v.pop()
		if !ok {
			return nil
		}
		if cond.Kind != KindBool {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "%s requires a BOOL operand", in.Op))
			return nil
		}
		want := in.Op == bytecode.JMP_TRUE
		if cond.AsBool() == want {
			return &addr
		}
		return nil
	}

	// JMP_EQ / JMP_NE
	b, ok := v.pop()
	if !ok {
		return nil
	}
	a, ok := v.pop()
	if !ok {
		return nil
	}
	if a.Kind != b.Kind {
		v.setFault(newFault(FaultTypeMismatch, v.pc, "%s requires operands of matching type", in.Op))
		return nil
	}
	eq := a.Equal(b)
	if in.Op == bytecode.JMP_NE {
		eq = !eq
	}
	if eq {
		return &addr
	}
	return nil
}
