package vm

import (
	"strings"

	"github.com/stbcvm/stbcvm/bytecode"
)

// execCompare implements the typed comparisons. Operand types must match
// the opcode's declared type family; string comparisons are lexicographic
// over bytes.
func (v *VM) execCompare(in bytecode.Instruction) *uint32 {
	b, ok := v.pop()
	if !ok {
		return nil
	}
	a, ok := v.pop()
	if !ok {
		return nil
	}

	var result bool
	switch in.Op {
	case bytecode.EQ_INT, bytecode.NE_INT, bytecode.LT_INT, bytecode.LE_INT, bytecode.GT_INT, bytecode.GE_INT:
		if a.Kind != KindInt || b.Kind != KindInt {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "%s requires two INT operands", in.Op))
			return nil
		}
		x, y := a.AsInt(), b.AsInt()
		switch in.Op {
		case bytecode.EQ_INT:
			result = x == y
		case bytecode.NE_INT:
			result = x != y
		case bytecode.LT_INT:
			result = x < y
		case bytecode.LE_INT:
			result = x <= y
		case bytecode.GT_INT:
			result = x > y
		case bytecode.GE_INT:
			result = x >= y
		}

	case bytecode.EQ_REAL, bytecode.NE_REAL, bytecode.LT_REAL, bytecode.LE_REAL, bytecode.GT_REAL, bytecode.GE_REAL:
		if a.Kind != KindReal || b.Kind != KindReal {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "%s requires two REAL operands", in.Op))
			return nil
		}
		x, y := a.AsReal(), b.AsReal()
		switch in.Op {
		case bytecode.EQ_REAL:
			result = x == y
		case bytecode.NE_REAL:
			result = x != y
		case bytecode.LT_REAL:
			result = x < y
		case bytecode.LE_REAL:
			result = x <= y
		case bytecode.GT_REAL:
			result = x > y
		case bytecode.GE_REAL:
			result = x >= y
		}

	case bytecode.EQ_STRING, bytecode.NE_STRING, bytecode.LT_STRING, bytecode.LE_STRING, bytecode.GT_STRING, bytecode.GE_STRING:
		if a.Kind != KindString || b.Kind != KindString {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "%s requires two STRING operands", in.Op))
			return nil
		}
		cmp := strings.Compare(a.AsString(), b.AsString())
		switch in.Op {
		case bytecode.EQ_STRING:
			result = cmp == 0
		case bytecode.NE_STRING:
			result = cmp != 0
		case bytecode.LT_STRING:
			result = cmp < 0
		case bytecode.LE_STRING:
			result = cmp <= 0
		case bytecode.GT_STRING:
			result = cmp > 0
		case bytecode.GE_STRING:
			result = cmp >= 0
		}
	}

	v.push(Bool(result))
	return nil
}
