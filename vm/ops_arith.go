package vm

import "github.com/stbcvm/stbcvm/bytecode"

// execArithmetic implements INT and REAL arithmetic. Integer ADD/SUB/MUL
// wrap on two's-complement overflow without error; DIV/MOD with a zero
// divisor are fatal. Real arithmetic follows IEEE-754 without raising on
// NaN/infinity.
func (v *VM) execArithmetic(in bytecode.Instruction) *uint32 {
	if in.Op == bytecode.NEG_INT || in.Op == bytecode.NEG_REAL {
		a, ok := v.pop()
		if !ok {
			return nil
		}
		switch in.Op {
		case bytecode.NEG_INT:
			if a.Kind != KindInt {
				v.setFault(newFault(FaultTypeMismatch, v.pc, "NEG_INT on non-INT operand"))
				return nil
			}
			v.push(Int(-a.AsInt()))
		case bytecode.NEG_REAL:
			if a.Kind != KindReal {
				v.setFault(newFault(FaultTypeMismatch, v.pc, "NEG_REAL on non-REAL operand"))
				return nil
			}
			v.push(Real(-a.AsReal()))
		}
		return nil
	}

	b, ok := v.pop()
	if !ok {
		return nil
	}
	a, ok := v.pop()
	if !ok {
		return nil
	}

	switch in.Op {
	case bytecode.ADD_INT, bytecode.SUB_INT, bytecode.MUL_INT, bytecode.DIV_INT, bytecode.MOD_INT:
		if a.Kind != KindInt || b.Kind != KindInt {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "%s requires two INT operands", in.Op))
			return nil
		}
		x, y := a.AsInt(), b.AsInt()
		switch in.Op {
		case bytecode.ADD_INT:
			v.push(Int(x + y))
		case bytecode.SUB_INT:
			v.push(Int(x - y))
		case bytecode.MUL_INT:
			v.push(Int(x * y))
		case bytecode.DIV_INT:
			if y == 0 {
				v.setFault(newFault(FaultDivisionByZero, v.pc, "integer division by zero"))
				return nil
			}
			v.push(Int(x / y))
		case bytecode.MOD_INT:
			if y == 0 {
				v.setFault(newFault(FaultDivisionByZero, v.pc, "integer modulo by zero"))
				return nil
			}
			v.push(Int(x % y))
		}

	case bytecode.ADD_REAL, bytecode.SUB_REAL, bytecode.MUL_REAL, bytecode.DIV_REAL:
		if a.Kind != KindReal || b.Kind != KindReal {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "%s requires two REAL operands", in.Op))
			return nil
		}
		x, y := a.AsReal(), b.AsReal()
		switch in.Op {
		case bytecode.ADD_REAL:
			v.push(Real(x + y))
		case bytecode.SUB_REAL:
			v.push(Real(x - y))
		case bytecode.MUL_REAL:
			v.push(Real(x * y))
		case bytecode.DIV_REAL:
			v.push(Real(x / y)) // IEEE-754: y==0 yields +-Inf or NaN, not a fault
		}
	}
	return nil
}

// execLogic implements AND/OR/XOR/NOT. All four require Bool operands;
// evaluation is strict, with no short-circuit at this level.
func (v *VM) execLogic(in bytecode.Instruction) *uint32 {
	if in.Op == bytecode.NOT {
		a, ok := v.pop()
		if !ok {
			return nil
		}
		if a.Kind != KindBool {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "NOT requires a BOOL operand"))
			return nil
		}
		v.push(Bool(!a.AsBool()))
		return nil
	}

	b, ok := v.pop()
	if !ok {
		return nil
	}
	a, ok := v.pop()
	if !ok {
		return nil
	}
	if a.Kind != KindBool || b.Kind != KindBool {
		v.setFault(newFault(FaultTypeMismatch, v.pc, "%s requires two BOOL operands", in.Op))
		return nil
	}
	x, y := a.AsBool(), b.AsBool()
	switch in.Op {
	case bytecode.AND:
		v.push(Bool(x && y))
	case bytecode.OR:
		v.push(Bool(x || y))
	case bytecode.XOR:
		v.push(Bool(x != y))
	}
	return nil
}
