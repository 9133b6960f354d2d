package vm

import (
	"math"
	"strconv"

	"github.com/stbcvm/stbcvm/bytecode"
)

// execConvert implements the explicit conversion opcodes. Numeric
// widening/truncation is total; REAL_TO_INT truncates toward zero and
// faults if the real is out of int32 range; string parses fault on
// invalid literals.
func (v *VM) execConvert(in bytecode.Instruction) *uint32 {
	a, ok := v.pop()
	if !ok {
		return nil
	}

	switch in.Op {
	case bytecode.INT_TO_REAL:
		if a.Kind != KindInt {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "INT_TO_REAL on non-INT operand"))
			return nil
		}
		v.push(Real(float64(a.AsInt())))

	case bytecode.REAL_TO_INT:
		if a.Kind != KindReal {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "REAL_TO_INT on non-REAL operand"))
			return nil
		}
		r := a.AsReal()
		truncated := math.Trunc(r)
		if math.IsNaN(truncated) || truncated > math.MaxInt32 || truncated < math.MinInt32 {
			v.setFault(newFault(FaultConversion, v.pc, "REAL_TO_INT: %g out of int32 range", r))
			return nil
		}
		v.push(Int(int32(truncated)))

	case bytecode.INT_TO_STRING:
		if a.Kind != KindInt {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "INT_TO_STRING on non-INT operand"))
			return nil
		}
		v.push(String(strconv.FormatInt(int64(a.AsInt()), 10)))

	case bytecode.REAL_TO_STRING:
		if a.Kind != KindReal {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "REAL_TO_STRING on non-REAL operand"))
			return nil
		}
		v.push(String(strconv.FormatFloat(a.AsReal(), 'g', -1, 64)))

	case bytecode.BOOL_TO_STRING:
		if a.Kind != KindBool {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "BOOL_TO_STRING on non-BOOL operand"))
			return nil
		}
		v.push(String(strconv.FormatBool(a.AsBool())))

	case bytecode.STRING_TO_INT:
		if a.Kind != KindString {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "STRING_TO_INT on non-STRING operand"))
			return nil
		}
		n, err := strconv.ParseInt(a.AsString(), 10, 32)
		if err != nil {
			v.setFault(newFault(FaultConversion, v.pc, "STRING_TO_INT: invalid literal %q", a.AsString()))
			return nil
		}
		v.push(Int(int32(n)))

	case bytecode.STRING_TO_REAL:
		if a.Kind != KindString {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "STRING_TO_REAL on non-STRING operand"))
			return nil
		}
		f, err := strconv.ParseFloat(a.AsString(), 64)
		if err != nil {
			v.setFault(newFault(FaultConversion, v.pc, "STRING_TO_REAL: invalid literal %q", a.AsString()))
			return nil
		}
		v.push(Real(f))
	}
	return nil
}
