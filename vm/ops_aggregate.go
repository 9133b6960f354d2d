package vm

import "github.com/stbcvm/stbcvm/bytecode"

// execAggregate implements ARRAY_LOAD/STORE/LEN and STRUCT_LOAD/STORE.
//
// An array or struct is a contiguous run of global slots addressed by a
// base index, the same flat-table-with-index-handles convention used
// everywhere else in this VM:
//
//   - An array's base slot holds its element count as an Int; elements
//     occupy the base+1..base+count global slots.
//   - A struct's base slot is the address of field 0; STRUCT_LOAD/STORE's
//     operand is a field offset added to the base.
//
// Base references and array indices are Int values on the operand stack;
// a mismatch is a fatal type error like any other typed operation.
func (v *VM) execAggregate(in bytecode.Instruction) *uint32 {
	switch in.Op {
	case bytecode.ARRAY_LEN:
		base, ok := v.popArrayBase()
		if !ok {
			return nil
		}
		length, ok := v.mem.LoadGlobal(uint32(base))
		if !ok || length.Kind != KindInt {
			v.setFault(newFault(FaultOutOfRange, v.pc, "array base %d has no valid length slot", base))
			return nil
		}
		v.push(Int(length.AsInt()))

	case bytecode.ARRAY_LOAD:
		index, ok := v.popInt("ARRAY_LOAD index")
		if !ok {
			return nil
		}
		base, ok := v.popArrayBase()
		if !ok {
			return nil
		}
		count, ok := v.arrayCount(base)
		if !ok {
			return nil
		}
		if index < 0 || index >= count {
			v.setFault(newFault(FaultOutOfRange, v.pc, "array index %d out of range [0,%d)", index, count))
			return nil
		}
		val, ok := v.mem.LoadGlobal(uint32(base) + 1 + uint32(index))
		if !ok {
			v.setFault(newFault(FaultOutOfRange, v.pc, "array element %d out of global range", index))
			return nil
		}
		v.push(val)

	case bytecode.ARRAY_STORE:
		val, ok := v.pop()
		if !ok {
			return nil
		}
		index, ok := v.popInt("ARRAY_STORE index")
		if !ok {
			return nil
		}
		base, ok := v.popArrayBase()
		if !ok {
			return nil
		}
		count, ok := v.arrayCount(base)
		if !ok {
			return nil
		}
		if index < 0 || index >= count {
			v.setFault(newFault(FaultOutOfRange, v.pc, "array index %d out of range [0,%d)", index, count))
			return nil
		}
		if !v.mem.StoreGlobal(uint32(base)+1+uint32(index), val) {
			v.setFault(newFault(FaultOutOfRange, v.pc, "array element %d out of global range", index))
			return nil
		}

	case bytecode.STRUCT_LOAD:
		base, ok := v.popArrayBase()
		if !ok {
			return nil
		}
		val, ok := v.mem.LoadGlobal(uint32(base) + uint32(in.Operand))
		if !ok {
			v.setFault(newFault(FaultOutOfRange, v.pc, "struct field offset %d out of global range", in.Operand))
			return nil
		}
		v.push(val)

	case bytecode.STRUCT_STORE:
		val, ok := v.pop()
		if !ok {
			return nil
		}
		base, ok := v.popArrayBase()
		if !ok {
			return nil
		}
		if !v.mem.StoreGlobal(uint32(base)+uint32(in.Operand), val) {
			v.setFault(newFault(FaultOutOfRange, v.pc, "struct field offset %d out of global range", in.Operand))
			return nil
		}
	}
	return nil
}

func (v *VM) popInt(context string) (int32, bool) {
	val, ok := v.pop()
	if !ok {
		return 0, false
	}
	if val.Kind != KindInt {
		v.setFault(newFault(FaultTypeMismatch, v.pc, "%s requires an INT operand", context))
		return 0, false
	}
	return val.AsInt(), true
}

func (v *VM) popArrayBase() (int32, bool) {
	return v.popInt("aggregate base reference")
}

func (v *VM) arrayCount(base int32) (int32, bool) {
	length, ok := v.mem.LoadGlobal(uint32(base))
	if !ok || length.Kind != KindInt {
		v.setFault(newFault(FaultOutOfRange, v.pc, "array base %d has no valid length slot", base))
		return 0, false
	}
	return length.AsInt(), true
}
