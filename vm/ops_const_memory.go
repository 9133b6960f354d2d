package vm

import "github.com/stbcvm/stbcvm/bytecode"

func (v *VM) execLoadConst(in bytecode.Instruction) *uint32 {
	idx := int(in.Operand)
	if idx < 0 || idx >= len(v.File.Consts) {
		v.setFault(newFault(FaultOutOfRange, v.pc, "constant index %d out of range", idx))
		return nil
	}
	c := v.File.Consts[idx]
	var val Value
	switch in.Op {
	case bytecode.LOAD_CONST_INT:
		if c.Kind != bytecode.ConstInt {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "LOAD_CONST_INT on non-int constant"))
			return nil
		}
		val = Int(c.Int)
	case bytecode.LOAD_CONST_REAL:
		if c.Kind != bytecode.ConstReal {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "LOAD_CONST_REAL on non-real constant"))
			return nil
		}
		val = Real(c.Real)
	case bytecode.LOAD_CONST_BOOL:
		if c.Kind != bytecode.ConstBool {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "LOAD_CONST_BOOL on non-bool constant"))
			return nil
		}
		val = Bool(c.Bool)
	case bytecode.LOAD_CONST_STRING:
		if c.Kind != bytecode.ConstString {
			v.setFault(newFault(FaultTypeMismatch, v.pc, "LOAD_CONST_STRING on non-string constant"))
			return nil
		}
		val = String(c.String)
	}
	v.push(val)
	return nil
}

func (v *VM) currentBases() (localBase, paramBase uint32) {
	if f, ok := v.calls.Top(); ok {
		return f.LocalBase, f.ParamBase
	}
	return 0, 0
}

func (v *VM) execMemory(in bytecode.Instruction) *uint32 {
	idx := uint32(in.Operand)
	localBase, paramBase := v.currentBases()

	switch in.Op {
	case bytecode.LOAD_GLOBAL:
		val, ok := v.mem.LoadGlobal(idx)
		if !ok {
			v.setFault(newFault(FaultOutOfRange, v.pc, "global index %d out of range", idx))
			return nil
		}
		if val.IsUndefined() {
			v.setFault(newFault(FaultUndefinedRead, v.pc, "read of undefined global %d", idx))
			return nil
		}
		v.push(val)

	case bytecode.STORE_GLOBAL:
		val, ok := v.pop()
		if !ok {
			return nil
		}
		if !v.mem.StoreGlobal(idx, val) {
			v.setFault(newFault(FaultOutOfRange, v.pc, "global index %d out of range", idx))
			return nil
		}
		if v.syncHook != nil {
			v.syncHook.OnGlobalWrite(idx, val)
		}

	case bytecode.LOAD_LOCAL:
		val, ok := v.mem.LoadLocal(localBase, idx)
		if !ok {
			v.setFault(newFault(FaultOutOfRange, v.pc, "local index %d out of range", idx))
			return nil
		}
		if val.IsUndefined() {
			v.setFault(newFault(FaultUndefinedRead, v.pc, "read of undefined local %d", idx))
			return nil
		}
		v.push(val)

	case bytecode.STORE_LOCAL:
		val, ok := v.pop()
		if !ok {
			return nil
		}
		if !v.mem.StoreLocal(localBase, idx, val) {
			v.setFault(newFault(FaultOutOfRange, v.pc, "local index %d out of range", idx))
			return nil
		}

	case bytecode.LOAD_PARAM:
		val, ok := v.mem.LoadLocal(paramBase, idx)
		if !ok {
			v.setFault(newFault(FaultOutOfRange, v.pc, "param index %d out of range", idx))
			return nil
		}
		if val.IsUndefined() {
			v.setFault(newFault(FaultUndefinedRead, v.pc, "read of undefined param %d", idx))
			return nil
		}
		v.push(val)

	case bytecode.STORE_PARAM:
		val, ok := v.pop()
		if !ok {
			return nil
		}
		if !v.mem.StoreLocal(paramBase, idx, val) {
			v.setFault(newFault(FaultOutOfRange, v.pc, "param index %d out of range", idx))
			return nil
		}
	}
	return nil
}

func (v *VM) execStackOp(in bytecode.Instruction) *uint32 {
	switch in.Op {
	case bytecode.PUSH:
		// PUSH has no operand and therefore no value to produce; pushing
		// Undefined would break the no-Undefined-on-stack invariant. The
		// mnemonic exists for the format only and is never emitted by the
		// generator.
		v.setFault(newFault(FaultUnknownOpcode, v.pc, "PUSH is not a valid value producer"))
	case bytecode.POP:
		v.pop()
	case bytecode.DUP:
		val, ok := v.stack.Peek(0)
		if !ok {
			v.setFault(newFault(FaultStackUnderflow, v.pc, "DUP on empty stack"))
			return nil
		}
		v.push(val)
	case bytecode.SWAP:
		a, ok1 := v.pop()
		b, ok2 := v.pop()
		if !ok1 || !ok2 {
			return nil
		}
		v.push(a)
		v.push(b)
	}
	return nil
}
