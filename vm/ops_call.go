package vm

import "github.com/stbcvm/stbcvm/bytecode"

// execCall implements CALL, CALL_BUILTIN, CALL_LIBRARY, RET, RET_VALUE.
func (v *VM) execCall(in bytecode.Instruction) *uint32 {
	switch in.Op {
	case bytecode.CALL:
		return v.execUserCall(uint32(in.Operand))
	case bytecode.CALL_BUILTIN:
		v.execNativeCall(v.Builtin, uint32(in.Operand))
		return nil
	case bytecode.CALL_LIBRARY:
		v.execNativeCall(v.Library, uint32(in.Operand))
		return nil
	case bytecode.RET, bytecode.RET_VALUE:
		return v.execReturn()
	}
	return nil
}

func (v *VM) execUserCall(addr uint32) *uint32 {
	fn, ok := v.funcByAddr[addr]
	if !ok {
		v.setFault(newFault(FaultOutOfRange, v.pc, "CALL target %d is not a function entry point", addr))
		return nil
	}

	// The operand stack must hold at least ParamCount values immediately
	// before CALL; pop() surfaces underflow as a fault if a malformed
	// generator violated that.
	args := make([]Value, fn.ParamCount)
	for i := int(fn.ParamCount) - 1; i >= 0; i-- {
		val, ok := v.pop()
		if !ok {
			return nil
		}
		args[i] = val
	}

	paramBase := v.localCursor
	localBase := paramBase + fn.ParamCount
	frameWidth := fn.ParamCount + fn.LocalSize
	if int(localBase+fn.LocalSize) > len(v.mem.Locals) {
		v.setFault(newFault(FaultOutOfRange, v.pc, "call to %q exceeds local-region capacity", fn.Name))
		return nil
	}

	for i, val := range args {
		v.mem.StoreLocal(paramBase, uint32(i), val)
	}

	frame := Frame{
		ReturnAddr: v.pc + 1,
		LocalBase:  localBase,
		ParamBase:  paramBase,
		ParamCount: fn.ParamCount,
		Name:       fn.Name,
	}
	if !v.calls.Push(frame) {
		v.setFault(newFault(FaultCallStackOverflow, v.pc, "call stack overflow (capacity %d)", v.calls.Cap()))
		return nil
	}
	v.localCursor += frameWidth
	v.Stats.RecordCall()

	target := addr
	return &target
}

func (v *VM) execReturn() *uint32 {
	frame, ok := v.calls.Pop()
	if !ok {
		// RET with an empty call stack terminates the program.
		v.state = StateStopped
		return nil
	}
	v.localCursor = frame.ParamBase
	ret := frame.ReturnAddr
	return &ret
}

func (v *VM) execNativeCall(reg *Registry, id uint32) {
	handler, name, arity, ok := reg.Lookup(id)
	if !ok {
		v.setFault(newFault(FaultOutOfRange, v.pc, "native call id %d not registered", id))
		return
	}

	args := make([]Value, arity)
	for i := arity - 1; i >= 0; i-- {
		val, ok := v.pop()
		if !ok {
			return
		}
		args[i] = val
	}

	result, err := handler(args)
	if err != nil {
		v.setFault(newFault(FaultHandlerFailed, v.pc, "native handler %q: %v", name, err))
		return
	}
	if reg == v.Library {
		v.Stats.RecordLibraryCall()
	} else {
		v.Stats.RecordBuiltinCall()
	}
	if !result.IsUndefined() {
		v.push(result)
	}
}
