package vm

import (
	"time"

	"github.com/stbcvm/stbcvm/bytecode"
)

// Execute runs the dispatch loop from Init or Running until the VM reaches
// Stopped or Error, calling onTick (if non-nil) after every instruction so
// a cooperating sync engine can run its cadence without a thread of its
// own. While the VM sits in SyncWait (a secondary blocked on an expected
// checkpoint) the loop keeps ticking so the sync engine can receive the
// checkpoint and release it. Execute returns on Paused; the caller owns
// the resume decision.
func (v *VM) Execute(onTick func()) error {
	if v.state == StateInit {
		v.state = StateRunning
		v.Stats.Start()
	}
	start := time.Now()
	for v.state == StateRunning || v.state == StateSyncWait {
		if v.stopReq {
			v.state = StateStopped
			break
		}
		if v.cfg.Timeout > 0 && time.Since(start) > v.cfg.Timeout {
			v.setFault(newFault(FaultTimeout, v.pc, "execution exceeded %s budget", v.cfg.Timeout))
			break
		}
		if v.state == StateSyncWait {
			time.Sleep(time.Millisecond)
		} else {
			v.Step()
		}
		if onTick != nil {
			onTick()
		}
	}
	if v.fault != nil {
		return v.fault
	}
	return nil
}

// Step performs one fetch-decode-execute cycle. It is exported
// so a debugger can single-step, and so Execute's loop body and a
// debugger's "step" command share one implementation.
func (v *VM) Step() {
	if v.state != StateRunning {
		return
	}
	if int(v.pc) >= len(v.File.Instrs) {
		v.setFault(newFault(FaultOutOfRange, v.pc, "pc out of range (%d instructions)", len(v.File.Instrs)))
		return
	}

	resumed := v.skipBreak
	if v.skipBreak {
		v.skipBreak = false
	} else if v.HasBreakpoint(v.pc) {
		v.state = StatePaused
		return
	}

	in := v.File.Instrs[v.pc]
	var next *uint32
	if !(resumed && in.Op == bytecode.BREAKPOINT) {
		next = v.dispatch(in)
	}
	v.Stats.RecordInstruction()

	// A SYNC_CHECKPOINT that parked the VM in SyncWait still advances, so
	// the released VM continues after it instead of re-parking.
	if v.state != StateRunning && v.state != StateSyncWait {
		return
	}
	if next != nil {
		v.pc = *next
	} else {
		v.pc++
	}

	if v.singleStep && v.state == StateRunning {
		v.singleStep = false
		v.state = StatePaused
	}
}

// dispatch executes one instruction's handler. A non-nil return overrides
// the default pc+1 advance (jumps, calls, returns); a fault sets state to
// Error and pc is left pointing at the faulting instruction.
func (v *VM) dispatch(in bytecode.Instruction) *uint32 {
	switch in.Op {
	case bytecode.NOP:
		return nil
	case bytecode.HALT:
		v.state = StateStopped
		return nil

	case bytecode.LOAD_CONST_INT, bytecode.LOAD_CONST_REAL, bytecode.LOAD_CONST_BOOL, bytecode.LOAD_CONST_STRING:
		return v.execLoadConst(in)

	case bytecode.LOAD_LOCAL, bytecode.STORE_LOCAL, bytecode.LOAD_GLOBAL, bytecode.STORE_GLOBAL, bytecode.LOAD_PARAM, bytecode.STORE_PARAM:
		return v.execMemory(in)

	case bytecode.PUSH, bytecode.POP, bytecode.DUP, bytecode.SWAP:
		return v.execStackOp(in)

	case bytecode.ADD_INT, bytecode.SUB_INT, bytecode.MUL_INT, bytecode.DIV_INT, bytecode.MOD_INT, bytecode.NEG_INT,
		bytecode.ADD_REAL, bytecode.SUB_REAL, bytecode.MUL_REAL, bytecode.DIV_REAL, bytecode.NEG_REAL:
		return v.execArithmetic(in)

	case bytecode.AND, bytecode.OR, bytecode.XOR, bytecode.NOT:
		return v.execLogic(in)

	case bytecode.EQ_INT, bytecode.NE_INT, bytecode.LT_INT, bytecode.LE_INT, bytecode.GT_INT, bytecode.GE_INT,
		bytecode.EQ_REAL, bytecode.NE_REAL, bytecode.LT_REAL, bytecode.LE_REAL, bytecode.GT_REAL, bytecode.GE_REAL,
		bytecode.EQ_STRING, bytecode.NE_STRING, bytecode.LT_STRING, bytecode.LE_STRING, bytecode.GT_STRING, bytecode.GE_STRING:
		return v.execCompare(in)

	case bytecode.INT_TO_REAL, bytecode.REAL_TO_INT, bytecode.INT_TO_STRING, bytecode.REAL_TO_STRING,
		bytecode.STRING_TO_INT, bytecode.STRING_TO_REAL, bytecode.BOOL_TO_STRING:
		return v.execConvert(in)

	case bytecode.JMP, bytecode.JMP_TRUE, bytecode.JMP_FALSE, bytecode.JMP_EQ, bytecode.JMP_NE:
		return v.execJump(in)

	case bytecode.CALL, bytecode.CALL_BUILTIN, bytecode.CALL_LIBRARY, bytecode.RET, bytecode.RET_VALUE:
		return v.execCall(in)

	case bytecode.ARRAY_LOAD, bytecode.ARRAY_STORE, bytecode.ARRAY_LEN, bytecode.STRUCT_LOAD, bytecode.STRUCT_STORE:
		return v.execAggregate(in)

	case bytecode.DEBUG_PRINT, bytecode.BREAKPOINT, bytecode.LINE_INFO:
		return v.execDebug(in)

	case bytecode.SYNC_VAR, bytecode.SYNC_CHECKPOINT:
		return v.execSync(in)

	default:
		v.setFault(newFault(FaultUnknownOpcode, v.pc, "unknown opcode %d", in.Op))
		return nil
	}
}

func (v *VM) push(val Value) bool {
	if !v.stack.Push(val) {
		v.setFault(newFault(FaultStackOverflow, v.pc, "operand stack overflow (capacity %d)", v.stack.Cap()))
		return false
	}
	return true
}

func (v *VM) pop() (Value, bool) {
	val, ok := v.stack.Pop()
	if !ok {
		v.setFault(newFault(FaultStackUnderflow, v.pc, "operand stack underflow"))
		return Value{}, false
	}
	return val, true
}
