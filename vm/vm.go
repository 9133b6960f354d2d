package vm

import (
	"io"
	"time"

	"github.com/stbcvm/stbcvm/bytecode"
)

// State is the VM top-level state machine.
type State uint8

const (
	StateInit State = iota
	StateRunning
	StatePaused
	StateStopped
	StateError
	StateSyncWait
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateStopped:
		return "Stopped"
	case StateError:
		return "Error"
	case StateSyncWait:
		return "SyncWait"
	default:
		return "?"
	}
}

// SyncHook lets a cooperating replication engine observe every global
// write without the vm package importing msync. The hook runs in the
// dispatch loop's goroutine; it must not block.
type SyncHook interface {
	OnGlobalWrite(idx uint32, v Value)
}

// Config bounds a VM instance's fixed-capacity resources and optional
// execution-time budget. A zero Timeout disables the watchdog.
type Config struct {
	StackCapacity     int
	CallStackCapacity int
	GlobalCapacity    int
	LocalCapacity     int
	Timeout           time.Duration // zero means unbounded
}

func DefaultConfig() Config {
	return Config{
		StackCapacity:     DefaultStackCapacity,
		CallStackCapacity: DefaultCallStackCapacity,
		GlobalCapacity:    DefaultGlobalCapacity,
		LocalCapacity:     DefaultLocalCapacity,
	}
}

// VM is a single, non-reentrant instance of the stack machine. A host may
// run the dispatch loop on its own goroutine, but the VM itself spawns
// none.
type VM struct {
	File    *bytecode.File
	Builtin *Registry
	Library *Registry
	Stats   *Statistics

	// Output receives DEBUG_PRINT text; a nil Output makes DEBUG_PRINT a
	// no-op other than popping its operand.
	Output io.Writer

	stack *Stack
	calls *CallStack
	mem   *Memory

	pc    uint32
	state State
	fault *Fault

	breakpoints map[uint32]struct{}
	singleStep  bool

	cfg          Config
	syncHook     SyncHook
	stopReq      bool
	skipBreak    bool
	localCursor  uint32
	funcByAddr   map[uint32]bytecode.FuncDescriptor
}

// New constructs an uninitialized VM; call Load before Execute.
func New(cfg Config) *VM {
	if cfg.StackCapacity == 0 {
		cfg.StackCapacity = DefaultStackCapacity
	}
	if cfg.CallStackCapacity == 0 {
		cfg.CallStackCapacity = DefaultCallStackCapacity
	}
	if cfg.GlobalCapacity == 0 {
		cfg.GlobalCapacity = DefaultGlobalCapacity
	}
	if cfg.LocalCapacity == 0 {
		cfg.LocalCapacity = DefaultLocalCapacity
	}
	return &VM{
		Builtin:     NewRegistry(),
		Library:     NewRegistry(),
		Stats:       NewStatistics(),
		stack:       NewStack(cfg.StackCapacity),
		calls:       NewCallStack(cfg.CallStackCapacity),
		mem:         NewMemory(cfg.GlobalCapacity, cfg.LocalCapacity),
		state:       StateInit,
		breakpoints: make(map[uint32]struct{}),
		cfg:         cfg,
	}
}

// Load installs a validated bytecode file and positions pc at its entry
// point. The caller is responsible for calling bytecode.Validate first;
// Load does not re-validate.
func (v *VM) Load(f *bytecode.File) {
	v.File = f
	v.pc = f.Header.EntryPoint
	v.state = StateInit
	v.fault = nil
	v.funcByAddr = make(map[uint32]bytecode.FuncDescriptor, len(f.Funcs))
	for _, fn := range f.Funcs {
		v.funcByAddr[fn.Address] = fn
	}
}

func (v *VM) SetSyncHook(h SyncHook) { v.syncHook = h }

// Config returns the resource limits and timeout this VM was constructed
// with, for hosts that report memory usage or other capacity-derived
// statistics.
func (v *VM) Config() Config { return v.cfg }

func (v *VM) State() State    { return v.state }
func (v *VM) PC() uint32      { return v.pc }
func (v *VM) SetPC(pc uint32) { v.pc = pc }
func (v *VM) Fault() *Fault   { return v.fault }

func (v *VM) StackDepth() int { return v.stack.Len() }
func (v *VM) CallDepth() int  { return v.calls.Depth() }

// Global reads a global slot directly, bypassing dispatch; used by the
// sync engine to apply incoming VarSync/Checkpoint payloads and by
// debuggers to inspect state.
func (v *VM) Global(idx uint32) (Value, bool) { return v.mem.LoadGlobal(idx) }

// SetGlobalRaw writes a global slot directly without marking it dirty or
// invoking the sync hook — the path the sync engine uses to apply a
// peer's update without re-propagating it.
func (v *VM) SetGlobalRaw(idx uint32, val Value) bool { return v.mem.StoreGlobal(idx, val) }

func (v *VM) SetDebug(enabled bool) {
	if !enabled {
		v.breakpoints = make(map[uint32]struct{})
	}
}

func (v *VM) AddBreakpoint(addr uint32)    { v.breakpoints[addr] = struct{}{} }
func (v *VM) RemoveBreakpoint(addr uint32) { delete(v.breakpoints, addr) }
func (v *VM) HasBreakpoint(addr uint32) bool {
	_, ok := v.breakpoints[addr]
	return ok
}

func (v *VM) SetSingleStep(enabled bool) { v.singleStep = enabled }

// Pause requests a transition to Paused at the next inter-instruction
// boundary.
func (v *VM) Pause() {
	if v.state == StateRunning {
		v.state = StatePaused
	}
}

func (v *VM) Resume() {
	if v.state == StatePaused {
		v.state = StateRunning
		// The instruction we paused on must execute before its breakpoint
		// can fire again, or resume would re-pause at the same pc forever.
		v.skipBreak = true
	}
}

// Start transitions Init to Running and begins the statistics clock,
// without running the dispatch loop itself. Execute does this
// automatically; a debugger single-stepping via Step needs it done
// up front, before its first step.
func (v *VM) Start() {
	if v.state == StateInit {
		v.state = StateRunning
		v.Stats.Start()
	}
}

// Stop requests termination at the next inter-instruction boundary.
func (v *VM) Stop() { v.stopReq = true }

// EnterSyncWait/ExitSyncWait implement the Running<->SyncWait transition
// a secondary uses while blocked on an expected checkpoint.
func (v *VM) EnterSyncWait() {
	if v.state == StateRunning {
		v.state = StateSyncWait
	}
}

func (v *VM) ExitSyncWait() {
	if v.state == StateSyncWait {
		v.state = StateRunning
	}
}

func (v *VM) setFault(f *Fault) {
	v.fault = f
	v.state = StateError
	v.Stats.RecordError()
}

// Reset discards all execution state (stacks, memory, pc, state, fault)
// but keeps the loaded file and registries. A VM in Error cannot resume;
// the host resets it or discards it.
func (v *VM) Reset() {
	v.stack.Reset()
	v.calls.Reset()
	v.mem = NewMemory(v.cfg.GlobalCapacity, v.cfg.LocalCapacity)
	v.pc = 0
	if v.File != nil {
		v.pc = v.File.Header.EntryPoint
	}
	v.state = StateInit
	v.fault = nil
	v.stopReq = false
	v.skipBreak = false
	v.localCursor = 0
	v.Stats = NewStatistics()
}
