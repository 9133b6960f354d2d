// Package debugger implements an interactive session over a *vm.VM:
// breakpoints, watchpoints, single-stepping, and both a line-oriented REPL
// (RunCLI) and a full-screen tcell/tview view (RunTUI).
package debugger

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/stbcvm/stbcvm/bytecode"
	"github.com/stbcvm/stbcvm/msync"
	"github.com/stbcvm/stbcvm/vm"
)

// StepMode is the debugger's current single-stepping mode.
type StepMode int

const (
	StepNone StepMode = iota
	StepSingle
)

// Debugger wraps a *vm.VM with breakpoint/watchpoint state and a step-mode
// state machine.
type Debugger struct {
	VM          *vm.VM
	File        *bytecode.File
	Sync        *msync.Engine
	Breakpoints *BreakpointManager
	Watchpoints *WatchpointManager

	StepMode StepMode
	Running  bool
}

// New constructs a Debugger over v. file and syncEngine may be nil.
func New(v *vm.VM, file *bytecode.File, syncEngine *msync.Engine) *Debugger {
	return &Debugger{
		VM:          v,
		File:        file,
		Sync:        syncEngine,
		Breakpoints: NewBreakpointManager(),
		Watchpoints: NewWatchpointManager(),
	}
}

// ShouldBreak reports whether execution should pause at the VM's current
// pc, and why.
func (d *Debugger) ShouldBreak() (bool, string) {
	pc := d.VM.PC()

	if d.StepMode == StepSingle {
		d.StepMode = StepNone
		return true, "single step"
	}

	if bp := d.Breakpoints.ProcessHit(pc); bp != nil {
		return true, fmt.Sprintf("breakpoint %d at pc=%d", bp.ID, bp.PC)
	}

	if hit := d.Watchpoints.CheckWatchpoints(d.VM); len(hit) > 0 {
		names := make([]string, len(hit))
		for i, wp := range hit {
			names[i] = fmt.Sprintf("global %d", wp.GlobalIdx)
		}
		return true, "watchpoint: " + strings.Join(names, ", ")
	}

	return false, ""
}

// RunCLI drives a line-oriented debugger REPL against stdin/stdout,
// stepping the VM one instruction at a time and stopping whenever
// ShouldBreak (or the command itself) says to.
func (d *Debugger) RunCLI(in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "debugger ready. type 'help' for commands.")
	d.VM.Start()

	for d.VM.State() != vm.StateStopped && d.VM.State() != vm.StateError {
		d.printLocation(out)
		fmt.Fprint(out, "(dbg) ")
		if !scanner.Scan() {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if quit := d.runCommand(line, out); quit {
			return nil
		}
	}

	if f := d.VM.Fault(); f != nil {
		fmt.Fprintf(out, "halted with fault: %v\n", f)
	} else {
		fmt.Fprintln(out, "program halted normally")
	}
	return nil
}

func (d *Debugger) printLocation(out io.Writer) {
	pc := d.VM.PC()
	if d.File != nil && int(pc) < len(d.File.Instrs) {
		fmt.Fprintf(out, "pc=%d %s\n", pc, d.File.Instrs[pc].Disassemble())
	} else {
		fmt.Fprintf(out, "pc=%d\n", pc)
	}
}

// runCommand executes one REPL command; it returns true when the session
// should end.
func (d *Debugger) runCommand(line string, out io.Writer) bool {
	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "help", "h":
		fmt.Fprintln(out, "commands: step(s), continue(c), break(b) <pc>, delete <id>, watch(w) <globalIdx>, stack, globals, sync, quit(q)")

	case "step", "s":
		d.StepMode = StepSingle
		d.VM.Resume()
		d.VM.Step()

	case "continue", "c":
		d.runUntilBreak(out)

	case "break", "b":
		if len(args) != 1 {
			fmt.Fprintln(out, "usage: break <pc>")
			break
		}
		pc, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			fmt.Fprintln(out, "invalid pc:", err)
			break
		}
		bp := d.Breakpoints.Add(uint32(pc), false)
		d.VM.AddBreakpoint(uint32(pc))
		fmt.Fprintf(out, "breakpoint %d set at pc=%d\n", bp.ID, bp.PC)

	case "delete":
		if len(args) != 1 {
			fmt.Fprintln(out, "usage: delete <id>")
			break
		}
		id, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintln(out, "invalid id:", err)
			break
		}
		if err := d.Breakpoints.DeleteByID(id); err != nil {
			fmt.Fprintln(out, err)
		}

	case "watch", "w":
		if len(args) != 1 {
			fmt.Fprintln(out, "usage: watch <globalIdx>")
			break
		}
		idx, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			fmt.Fprintln(out, "invalid index:", err)
			break
		}
		wp := d.Watchpoints.Add(uint32(idx))
		fmt.Fprintf(out, "watchpoint %d set on global %d\n", wp.ID, wp.GlobalIdx)

	case "stack":
		fmt.Fprintf(out, "stack depth=%d call depth=%d\n", d.VM.StackDepth(), d.VM.CallDepth())

	case "globals":
		d.printGlobals(out)

	case "sync":
		d.printSyncStatus(out)

	case "quit", "q":
		return true

	default:
		fmt.Fprintf(out, "unknown command %q (try 'help')\n", cmd)
	}
	return false
}

func (d *Debugger) printGlobals(out io.Writer) {
	if d.File == nil {
		fmt.Fprintln(out, "no variable table loaded")
		return
	}
	for _, vd := range d.File.Vars {
		if !vd.IsGlobal {
			continue
		}
		v, ok := d.VM.Global(vd.Offset)
		if !ok {
			continue
		}
		fmt.Fprintf(out, "  %s (global %d) = %s\n", vd.Name, vd.Offset, v.GoString())
	}
}

func (d *Debugger) printSyncStatus(out io.Writer) {
	if d.Sync == nil {
		fmt.Fprintln(out, "sync disabled (standalone)")
		return
	}
	stats := d.Sync.Stats()
	fmt.Fprintf(out, "role=%s state=%s peer_alive=%t vars=%d\n", d.Sync.Role(), d.Sync.State(), d.Sync.PeerAlive(), d.Sync.SyncVarCount())
	fmt.Fprintf(out, "  messages sent=%d received=%d failovers=%d checksum_errors=%d\n",
		stats.MessagesSent, stats.MessagesReceived, stats.Failovers, stats.ChecksumErrors)
}

// runUntilBreak steps the VM until ShouldBreak fires or it halts/errors.
func (d *Debugger) runUntilBreak(out io.Writer) {
	d.VM.Resume()
	for d.VM.State() == vm.StateRunning || d.VM.State() == vm.StateInit {
		d.VM.Step()
		if d.Sync != nil {
			d.Sync.ProcessSyncMessages()
		}
		if stop, reason := d.ShouldBreak(); stop {
			fmt.Fprintln(out, "stopped:", reason)
			return
		}
		if d.VM.State() != vm.StateRunning && d.VM.State() != vm.StateInit {
			return
		}
	}
}
