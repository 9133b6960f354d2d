package debugger

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// TUI is the full-screen text interface over a Debugger: disassembly,
// operand/call-stack, globals, and sync-status panels plus a command line.
type TUI struct {
	Debugger *Debugger
	App      *tview.Application

	DisassemblyView *tview.TextView
	StackView       *tview.TextView
	GlobalsView     *tview.TextView
	SyncView        *tview.TextView
	CommandInput    *tview.InputField
}

// NewTUI builds the TUI's panels and key bindings over d.
func NewTUI(d *Debugger) *TUI {
	t := &TUI{Debugger: d, App: tview.NewApplication()}
	t.initViews()
	t.buildLayout()
	return t
}

func (t *TUI) initViews() {
	t.DisassemblyView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	t.DisassemblyView.SetBorder(true).SetTitle(" Disassembly ")

	t.StackView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	t.StackView.SetBorder(true).SetTitle(" Stack / Call Stack ")

	t.GlobalsView = tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	t.GlobalsView.SetBorder(true).SetTitle(" Globals ")

	t.SyncView = tview.NewTextView().SetDynamicColors(true)
	t.SyncView.SetBorder(true).SetTitle(" Sync Status ")

	t.CommandInput = tview.NewInputField().SetLabel("> ")
	t.CommandInput.SetBorder(true).SetTitle(" Command ")
	t.CommandInput.SetDoneFunc(t.handleCommand)
}

func (t *TUI) buildLayout() {
	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(t.DisassemblyView, 0, 2, false).
		AddItem(t.StackView, 0, 1, false)

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(t.GlobalsView, 0, 2, false).
		AddItem(t.SyncView, 0, 1, false)

	main := tview.NewFlex().
		AddItem(left, 0, 1, false).
		AddItem(right, 0, 1, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(main, 0, 1, false).
		AddItem(t.CommandInput, 3, 0, true)

	t.App.SetRoot(root, true)
}

func (t *TUI) handleCommand(key tcell.Key) {
	if key != tcell.KeyEnter {
		return
	}
	line := strings.TrimSpace(t.CommandInput.GetText())
	t.CommandInput.SetText("")
	if line == "" {
		return
	}
	var out strings.Builder
	if t.Debugger.runCommand(line, &out) {
		t.App.Stop()
		return
	}
	t.refresh()
	fmt.Fprint(t.StackView, out.String())
}

// Run starts the VM (if still Init) and blocks running the tview event
// loop until the user quits.
func (t *TUI) Run() error {
	t.Debugger.VM.Start()
	t.refresh()
	return t.App.Run()
}

func (t *TUI) refresh() {
	d := t.Debugger
	t.DisassemblyView.Clear()
	if d.File != nil {
		pc := d.VM.PC()
		lo, hi := pc, pc+10
		if int(hi) > len(d.File.Instrs) {
			hi = uint32(len(d.File.Instrs))
		}
		for i := lo; i < hi; i++ {
			marker := "  "
			if i == pc {
				marker = "->"
			}
			fmt.Fprintf(t.DisassemblyView, "%s %4d  %s\n", marker, i, d.File.Instrs[i].Disassemble())
		}
	}

	t.StackView.Clear()
	fmt.Fprintf(t.StackView, "state=%s stack depth=%d call depth=%d\n", d.VM.State(), d.VM.StackDepth(), d.VM.CallDepth())

	t.GlobalsView.Clear()
	if d.File != nil {
		for _, vd := range d.File.Vars {
			if !vd.IsGlobal {
				continue
			}
			if v, ok := d.VM.Global(vd.Offset); ok {
				fmt.Fprintf(t.GlobalsView, "%s = %s\n", vd.Name, v.GoString())
			}
		}
	}

	t.SyncView.Clear()
	if d.Sync == nil {
		fmt.Fprintln(t.SyncView, "standalone")
	} else {
		fmt.Fprintf(t.SyncView, "role=%s state=%s peer_alive=%t\n", d.Sync.Role(), d.Sync.State(), d.Sync.PeerAlive())
	}
}
