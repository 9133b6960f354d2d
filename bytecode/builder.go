package bytecode

// Builder assembles a File in memory: it owns the deduplicated constant
// pool and a label table for resolving forward jumps. It is the one piece
// of code-generator machinery this package carries itself, so that tests
// and tools can construct valid bytecode without hand-writing binary
// files.
type Builder struct {
	instrs []Instruction
	consts []ConstEntry
	vars   []VarDescriptor
	funcs  []FuncDescriptor
	labels map[string]uint32
	flags  uint32
}

func NewBuilder() *Builder {
	return &Builder{labels: make(map[string]uint32)}
}

// AddConstInt returns the index of an existing or newly appended Int
// constant, deduplicated by value.
func (b *Builder) AddConstInt(v int32) uint32 {
	return b.addConst(ConstEntry{Kind: ConstInt, Int: v})
}

func (b *Builder) AddConstReal(v float64) uint32 {
	return b.addConst(ConstEntry{Kind: ConstReal, Real: v})
}

func (b *Builder) AddConstBool(v bool) uint32 {
	return b.addConst(ConstEntry{Kind: ConstBool, Bool: v})
}

func (b *Builder) AddConstString(v string) uint32 {
	return b.addConst(ConstEntry{Kind: ConstString, String: v})
}

func (b *Builder) addConst(entry ConstEntry) uint32 {
	for i, existing := range b.consts {
		if existing.Equal(entry) {
			return uint32(i)
		}
	}
	b.consts = append(b.consts, entry)
	return uint32(len(b.consts) - 1)
}

// Emit appends an instruction and returns its address.
func (b *Builder) Emit(op Opcode, operand int64) uint32 {
	addr := uint32(len(b.instrs))
	b.instrs = append(b.instrs, Instruction{Op: op, OperandKind: op.OperandKind(), Operand: operand})
	return addr
}

// EmitAt is like Emit but records source position for diagnostics.
func (b *Builder) EmitAt(op Opcode, operand int64, line, col uint32) uint32 {
	addr := b.Emit(op, operand)
	b.instrs[addr].SourceLine = line
	b.instrs[addr].SourceColumn = col
	return addr
}

// Label marks the next instruction's address under name, for later
// resolution by PatchJump.
func (b *Builder) Label(name string) {
	b.labels[name] = uint32(len(b.instrs))
}

// ResolveLabel returns the address a label was bound to.
func (b *Builder) ResolveLabel(name string) (uint32, bool) {
	addr, ok := b.labels[name]
	return addr, ok
}

// PatchJump rewrites the operand of a previously emitted jump/call
// instruction to the address bound to label, once that label is known.
func (b *Builder) PatchJump(instrAddr uint32, label string) error {
	addr, ok := b.labels[label]
	if !ok {
		return NewFormatError("unresolved label " + label)
	}
	b.instrs[instrAddr].Operand = int64(addr)
	return nil
}

func (b *Builder) AddVar(v VarDescriptor) uint32 {
	b.vars = append(b.vars, v)
	return uint32(len(b.vars) - 1)
}

func (b *Builder) AddFunc(fn FuncDescriptor) uint32 {
	b.funcs = append(b.funcs, fn)
	return uint32(len(b.funcs) - 1)
}

func (b *Builder) SetSyncEnabled(enabled bool) {
	if enabled {
		b.flags |= FlagSyncEnabled
	} else {
		b.flags &^= FlagSyncEnabled
	}
}

// Build finalizes the File with the given entry point.
func (b *Builder) Build(entryPoint uint32) *File {
	return &File{
		Header: Header{
			Version:    Version(),
			Flags:      b.flags,
			EntryPoint: entryPoint,
		},
		Instrs: b.instrs,
		Consts: b.consts,
		Vars:   b.vars,
		Funcs:  b.funcs,
	}
}
