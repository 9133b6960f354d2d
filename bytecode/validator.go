package bytecode

import "fmt"

// Validate performs a single, side-effect-free forward scan over a file
// before it may be loaded into a VM. It fails the load if:
// the major version mismatches this package's VersionMajor; the entry
// point is out of range; any address operand is out of range; any
// string-pool-index operand is out of range or doesn't name a string
// constant; any opcode is unknown; or any instruction's operand kind
// disagrees with its opcode's declared kind.
func Validate(f *File) error {
	major := f.Header.Version >> 16
	if major != VersionMajor {
		return NewFormatError(fmt.Sprintf("incompatible major version %d, want %d", major, VersionMajor))
	}

	instrCount := uint32(len(f.Instrs))
	constCount := uint32(len(f.Consts))

	if instrCount == 0 {
		return NewFormatError("empty instruction array")
	}
	if f.Header.EntryPoint >= instrCount {
		return NewFormatError(fmt.Sprintf("entry point %d >= instruction count %d", f.Header.EntryPoint, instrCount))
	}

	for i, in := range f.Instrs {
		if !in.Op.Valid() {
			return NewInstructionError(i, fmt.Sprintf("unknown opcode %d", in.Op))
		}
		want := in.Op.OperandKind()
		if in.OperandKind != want {
			return NewInstructionError(i, fmt.Sprintf("opcode %s declares operand kind %d, instruction has %d", in.Op, want, in.OperandKind))
		}
		switch in.OperandKind {
		case OperandAddress:
			addr := uint32(in.Operand)
			if in.Operand < 0 || addr >= instrCount {
				return NewInstructionError(i, fmt.Sprintf("address operand %d out of range [0,%d)", in.Operand, instrCount))
			}
		case OperandStringIndex:
			idx := uint32(in.Operand)
			if in.Operand < 0 || idx >= constCount {
				return NewInstructionError(i, fmt.Sprintf("string-pool-index operand %d out of range [0,%d)", in.Operand, constCount))
			}
			if f.Consts[idx].Kind != ConstString {
				return NewInstructionError(i, fmt.Sprintf("string-pool-index operand %d does not name a string constant", in.Operand))
			}
		}
	}

	return nil
}
