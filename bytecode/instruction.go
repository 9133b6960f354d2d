package bytecode

import "fmt"

// Instruction is one record of the interpreted program: an opcode, at most
// one typed operand, and a source position kept for diagnostics.
type Instruction struct {
	Op           Opcode
	OperandKind  OperandKind
	Operand      int64 // kind-dependent: int value, constant index, or address
	SourceLine   uint32
	SourceColumn uint32
}

// Disassemble renders one instruction in canonical "MNEMONIC operand" form,
// appending line/column annotations when nonzero.
func (in Instruction) Disassemble() string {
	var body string
	switch in.OperandKind {
	case OperandNone:
		body = in.Op.String()
	default:
		body = fmt.Sprintf("%s %d", in.Op.String(), in.Operand)
	}
	if in.SourceLine != 0 || in.SourceColumn != 0 {
		return fmt.Sprintf("%s\t; line %d col %d", body, in.SourceLine, in.SourceColumn)
	}
	return body
}

// ConstKind tags a ConstEntry's payload.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstReal
	ConstBool
	ConstString
)

// ConstEntry is one deduplicated entry in the build-time constant pool.
type ConstEntry struct {
	Kind   ConstKind
	Int    int32
	Real   float64
	Bool   bool
	String string
}

// Equal reports value equality under the pool's dedup rule: numeric value
// equality for Int/Real/Bool, byte equality for String.
func (c ConstEntry) Equal(other ConstEntry) bool {
	if c.Kind != other.Kind {
		return false
	}
	switch c.Kind {
	case ConstInt:
		return c.Int == other.Int
	case ConstReal:
		return c.Real == other.Real
	case ConstBool:
		return c.Bool == other.Bool
	case ConstString:
		return c.String == other.String
	default:
		return false
	}
}

// VarDescriptor is a flat, index-addressed variable descriptor.
type VarDescriptor struct {
	Name     string // <= 63 chars; NUL-padded to 64 bytes on disk
	TypeID   uint32
	Offset   uint32
	Size     uint32
	IsGlobal bool
}

// FuncDescriptor is a flat, index-addressed function descriptor.
type FuncDescriptor struct {
	Name       string
	Address    uint32
	ParamCount uint32
	LocalSize  uint32
	ReturnType uint32
}
