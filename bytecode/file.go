package bytecode

// File Format Specification:
//
// The on-disk bytecode format is a binary format shared between the
// (out-of-scope) code generator and this VM. Layout:
//
//   Header {
//     magic:        4 bytes, "STBC"
//     version:      u32, major in high 16 bits, minor in low 16
//     flags:        u32   (bit 0: sync-enabled; bit 1: debug info present)
//     instr_count:  u32
//     const_count:  u32
//     var_count:    u32
//     func_count:   u32
//     entry_point:  u32   (index into InstructionArray)
//   }
//
//   Instruction {
//     opcode:        u16
//     operand_kind:  u16 (0 none, 1 int, 2 real, 3 string-index, 4 address)
//     operand:       8 bytes, kind-dependent
//     source_line:   u32
//     source_column: u32
//   }
//
//   ConstantEntry {
//     kind: u8 (0 int, 1 real, 2 bool, 3 string)
//     payload: kind-dependent (i32 | f64 | u8 | u32-length-prefixed UTF-8)
//   }
//
//   VariableDescriptor {
//     name:      char[64], NUL-terminated
//     type_id, offset, size: u32
//     is_global: u8
//   }
//
//   FunctionDescriptor {
//     name: char[64], NUL-terminated
//     address, param_count, local_size, return_type: u32
//   }
//
// All fixed-width integers are little-endian; reals are IEEE-754 doubles;
// strings are length-prefixed UTF-8. An optional debug-info section
// (line/column triples) follows the function table when the debug-info
// flag is set; this implementation carries line/column inline per
// instruction instead (see Open Questions in the design notes), and Write
// and Read neither emit nor read a section after the function table.

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	Magic        uint32 = 0x53544243 // "STBC" read as big-endian text, stored as a plain u32 marker
	MagicString         = "STBC"
	VersionMajor uint32 = 1
	VersionMinor uint32 = 0

	FlagSyncEnabled uint32 = 1 << 0
	FlagDebugInfo   uint32 = 1 << 1

	maxNameLen = 64
)

func Version() uint32 {
	return VersionMajor<<16 | VersionMinor
}

// Header is the fixed-width prefix of a bytecode file.
type Header struct {
	Version    uint32
	Flags      uint32
	InstrCount uint32
	ConstCount uint32
	VarCount   uint32
	FuncCount  uint32
	EntryPoint uint32
}

// File is the complete in-memory representation of a loaded bytecode file:
// header plus the four tables. It is immutable once loaded, safe to read
// concurrently without locking.
type File struct {
	Header Header
	Instrs []Instruction
	Consts []ConstEntry
	Vars   []VarDescriptor
	Funcs  []FuncDescriptor
}

// SyncEnabled reports whether the sync-enabled flag bit is set.
func (f *File) SyncEnabled() bool {
	return f.Header.Flags&FlagSyncEnabled != 0
}

// Write serializes f to w in the on-disk format described above.
func Write(w io.Writer, f *File) error {
	if _, err := w.Write([]byte(MagicString)); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	hdr := f.Header
	hdr.InstrCount = uint32(len(f.Instrs))
	hdr.ConstCount = uint32(len(f.Consts))
	hdr.VarCount = uint32(len(f.Vars))
	hdr.FuncCount = uint32(len(f.Funcs))
	for _, v := range []uint32{hdr.Version, hdr.Flags, hdr.InstrCount, hdr.ConstCount, hdr.VarCount, hdr.FuncCount, hdr.EntryPoint} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for i, in := range f.Instrs {
		if err := writeInstruction(w, in); err != nil {
			return fmt.Errorf("write instruction %d: %w", i, err)
		}
	}
	for i, c := range f.Consts {
		if err := writeConst(w, c); err != nil {
			return fmt.Errorf("write constant %d: %w", i, err)
		}
	}
	for i, v := range f.Vars {
		if err := writeVarDescriptor(w, v); err != nil {
			return fmt.Errorf("write variable descriptor %d: %w", i, err)
		}
	}
	for i, fd := range f.Funcs {
		if err := writeFuncDescriptor(w, fd); err != nil {
			return fmt.Errorf("write function descriptor %d: %w", i, err)
		}
	}
	return nil
}

// Read deserializes a bytecode file from r. It does not validate the
// result; call Validate before executing it.
func Read(r io.Reader) (*File, error) {
	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, WrapFormatError("read magic", err)
	}
	if string(magic) != MagicString {
		return nil, NewFormatError(fmt.Sprintf("bad magic %q, want %q", magic, MagicString))
	}

	var hdr Header
	fields := []*uint32{&hdr.Version, &hdr.Flags, &hdr.InstrCount, &hdr.ConstCount, &hdr.VarCount, &hdr.FuncCount, &hdr.EntryPoint}
	for _, f := range fields {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, WrapFormatError("read header", err)
		}
	}

	file := &File{Header: hdr}

	file.Instrs = make([]Instruction, hdr.InstrCount)
	for i := range file.Instrs {
		in, err := readInstruction(r)
		if err != nil {
			return nil, WrapFormatError(fmt.Sprintf("read instruction %d", i), err)
		}
		file.Instrs[i] = in
	}

	file.Consts = make([]ConstEntry, hdr.ConstCount)
	for i := range file.Consts {
		c, err := readConst(r)
		if err != nil {
			return nil, WrapFormatError(fmt.Sprintf("read constant %d", i), err)
		}
		file.Consts[i] = c
	}

	file.Vars = make([]VarDescriptor, hdr.VarCount)
	for i := range file.Vars {
		v, err := readVarDescriptor(r)
		if err != nil {
			return nil, WrapFormatError(fmt.Sprintf("read variable descriptor %d", i), err)
		}
		file.Vars[i] = v
	}

	file.Funcs = make([]FuncDescriptor, hdr.FuncCount)
	for i := range file.Funcs {
		fd, err := readFuncDescriptor(r)
		if err != nil {
			return nil, WrapFormatError(fmt.Sprintf("read function descriptor %d", i), err)
		}
		file.Funcs[i] = fd
	}

	return file, nil
}

func writeInstruction(w io.Writer, in Instruction) error {
	if err := binary.Write(w, binary.LittleEndian, uint16(in.Op)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(in.OperandKind)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, in.Operand); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, in.SourceLine); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, in.SourceColumn)
}

func readInstruction(r io.Reader) (Instruction, error) {
	var op, kind uint16
	var in Instruction
	if err := binary.Read(r, binary.LittleEndian, &op); err != nil {
		return in, err
	}
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return in, err
	}
	in.Op = Opcode(op)
	in.OperandKind = OperandKind(kind)
	if err := binary.Read(r, binary.LittleEndian, &in.Operand); err != nil {
		return in, err
	}
	if err := binary.Read(r, binary.LittleEndian, &in.SourceLine); err != nil {
		return in, err
	}
	if err := binary.Read(r, binary.LittleEndian, &in.SourceColumn); err != nil {
		return in, err
	}
	return in, nil
}

func writeConst(w io.Writer, c ConstEntry) error {
	if err := binary.Write(w, binary.LittleEndian, uint8(c.Kind)); err != nil {
		return err
	}
	switch c.Kind {
	case ConstInt:
		return binary.Write(w, binary.LittleEndian, c.Int)
	case ConstReal:
		return binary.Write(w, binary.LittleEndian, c.Real)
	case ConstBool:
		var b uint8
		if c.Bool {
			b = 1
		}
		return binary.Write(w, binary.LittleEndian, b)
	case ConstString:
		data := []byte(c.String)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
			return err
		}
		_, err := w.Write(data)
		return err
	default:
		return fmt.Errorf("unknown constant kind %d", c.Kind)
	}
}

func readConst(r io.Reader) (ConstEntry, error) {
	var kind uint8
	var c ConstEntry
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return c, err
	}
	c.Kind = ConstKind(kind)
	switch c.Kind {
	case ConstInt:
		return c, binary.Read(r, binary.LittleEndian, &c.Int)
	case ConstReal:
		return c, binary.Read(r, binary.LittleEndian, &c.Real)
	case ConstBool:
		var b uint8
		if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
			return c, err
		}
		c.Bool = b != 0
		return c, nil
	case ConstString:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return c, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return c, err
		}
		c.String = string(buf)
		return c, nil
	default:
		return c, fmt.Errorf("unknown constant kind %d", kind)
	}
}

func writeFixedName(w io.Writer, name string) error {
	buf := make([]byte, maxNameLen)
	copy(buf[:maxNameLen-1], name) // last byte stays NUL
	_, err := w.Write(buf)
	return err
}

func readFixedName(r io.Reader) (string, error) {
	buf := make([]byte, maxNameLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	return string(buf), nil
}

func writeVarDescriptor(w io.Writer, v VarDescriptor) error {
	if err := writeFixedName(w, v.Name); err != nil {
		return err
	}
	for _, f := range []uint32{v.TypeID, v.Offset, v.Size} {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	var g uint8
	if v.IsGlobal {
		g = 1
	}
	return binary.Write(w, binary.LittleEndian, g)
}

func readVarDescriptor(r io.Reader) (VarDescriptor, error) {
	var v VarDescriptor
	name, err := readFixedName(r)
	if err != nil {
		return v, err
	}
	v.Name = name
	for _, f := range []*uint32{&v.TypeID, &v.Offset, &v.Size} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return v, err
		}
	}
	var g uint8
	if err := binary.Read(r, binary.LittleEndian, &g); err != nil {
		return v, err
	}
	v.IsGlobal = g != 0
	return v, nil
}

func writeFuncDescriptor(w io.Writer, fd FuncDescriptor) error {
	if err := writeFixedName(w, fd.Name); err != nil {
		return err
	}
	for _, f := range []uint32{fd.Address, fd.ParamCount, fd.LocalSize, fd.ReturnType} {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

func readFuncDescriptor(r io.Reader) (FuncDescriptor, error) {
	var fd FuncDescriptor
	name, err := readFixedName(r)
	if err != nil {
		return fd, err
	}
	fd.Name = name
	for _, f := range []*uint32{&fd.Address, &fd.ParamCount, &fd.LocalSize, &fd.ReturnType} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return fd, err
		}
	}
	return fd, nil
}
