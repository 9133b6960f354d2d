// Package msync implements MS-SYNC, the primary/secondary replication
// engine: wire protocol, heartbeat and failover state machine, sync
// variable dirty-tracking, and checkpointing.
//
// The engine is cooperative, not threaded: Engine.ProcessSyncMessages is
// meant to be called periodically from the dispatch loop's tick callback
// (see vm.VM.Execute) and never blocks on network I/O.
package msync

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/stbcvm/stbcvm/vm"
)

// Magic identifies an MS-SYNC datagram on the wire.
const Magic uint32 = 0x53544243 // "STBC"

// MaxMessageSize is the largest encoded message this protocol permits.
const MaxMessageSize = 1024

// headerSize is the fixed wire size of Header: 4+4+4+4+4+8 bytes.
const headerSize = 28

// MsgType discriminates a SyncMessage's payload.
type MsgType uint32

const (
	MsgHeartbeat MsgType = iota
	MsgVarSync
	MsgStateSync
	MsgCheckpoint
	MsgTakeover
	MsgAck
	MsgError
)

func (t MsgType) String() string {
	switch t {
	case MsgHeartbeat:
		return "Heartbeat"
	case MsgVarSync:
		return "VarSync"
	case MsgStateSync:
		return "StateSync"
	case MsgCheckpoint:
		return "Checkpoint"
	case MsgTakeover:
		return "Takeover"
	case MsgAck:
		return "Ack"
	case MsgError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Header is the fixed-width prefix every SyncMessage shares.
type Header struct {
	Magic       uint32
	Sequence    uint32
	Type        MsgType
	PayloadSize uint32
	Checksum    uint32
	Timestamp   uint64 // ms since epoch
}

// Heartbeat is emitted every HeartbeatInterval by both nodes.
type Heartbeat struct {
	Role         uint32
	State        uint32
	PC           uint32
	SyncVarCount uint32
	UptimeMS     uint64
}

// VarSync is an incremental per-variable update.
type VarSync struct {
	VarIndex uint32
	VarType  uint32
	Value    vm.Value
}

// StateSync reports a node's gross execution state to its peer.
type StateSync struct {
	PC             uint32
	StackDepth     uint32
	CallStackDepth uint32
	NodeState      uint32
}

// CheckpointVar is one entry in a Checkpoint snapshot.
type CheckpointVar struct {
	Index uint32
	Value vm.Value
}

// Checkpoint is a full snapshot of every registered sync variable.
type Checkpoint struct {
	CheckpointID uint32
	Vars         []CheckpointVar
}

// Takeover announces a role promotion to the peer.
type Takeover struct {
	NewRole uint32
	PC      uint32
}

// Ack acknowledges receipt of a prior message by sequence number.
type Ack struct {
	AckedSequence uint32
}

// ErrorPayload carries a human-readable description of a sync-side fault.
type ErrorPayload struct {
	Code    uint32
	Message string
}

// Message is a full SyncMessage: header plus exactly one populated payload
// field, selected by Header.Type.
type Message struct {
	Header     Header
	Heartbeat  *Heartbeat
	VarSync    *VarSync
	StateSync  *StateSync
	Checkpoint *Checkpoint
	Takeover   *Takeover
	Ack        *Ack
	Error      *ErrorPayload
}

// Checksum is a bytewise accumulator with a rotate-left per byte: add the
// byte, then rotate the accumulator left by one bit. Both nodes must
// compute it identically, so the order (add before rotate) is fixed.
func Checksum(data []byte) uint32 {
	var acc uint32
	for _, b := range data {
		acc += uint32(b)
		acc = (acc << 1) | (acc >> 31)
	}
	return acc
}

// Encode serializes msg to its wire form in network byte order, filling in
// Header.PayloadSize and Header.Checksum. Header.Sequence and
// Header.Timestamp must already be set by the caller.
func Encode(msg *Message) ([]byte, error) {
	payload, err := encodePayload(msg)
	if err != nil {
		return nil, fmt.Errorf("msync: encode %s payload: %w", msg.Header.Type, err)
	}
	if headerSize+len(payload) > MaxMessageSize {
		return nil, fmt.Errorf("msync: message size %d exceeds max %d", headerSize+len(payload), MaxMessageSize)
	}

	var buf bytes.Buffer
	buf.Grow(headerSize + len(payload))
	_ = binary.Write(&buf, binary.BigEndian, Magic)
	_ = binary.Write(&buf, binary.BigEndian, msg.Header.Sequence)
	_ = binary.Write(&buf, binary.BigEndian, uint32(msg.Header.Type))
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(payload)))
	_ = binary.Write(&buf, binary.BigEndian, Checksum(payload))
	_ = binary.Write(&buf, binary.BigEndian, msg.Header.Timestamp)
	buf.Write(payload)
	return buf.Bytes(), nil
}

// Decode parses a wire-format message. A message is accepted only if the
// magic and checksum verify.
func Decode(data []byte) (*Message, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("msync: truncated header (%d bytes)", len(data))
	}
	r := bytes.NewReader(data)

	var hdr Header
	var magic, typ, size uint32
	_ = binary.Read(r, binary.BigEndian, &magic)
	if magic != Magic {
		return nil, fmt.Errorf("msync: bad magic %#x, want %#x", magic, Magic)
	}
	hdr.Magic = magic
	_ = binary.Read(r, binary.BigEndian, &hdr.Sequence)
	_ = binary.Read(r, binary.BigEndian, &typ)
	hdr.Type = MsgType(typ)
	_ = binary.Read(r, binary.BigEndian, &size)
	hdr.PayloadSize = size
	_ = binary.Read(r, binary.BigEndian, &hdr.Checksum)
	_ = binary.Read(r, binary.BigEndian, &hdr.Timestamp)

	payload := data[headerSize:]
	if uint32(len(payload)) != hdr.PayloadSize {
		return nil, fmt.Errorf("msync: payload size mismatch: header says %d, got %d", hdr.PayloadSize, len(payload))
	}
	if Checksum(payload) != hdr.Checksum {
		return nil, fmt.Errorf("msync: checksum mismatch")
	}

	msg := &Message{Header: hdr}
	if err := decodePayload(msg, payload); err != nil {
		return nil, fmt.Errorf("msync: decode %s payload: %w", hdr.Type, err)
	}
	return msg, nil
}

func encodePayload(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	switch msg.Header.Type {
	case MsgHeartbeat:
		h := msg.Heartbeat
		for _, v := range []uint32{h.Role, h.State, h.PC, h.SyncVarCount} {
			_ = binary.Write(&buf, binary.BigEndian, v)
		}
		_ = binary.Write(&buf, binary.BigEndian, h.UptimeMS)

	case MsgVarSync:
		v := msg.VarSync
		_ = binary.Write(&buf, binary.BigEndian, v.VarIndex)
		_ = binary.Write(&buf, binary.BigEndian, v.VarType)
		if err := encodeValue(&buf, v.Value); err != nil {
			return nil, err
		}

	case MsgStateSync:
		s := msg.StateSync
		for _, v := range []uint32{s.PC, s.StackDepth, s.CallStackDepth, s.NodeState} {
			_ = binary.Write(&buf, binary.BigEndian, v)
		}

	case MsgCheckpoint:
		c := msg.Checkpoint
		_ = binary.Write(&buf, binary.BigEndian, c.CheckpointID)
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(c.Vars)))
		for _, cv := range c.Vars {
			_ = binary.Write(&buf, binary.BigEndian, cv.Index)
			if err := encodeValue(&buf, cv.Value); err != nil {
				return nil, err
			}
		}

	case MsgTakeover:
		t := msg.Takeover
		_ = binary.Write(&buf, binary.BigEndian, t.NewRole)
		_ = binary.Write(&buf, binary.BigEndian, t.PC)

	case MsgAck:
		_ = binary.Write(&buf, binary.BigEndian, msg.Ack.AckedSequence)

	case MsgError:
		e := msg.Error
		_ = binary.Write(&buf, binary.BigEndian, e.Code)
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(e.Message)))
		buf.WriteString(e.Message)

	default:
		return nil, fmt.Errorf("unknown message type %d", msg.Header.Type)
	}
	return buf.Bytes(), nil
}

func decodePayload(msg *Message, payload []byte) error {
	r := bytes.NewReader(payload)
	switch msg.Header.Type {
	case MsgHeartbeat:
		h := &Heartbeat{}
		for _, f := range []*uint32{&h.Role, &h.State, &h.PC, &h.SyncVarCount} {
			if err := binary.Read(r, binary.BigEndian, f); err != nil {
				return err
			}
		}
		if err := binary.Read(r, binary.BigEndian, &h.UptimeMS); err != nil {
			return err
		}
		msg.Heartbeat = h

	case MsgVarSync:
		v := &VarSync{}
		if err := binary.Read(r, binary.BigEndian, &v.VarIndex); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &v.VarType); err != nil {
			return err
		}
		val, err := decodeValue(r)
		if err != nil {
			return err
		}
		v.Value = val
		msg.VarSync = v

	case MsgStateSync:
		s := &StateSync{}
		for _, f := range []*uint32{&s.PC, &s.StackDepth, &s.CallStackDepth, &s.NodeState} {
			if err := binary.Read(r, binary.BigEndian, f); err != nil {
				return err
			}
		}
		msg.StateSync = s

	case MsgCheckpoint:
		c := &Checkpoint{}
		if err := binary.Read(r, binary.BigEndian, &c.CheckpointID); err != nil {
			return err
		}
		var count uint32
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return err
		}
		c.Vars = make([]CheckpointVar, count)
		for i := range c.Vars {
			if err := binary.Read(r, binary.BigEndian, &c.Vars[i].Index); err != nil {
				return err
			}
			val, err := decodeValue(r)
			if err != nil {
				return err
			}
			c.Vars[i].Value = val
		}
		msg.Checkpoint = c

	case MsgTakeover:
		t := &Takeover{}
		if err := binary.Read(r, binary.BigEndian, &t.NewRole); err != nil {
			return err
		}
		if err := binary.Read(r, binary.BigEndian, &t.PC); err != nil {
			return err
		}
		msg.Takeover = t

	case MsgAck:
		a := &Ack{}
		if err := binary.Read(r, binary.BigEndian, &a.AckedSequence); err != nil {
			return err
		}
		msg.Ack = a

	case MsgError:
		e := &ErrorPayload{}
		if err := binary.Read(r, binary.BigEndian, &e.Code); err != nil {
			return err
		}
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		e.Message = string(buf)
		msg.Error = e

	default:
		return fmt.Errorf("unknown message type %d", msg.Header.Type)
	}
	return nil
}

// Tagged value kind bytes on the wire. These are independent of vm.Kind's
// numbering so the wire format doesn't break if the in-memory enum is
// reordered.
const (
	wireUndefined = iota
	wireBool
	wireInt
	wireDInt
	wireReal
	wireString
	wireTime
)

func encodeValue(buf *bytes.Buffer, v vm.Value) error {
	switch v.Kind {
	case vm.KindUndefined:
		buf.WriteByte(wireUndefined)
	case vm.KindBool:
		buf.WriteByte(wireBool)
		if v.AsBool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case vm.KindInt:
		buf.WriteByte(wireInt)
		_ = binary.Write(buf, binary.BigEndian, v.AsInt())
	case vm.KindDInt:
		buf.WriteByte(wireDInt)
		_ = binary.Write(buf, binary.BigEndian, v.AsDInt())
	case vm.KindReal:
		buf.WriteByte(wireReal)
		_ = binary.Write(buf, binary.BigEndian, math.Float64bits(v.AsReal()))
	case vm.KindString:
		buf.WriteByte(wireString)
		s := v.AsString()
		_ = binary.Write(buf, binary.BigEndian, uint32(len(s)))
		buf.WriteString(s)
	case vm.KindTime:
		buf.WriteByte(wireTime)
		_ = binary.Write(buf, binary.BigEndian, v.AsTime())
	default:
		return fmt.Errorf("cannot encode value kind %d", v.Kind)
	}
	return nil
}

func decodeValue(r *bytes.Reader) (vm.Value, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return vm.Value{}, err
	}
	switch kindByte {
	case wireUndefined:
		return vm.Undefined(), nil
	case wireBool:
		b, err := r.ReadByte()
		if err != nil {
			return vm.Value{}, err
		}
		return vm.Bool(b != 0), nil
	case wireInt:
		var i int32
		if err := binary.Read(r, binary.BigEndian, &i); err != nil {
			return vm.Value{}, err
		}
		return vm.Int(i), nil
	case wireDInt:
		var i int64
		if err := binary.Read(r, binary.BigEndian, &i); err != nil {
			return vm.Value{}, err
		}
		return vm.DInt(i), nil
	case wireReal:
		var bits uint64
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return vm.Value{}, err
		}
		return vm.Real(math.Float64frombits(bits)), nil
	case wireString:
		var n uint32
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return vm.Value{}, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return vm.Value{}, err
		}
		return vm.String(string(buf)), nil
	case wireTime:
		var t uint64
		if err := binary.Read(r, binary.BigEndian, &t); err != nil {
			return vm.Value{}, err
		}
		return vm.Time(t), nil
	default:
		return vm.Value{}, fmt.Errorf("unknown value kind byte %d", kindByte)
	}
}
