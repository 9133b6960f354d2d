package msync

import (
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/stbcvm/stbcvm/bytecode"
	"github.com/stbcvm/stbcvm/vm"
)

// Engine is one node's MS-SYNC replication manager: it owns the UDP
// transport, the node role/state machine, the sync-variable registry and
// dirty queue, and the heartbeat/checkpoint/failover cadence.
//
// Engine has no goroutine of its own. ProcessSyncMessages is driven by the
// dispatch loop's tick callback (vm.VM.Execute), keeping replication
// cooperative with instruction dispatch. Engine implements vm.SyncHook and
// the optional vm.SyncRegistrar/vm.Checkpointer extensions so the vm
// package never needs to import msync.
type Engine struct {
	cfg Config
	vm  *vm.VM

	conn     *net.UDPConn
	peerAddr *net.UDPAddr

	varDescs map[uint32]bytecode.VarDescriptor
	syncVars map[uint32]*SyncVar
	dirty    []uint32 // FIFO queue of dirty global indices, preserving per-var send order

	outSeq                uint32
	checkpointID          uint32
	appliedAnyCheckpoint  bool
	lastAppliedCheckpoint uint32
	lastAppliedVarSeq     map[uint32]uint32

	startedAt          time.Time
	lastHeartbeatSent  time.Time
	lastCheckpointSent time.Time
	peerLastHeartbeat  time.Time
	peerAlive          bool
	heartbeatTimeouts  int
	lastKnownPeerPC    uint32
	forceCheckpoint    bool

	// OnRoleChange, if set, is invoked (outside any lock) whenever role or
	// state changes, so a host (CLI, monitor) can log or broadcast it.
	OnRoleChange func(Role, NodeState)

	mu    sync.RWMutex
	role  Role
	state NodeState
	stats Statistics
}

// NewEngine constructs an Engine in NodeInit with the given role. Call
// AttachVM, optionally AttachFile, then Start before ProcessSyncMessages.
func NewEngine(cfg Config) *Engine {
	defaults := DefaultConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaults.HeartbeatTimeout
	}
	if cfg.TakeoverMultiplier <= 0 {
		cfg.TakeoverMultiplier = defaults.TakeoverMultiplier
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = defaults.CheckpointInterval
	}
	if cfg.MaxSyncVariables <= 0 {
		cfg.MaxSyncVariables = defaults.MaxSyncVariables
	}
	if cfg.Port == 0 {
		cfg.Port = defaults.Port
	}
	return &Engine{
		cfg:               cfg,
		varDescs:          make(map[uint32]bytecode.VarDescriptor),
		syncVars:          make(map[uint32]*SyncVar),
		lastAppliedVarSeq: make(map[uint32]uint32),
		role:              cfg.Role,
		state:             NodeInit,
	}
}

// AttachVM wires the Engine to a VM instance: subsequent global writes
// flow through OnGlobalWrite, and failover/checkpoint-wait operations act
// on this VM's pc and state.
func (e *Engine) AttachVM(v *vm.VM) {
	e.vm = v
	if e.role != RoleStandalone {
		v.SetSyncHook(e)
	}
}

// AttachFile supplies variable descriptors so RegisterSyncVar can recover
// a sync variable's declared name/type/size from the bytecode file's
// variable table instead of falling back to a synthetic name.
func (e *Engine) AttachFile(f *bytecode.File) {
	for _, vd := range f.Vars {
		if vd.IsGlobal {
			e.varDescs[vd.Offset] = vd
		}
	}
}

// Start binds the local UDP endpoint and resolves the peer address. A
// Standalone engine does nothing.
func (e *Engine) Start() error {
	e.startedAt = time.Now()
	if e.role == RoleStandalone {
		return nil
	}

	local := &net.UDPAddr{IP: net.ParseIP(e.cfg.LocalAddr), Port: e.cfg.Port}
	conn, err := net.ListenUDP("udp4", local)
	if err != nil {
		e.setState(e.role, NodeFailed)
		return fmt.Errorf("msync: bind %s:%d: %w", e.cfg.LocalAddr, e.cfg.Port, err)
	}
	e.conn = conn

	peer := &net.UDPAddr{IP: net.ParseIP(e.cfg.PeerAddr), Port: e.cfg.Port}
	e.peerAddr = peer

	if e.role == RolePrimary {
		e.setState(RolePrimary, NodeActive)
	} else {
		e.setState(RoleSecondary, NodeStandby)
	}
	return nil
}

// Close releases the UDP socket. Safe to call on a Standalone engine.
func (e *Engine) Close() error {
	e.setState(e.role, NodeShutdown)
	if e.conn == nil {
		return nil
	}
	return e.conn.Close()
}

// Role and State report the engine's current replication role/state under
// the read lock, safe for a concurrent monitor goroutine to call.
func (e *Engine) Role() Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

func (e *Engine) State() NodeState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// PeerAlive reports the last-observed peer liveness.
func (e *Engine) PeerAlive() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.peerAlive
}

// Stats returns a snapshot of the sync statistics counters.
func (e *Engine) Stats() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// SyncVarCount reports how many sync variables are registered.
func (e *Engine) SyncVarCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.syncVars)
}

func (e *Engine) setState(role Role, state NodeState) {
	e.mu.Lock()
	changed := e.role != role || e.state != state
	e.role, e.state = role, state
	e.mu.Unlock()
	if changed && e.OnRoleChange != nil {
		e.OnRoleChange(role, state)
	}
}

// RegisterSyncVar implements vm.SyncRegistrar: it is called by the
// dispatch loop's SYNC_VAR handler with the instruction's global-index
// operand. Registration is additive-only and capacity-bounded.
func (e *Engine) RegisterSyncVar(globalIdx uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.syncVars[globalIdx]; exists {
		return
	}
	if len(e.syncVars) >= e.cfg.MaxSyncVariables {
		log.Printf("msync: sync variable table full (capacity %d), dropping registration for global %d", e.cfg.MaxSyncVariables, globalIdx)
		return
	}
	name := fmt.Sprintf("global_%d", globalIdx)
	var typeID, size uint32
	if desc, ok := e.varDescs[globalIdx]; ok {
		name, typeID, size = desc.Name, desc.TypeID, desc.Size
	}
	e.syncVars[globalIdx] = &SyncVar{GlobalIndex: globalIdx, Name: name, TypeID: typeID, Size: size}
}

// RequestCheckpoint implements vm.Checkpointer: SYNC_CHECKPOINT requests an
// out-of-cycle checkpoint emission on the primary, or parks the secondary
// in SyncWait until the next checkpoint arrives.
func (e *Engine) RequestCheckpoint() {
	if e.Role() == RolePrimary {
		e.mu.Lock()
		e.forceCheckpoint = true
		e.mu.Unlock()
		return
	}
	if e.vm != nil {
		e.vm.EnterSyncWait()
	}
}

// OnGlobalWrite implements vm.SyncHook: every STORE_GLOBAL to a registered
// sync variable marks it dirty on the primary. Non-primary nodes don't
// originate writes to mirror, so the hook is a no-op there.
func (e *Engine) OnGlobalWrite(idx uint32, val vm.Value) {
	if e.Role() != RolePrimary {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sv, ok := e.syncVars[idx]
	if !ok {
		return
	}
	sv.Value = val
	if !sv.Dirty {
		sv.Dirty = true
		e.dirty = append(e.dirty, idx)
	}
}

// ProcessSyncMessages performs one cooperative pass: drain inbound
// datagrams, check peer health, evaluate the takeover predicate, and emit
// heartbeat/checkpoint/var-sync traffic as their cadences come due. It is
// intended to be called from vm.VM.Execute's tick callback.
func (e *Engine) ProcessSyncMessages() {
	if e.Role() == RoleStandalone || e.conn == nil {
		return
	}

	e.drainIncoming()
	e.checkPeerHealth()

	if e.Role() == RoleSecondary && e.shouldTakeover() {
		e.takeover()
	}

	now := time.Now()
	if now.Sub(e.lastHeartbeatSent) >= e.cfg.HeartbeatInterval {
		e.sendHeartbeat()
	}

	if e.Role() == RolePrimary {
		due := now.Sub(e.lastCheckpointSent) >= e.cfg.CheckpointInterval
		e.mu.RLock()
		force := e.forceCheckpoint
		e.mu.RUnlock()
		if due || force {
			e.sendCheckpoint()
		}
		e.flushDirty()
	}
}

func (e *Engine) drainIncoming() {
	buf := make([]byte, MaxMessageSize)
	for {
		// A deadline already in the past fails the read before it looks at
		// the socket; one a microsecond ahead returns queued datagrams at
		// once and gives up almost immediately on an empty socket.
		if err := e.conn.SetReadDeadline(time.Now().Add(time.Microsecond)); err != nil {
			return
		}
		n, _, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			return // timeout (no data) or socket error; either way, stop draining
		}
		e.mu.Lock()
		e.stats.MessagesReceived++
		e.stats.BytesReceived += uint64(n)
		e.mu.Unlock()

		msg, err := Decode(buf[:n])
		if err != nil {
			e.mu.Lock()
			e.stats.ChecksumErrors++
			e.mu.Unlock()
			continue
		}
		e.handleMessage(msg)
	}
}

func (e *Engine) handleMessage(msg *Message) {
	switch msg.Header.Type {
	case MsgHeartbeat:
		e.handleHeartbeat(msg.Heartbeat)
	case MsgVarSync:
		e.handleVarSync(msg.Header.Sequence, msg.VarSync)
	case MsgStateSync:
		e.handleStateSync(msg.StateSync)
	case MsgCheckpoint:
		e.handleCheckpoint(msg.Checkpoint)
	case MsgTakeover:
		e.handleTakeover(msg.Takeover)
	case MsgAck, MsgError:
		// No action required: Ack/Error are informational in this engine;
		// a future host could surface MsgError via the monitor.
	}
}

func (e *Engine) handleHeartbeat(hb *Heartbeat) {
	e.mu.Lock()
	e.peerLastHeartbeat = time.Now()
	e.peerAlive = true
	e.heartbeatTimeouts = 0
	e.lastKnownPeerPC = hb.PC
	e.stats.HeartbeatsReceived++
	selfRole := e.role
	e.mu.Unlock()

	// Dual-primary resolution: demotion happens synchronously and
	// immediately here, before any further write could leak.
	if selfRole == RolePrimary && Role(hb.Role) == RolePrimary {
		log.Printf("msync: dual primary detected, demoting self to secondary")
		e.setState(RoleSecondary, NodeStandby)
	}
}

func (e *Engine) handleStateSync(s *StateSync) {
	e.mu.Lock()
	e.lastKnownPeerPC = s.PC
	e.mu.Unlock()
}

func (e *Engine) handleVarSync(seq uint32, v *VarSync) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.lastAppliedVarSeq[v.VarIndex]; ok && seq <= last {
		return // stale/reordered relative to what we've already applied
	}
	e.lastAppliedVarSeq[v.VarIndex] = seq

	sv, ok := e.syncVars[v.VarIndex]
	if !ok {
		sv = &SyncVar{GlobalIndex: v.VarIndex, TypeID: v.VarType, Name: fmt.Sprintf("global_%d", v.VarIndex)}
		e.syncVars[v.VarIndex] = sv
	}
	sv.Value = v.Value
	sv.Dirty = false
	sv.LastSyncMS = uint64(time.Now().UnixMilli())

	if e.vm != nil {
		e.vm.SetGlobalRaw(v.VarIndex, v.Value)
	}
}

func (e *Engine) handleCheckpoint(cp *Checkpoint) {
	e.mu.Lock()
	if e.appliedAnyCheckpoint && cp.CheckpointID <= e.lastAppliedCheckpoint {
		e.mu.Unlock()
		return // idempotent: already applied this or a newer checkpoint
	}
	e.appliedAnyCheckpoint = true
	e.lastAppliedCheckpoint = cp.CheckpointID
	for _, cv := range cp.Vars {
		sv, ok := e.syncVars[cv.Index]
		if !ok {
			sv = &SyncVar{GlobalIndex: cv.Index, Name: fmt.Sprintf("global_%d", cv.Index)}
			e.syncVars[cv.Index] = sv
		}
		sv.Value = cv.Value
		sv.Dirty = false
		if e.vm != nil {
			e.vm.SetGlobalRaw(cv.Index, cv.Value)
		}
	}
	e.stats.CheckpointsApplied++
	e.mu.Unlock()

	if e.vm != nil && e.vm.State() == vm.StateSyncWait {
		e.vm.ExitSyncWait()
	}
}

func (e *Engine) handleTakeover(t *Takeover) {
	log.Printf("msync: peer announced takeover to role %d at pc=%d", t.NewRole, t.PC)
	e.mu.Lock()
	e.lastKnownPeerPC = t.PC
	selfRole := e.role
	e.mu.Unlock()
	if selfRole == RolePrimary && Role(t.NewRole) == RolePrimary {
		e.setState(RoleSecondary, NodeStandby)
	}
}

func (e *Engine) checkPeerHealth() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.peerLastHeartbeat.IsZero() {
		return
	}
	if time.Since(e.peerLastHeartbeat) > e.cfg.HeartbeatTimeout {
		e.heartbeatTimeouts++
		e.stats.Timeouts++
		if e.heartbeatTimeouts >= 3 {
			e.peerAlive = false
		}
	}
}

// shouldTakeover is the takeover predicate: a secondary initiates failover
// when the peer is marked dead, or when the elapsed time since its last
// heartbeat exceeds TakeoverMultiplier timeout windows.
func (e *Engine) shouldTakeover() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.role != RoleSecondary {
		return false
	}
	if !e.peerAlive {
		return true
	}
	if e.peerLastHeartbeat.IsZero() {
		return false
	}
	threshold := time.Duration(e.cfg.TakeoverMultiplier) * e.cfg.HeartbeatTimeout
	return time.Since(e.peerLastHeartbeat) > threshold
}

func (e *Engine) takeover() {
	e.mu.Lock()
	e.state = NodeTakeover
	e.mu.Unlock()

	log.Printf("msync: initiating failover from secondary to primary")

	e.mu.Lock()
	e.role = RolePrimary
	e.state = NodeActive
	e.stats.Failovers++
	resumePC := e.lastKnownPeerPC
	e.mu.Unlock()

	if e.vm != nil {
		e.vm.ExitSyncWait()
		e.vm.SetPC(resumePC)
	}
	// Announce the promotion so a peer that comes back up demotes itself
	// instead of resuming as a second primary.
	e.send(MsgTakeover, &Message{Takeover: &Takeover{NewRole: uint32(RolePrimary), PC: resumePC}})
	if e.OnRoleChange != nil {
		e.OnRoleChange(RolePrimary, NodeActive)
	}
	log.Printf("msync: failover complete, resuming as primary at pc=%d", resumePC)
}

func (e *Engine) sendHeartbeat() {
	var pc uint32
	if e.vm != nil {
		pc = e.vm.PC()
	}
	e.mu.RLock()
	hb := &Heartbeat{
		Role:         uint32(e.role),
		State:        uint32(e.state),
		PC:           pc,
		SyncVarCount: uint32(len(e.syncVars)),
		UptimeMS:     uint64(time.Since(e.startedAt).Milliseconds()),
	}
	e.mu.RUnlock()

	if e.send(MsgHeartbeat, &Message{Heartbeat: hb}) {
		e.mu.Lock()
		e.stats.HeartbeatsSent++
		e.mu.Unlock()
	}
	e.lastHeartbeatSent = time.Now()
}

func (e *Engine) sendCheckpoint() {
	e.mu.Lock()
	e.checkpointID++
	id := e.checkpointID
	vars := make([]CheckpointVar, 0, len(e.syncVars))
	indices := make([]uint32, 0, len(e.syncVars))
	for idx := range e.syncVars {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, idx := range indices {
		vars = append(vars, CheckpointVar{Index: idx, Value: e.syncVars[idx].Value})
	}
	e.forceCheckpoint = false
	e.mu.Unlock()

	e.send(MsgCheckpoint, &Message{Checkpoint: &Checkpoint{CheckpointID: id, Vars: vars}})
	e.lastCheckpointSent = time.Now()
}

func (e *Engine) flushDirty() {
	e.mu.Lock()
	pending := e.dirty
	e.dirty = nil
	e.mu.Unlock()

	for _, idx := range pending {
		e.mu.Lock()
		sv, ok := e.syncVars[idx]
		if !ok || !sv.Dirty {
			e.mu.Unlock()
			continue
		}
		vs := &VarSync{VarIndex: idx, VarType: sv.TypeID, Value: sv.Value}
		e.mu.Unlock()

		if e.send(MsgVarSync, &Message{VarSync: vs}) {
			e.mu.Lock()
			sv.Dirty = false
			sv.LastSyncMS = uint64(time.Now().UnixMilli())
			e.mu.Unlock()
		}
	}
}

// send assigns the next outgoing sequence number and timestamp, encodes
// msg, and writes it to the peer, updating send statistics. It returns
// false (and bumps SyncErrors) on any encode or transport failure.
func (e *Engine) send(typ MsgType, msg *Message) bool {
	e.mu.Lock()
	e.outSeq++
	msg.Header = Header{Sequence: e.outSeq, Type: typ, Timestamp: uint64(time.Now().UnixMilli())}
	e.mu.Unlock()

	data, err := Encode(msg)
	if err != nil {
		log.Printf("msync: encode %s: %v", typ, err)
		e.bumpSyncErrors()
		return false
	}
	n, err := e.conn.WriteToUDP(data, e.peerAddr)
	if err != nil {
		log.Printf("msync: send %s: %v", typ, err)
		e.bumpSyncErrors()
		return false
	}
	e.mu.Lock()
	e.stats.MessagesSent++
	e.stats.BytesSent += uint64(n)
	e.mu.Unlock()
	return true
}

func (e *Engine) bumpSyncErrors() {
	e.mu.Lock()
	e.stats.SyncErrors++
	e.mu.Unlock()
}
