package msync

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stbcvm/stbcvm/bytecode"
	"github.com/stbcvm/stbcvm/vm"
)

func newTestEngine(t *testing.T, role Role) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Role = role
	cfg.MaxSyncVariables = 4
	e := NewEngine(cfg)
	return e
}

func bindLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	return conn
}

func TestRegisterSyncVarAdditiveAndCapacityBounded(t *testing.T) {
	e := newTestEngine(t, RolePrimary)
	e.RegisterSyncVar(0)
	e.RegisterSyncVar(1)
	e.RegisterSyncVar(0) // duplicate, ignored
	assert.Equal(t, 2, e.SyncVarCount())

	for i := uint32(2); i < 10; i++ {
		e.RegisterSyncVar(i)
	}
	assert.Equal(t, e.cfg.MaxSyncVariables, e.SyncVarCount())
}

func TestRegisterSyncVarUsesFileDescriptorName(t *testing.T) {
	e := newTestEngine(t, RolePrimary)
	e.varDescs[3] = bytecode.VarDescriptor{Name: "setpoint", TypeID: 1, Offset: 3, Size: 4, IsGlobal: true}
	e.RegisterSyncVar(3)
	sv := e.syncVars[3]
	require.NotNil(t, sv)
	assert.Equal(t, "setpoint", sv.Name)
	assert.Equal(t, uint32(1), sv.TypeID)
}

func TestOnGlobalWriteOnlyDirtiesOnPrimary(t *testing.T) {
	primary := newTestEngine(t, RolePrimary)
	primary.RegisterSyncVar(0)
	primary.OnGlobalWrite(0, vm.Int(5))
	require.Len(t, primary.dirty, 1)
	assert.True(t, primary.syncVars[0].Dirty)

	secondary := newTestEngine(t, RoleSecondary)
	secondary.RegisterSyncVar(0)
	secondary.OnGlobalWrite(0, vm.Int(5))
	assert.Empty(t, secondary.dirty)
}

func TestOnGlobalWriteDedupesRepeatedDirty(t *testing.T) {
	e := newTestEngine(t, RolePrimary)
	e.RegisterSyncVar(0)
	e.OnGlobalWrite(0, vm.Int(1))
	e.OnGlobalWrite(0, vm.Int(2))
	assert.Len(t, e.dirty, 1)
	assert.True(t, vm.Int(2).Equal(e.syncVars[0].Value))
}

func TestShouldTakeoverWhenPeerMarkedDead(t *testing.T) {
	e := newTestEngine(t, RoleSecondary)
	e.peerAlive = false
	assert.True(t, e.shouldTakeover())
}

func TestShouldTakeoverWhenElapsedExceedsThreshold(t *testing.T) {
	e := newTestEngine(t, RoleSecondary)
	e.peerAlive = true
	e.peerLastHeartbeat = time.Now().Add(-10 * e.cfg.HeartbeatTimeout)
	assert.True(t, e.shouldTakeover())
}

func TestShouldNotTakeoverWithinWindow(t *testing.T) {
	e := newTestEngine(t, RoleSecondary)
	e.peerAlive = true
	e.peerLastHeartbeat = time.Now()
	assert.False(t, e.shouldTakeover())
}

func TestShouldNotTakeoverWhenPrimary(t *testing.T) {
	e := newTestEngine(t, RolePrimary)
	e.peerAlive = false
	assert.False(t, e.shouldTakeover())
}

func TestCheckPeerHealthMarksDeadAfterThreeTimeouts(t *testing.T) {
	e := newTestEngine(t, RoleSecondary)
	e.peerAlive = true
	e.peerLastHeartbeat = time.Now().Add(-2 * e.cfg.HeartbeatTimeout)
	e.checkPeerHealth()
	e.checkPeerHealth()
	assert.True(t, e.peerAlive || e.heartbeatTimeouts < 3)
	e.checkPeerHealth()
	assert.False(t, e.peerAlive)
	assert.Equal(t, uint64(3), e.stats.Timeouts)
}

func TestHandleCheckpointIsIdempotent(t *testing.T) {
	e := newTestEngine(t, RoleSecondary)
	cp := &Checkpoint{CheckpointID: 1, Vars: []CheckpointVar{{Index: 0, Value: vm.Int(7)}}}
	e.handleCheckpoint(cp)
	assert.Equal(t, uint64(1), e.stats.CheckpointsApplied)

	e.handleCheckpoint(cp) // same ID again: must not re-apply
	assert.Equal(t, uint64(1), e.stats.CheckpointsApplied)

	cp2 := &Checkpoint{CheckpointID: 2, Vars: []CheckpointVar{{Index: 0, Value: vm.Int(8)}}}
	e.handleCheckpoint(cp2)
	assert.Equal(t, uint64(2), e.stats.CheckpointsApplied)
}

func TestHandleHeartbeatDemotesDualPrimary(t *testing.T) {
	e := newTestEngine(t, RolePrimary)
	e.role = RolePrimary
	e.state = NodeActive
	e.handleHeartbeat(&Heartbeat{Role: uint32(RolePrimary), State: uint32(NodeActive), PC: 12})
	assert.Equal(t, RoleSecondary, e.Role())
	assert.Equal(t, NodeStandby, e.State())
}

func TestHandleHeartbeatFromSecondaryDoesNotDemotePrimary(t *testing.T) {
	e := newTestEngine(t, RolePrimary)
	e.role = RolePrimary
	e.state = NodeActive
	e.handleHeartbeat(&Heartbeat{Role: uint32(RoleSecondary), State: uint32(NodeStandby), PC: 12})
	assert.Equal(t, RolePrimary, e.Role())
}

func TestHandleVarSyncRejectsStaleSequence(t *testing.T) {
	e := newTestEngine(t, RoleSecondary)
	e.handleVarSync(5, &VarSync{VarIndex: 0, Value: vm.Int(1)})
	e.handleVarSync(3, &VarSync{VarIndex: 0, Value: vm.Int(99)}) // older seq, must be dropped
	assert.True(t, vm.Int(1).Equal(e.syncVars[0].Value))

	e.handleVarSync(6, &VarSync{VarIndex: 0, Value: vm.Int(2)})
	assert.True(t, vm.Int(2).Equal(e.syncVars[0].Value))
}

// TestEndToEndVarSyncOverLoopback exercises the wire transport: a primary
// flushes a dirty variable and a secondary receives and applies it in its
// own ProcessSyncMessages drain.
func TestEndToEndVarSyncOverLoopback(t *testing.T) {
	primaryConn := bindLoopback(t)
	secondaryConn := bindLoopback(t)
	defer primaryConn.Close()
	defer secondaryConn.Close()

	primary := newTestEngine(t, RolePrimary)
	primary.conn = primaryConn
	primary.peerAddr = secondaryConn.LocalAddr().(*net.UDPAddr)
	primary.role = RolePrimary
	primary.state = NodeActive
	primary.RegisterSyncVar(0)
	primary.OnGlobalWrite(0, vm.Int(123))

	secondary := newTestEngine(t, RoleSecondary)
	secondary.conn = secondaryConn
	secondary.peerAddr = primaryConn.LocalAddr().(*net.UDPAddr)
	secondary.role = RoleSecondary
	secondary.state = NodeStandby

	primary.flushDirty()
	secondary.drainIncoming()

	require.Contains(t, secondary.syncVars, uint32(0))
	assert.True(t, vm.Int(123).Equal(secondary.syncVars[0].Value))
	assert.False(t, secondary.syncVars[0].Dirty)
	assert.Equal(t, uint64(1), secondary.stats.MessagesReceived)
}

func TestFailoverPromotesSecondaryAfterPeerLoss(t *testing.T) {
	conn := bindLoopback(t)
	defer conn.Close()

	e := newTestEngine(t, RoleSecondary)
	e.conn = conn
	e.peerAddr = conn.LocalAddr().(*net.UDPAddr)
	e.state = NodeStandby
	e.peerAlive = false
	e.peerLastHeartbeat = time.Now().Add(-10 * e.cfg.HeartbeatTimeout)
	e.lastKnownPeerPC = 17

	e.ProcessSyncMessages()

	assert.Equal(t, RolePrimary, e.Role())
	assert.Equal(t, NodeActive, e.State())
	assert.Equal(t, uint64(1), e.Stats().Failovers)
}

func TestEndToEndHeartbeatDetectsDualPrimary(t *testing.T) {
	aConn := bindLoopback(t)
	bConn := bindLoopback(t)
	defer aConn.Close()
	defer bConn.Close()

	a := newTestEngine(t, RolePrimary)
	a.conn, a.peerAddr, a.role, a.state = aConn, bConn.LocalAddr().(*net.UDPAddr), RolePrimary, NodeActive

	b := newTestEngine(t, RolePrimary)
	b.conn, b.peerAddr, b.role, b.state = bConn, aConn.LocalAddr().(*net.UDPAddr), RolePrimary, NodeActive

	a.sendHeartbeat()
	b.drainIncoming()

	assert.Equal(t, RoleSecondary, b.Role())
}
