package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToSubscriber(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch := b.Subscribe()
	assert.Equal(t, 1, b.ClientCount())

	b.Broadcast(StatusEvent{VMState: "Running", PC: 5})

	select {
	case ev := <-ch:
		assert.Equal(t, "Running", ev.VMState)
		assert.Equal(t, uint32(5), ev.PC)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch := b.Subscribe()
	b.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.ClientCount())
}

func TestCloseDisconnectsAllClients(t *testing.T) {
	b := NewBroadcaster()
	ch1 := b.Subscribe()
	ch2 := b.Subscribe()

	b.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestBroadcastDropsWhenFull(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()
	ch := b.Subscribe()

	for i := 0; i < 100; i++ {
		b.Broadcast(StatusEvent{PC: uint32(i)})
	}
	require.Eventually(t, func() bool { return len(ch) > 0 }, time.Second, time.Millisecond)
}
