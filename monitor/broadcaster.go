// Package monitor is an optional, read-only HTTP+WebSocket observability
// surface over a running VM and, when enabled, its sync engine: a
// /status JSON snapshot and a /ws feed of StatusEvent pushes. It never
// accepts control commands — it is a window, not a second control plane.
package monitor

import (
	"sync"
)

// StatusEvent is one snapshot pushed to every subscribed WebSocket client.
type StatusEvent struct {
	VMState     string            `json:"vm_state"`
	PC          uint32            `json:"pc"`
	Stats       map[string]any    `json:"stats"`
	SyncRole    string            `json:"sync_role,omitempty"`
	SyncState   string            `json:"sync_state,omitempty"`
	PeerAlive   bool              `json:"peer_alive,omitempty"`
	SyncStats   map[string]any    `json:"sync_stats,omitempty"`
}

// Broadcaster fans StatusEvent snapshots out to every live WebSocket
// client through a register/unregister/broadcast channel loop.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[chan StatusEvent]bool

	broadcast  chan StatusEvent
	register   chan chan StatusEvent
	unregister chan chan StatusEvent
	done       chan struct{}
}

func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{
		clients:    make(map[chan StatusEvent]bool),
		broadcast:  make(chan StatusEvent, 256),
		register:   make(chan chan StatusEvent),
		unregister: make(chan chan StatusEvent),
		done:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	for {
		select {
		case ch := <-b.register:
			b.mu.Lock()
			b.clients[ch] = true
			b.mu.Unlock()

		case ch := <-b.unregister:
			b.mu.Lock()
			if b.clients[ch] {
				delete(b.clients, ch)
				close(ch)
			}
			b.mu.Unlock()

		case event := <-b.broadcast:
			b.mu.RLock()
			for ch := range b.clients {
				select {
				case ch <- event:
				default:
					// slow client: drop this snapshot rather than block the broadcaster
				}
			}
			b.mu.RUnlock()

		case <-b.done:
			b.mu.Lock()
			for ch := range b.clients {
				close(ch)
			}
			b.clients = make(map[chan StatusEvent]bool)
			b.mu.Unlock()
			return
		}
	}
}

// Subscribe registers a new client channel.
func (b *Broadcaster) Subscribe() chan StatusEvent {
	ch := make(chan StatusEvent, 16)
	b.register <- ch
	return ch
}

// Unsubscribe removes and closes a client channel.
func (b *Broadcaster) Unsubscribe(ch chan StatusEvent) {
	b.unregister <- ch
}

// Broadcast pushes event to every subscribed client; it drops the event
// rather than blocking if the broadcaster's internal queue is full.
func (b *Broadcaster) Broadcast(event StatusEvent) {
	select {
	case b.broadcast <- event:
	default:
	}
}

// Close shuts the broadcaster down and disconnects every client.
func (b *Broadcaster) Close() {
	close(b.done)
}

// ClientCount reports the number of live subscriptions.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
