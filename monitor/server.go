package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stbcvm/stbcvm/msync"
	"github.com/stbcvm/stbcvm/vm"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the optional HTTP+WebSocket observability endpoint: GET
// /status returns one StatusEvent snapshot; GET /ws upgrades to a
// WebSocket feed of the same snapshot pushed on every Tick call.
type Server struct {
	vm   *vm.VM
	sync *msync.Engine

	broadcaster *Broadcaster
	mux         *http.ServeMux
	httpServer  *http.Server
	addr        string
}

// NewServer builds a monitor bound to v (and, if non-nil, syncEngine),
// listening on addr (e.g. "127.0.0.1:9090").
func NewServer(addr string, v *vm.VM, syncEngine *msync.Engine) *Server {
	s := &Server{
		vm:          v,
		sync:        syncEngine,
		broadcaster: NewBroadcaster(),
		mux:         http.NewServeMux(),
		addr:        addr,
	}
	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	return s
}

func (s *Server) snapshot() StatusEvent {
	ev := StatusEvent{
		VMState: s.vm.State().String(),
		PC:      s.vm.PC(),
		Stats:   statsToMap(s.vm.Stats),
	}
	if s.sync != nil {
		ev.SyncRole = s.sync.Role().String()
		ev.SyncState = s.sync.State().String()
		ev.PeerAlive = s.sync.PeerAlive()
		ev.SyncStats = syncStatsToMap(s.sync.Stats())
	}
	return ev
}

func statsToMap(stats *vm.Statistics) map[string]any {
	data, err := json.Marshal(stats)
	if err != nil {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}

func syncStatsToMap(stats msync.Statistics) map[string]any {
	data, err := json.Marshal(stats)
	if err != nil {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}

// Tick pushes a fresh snapshot to every WebSocket subscriber. The host's
// dispatch loop calls this every 100 instructions, and the sync engine's
// role-change callback calls it immediately on a sync role/state change.
func (s *Server) Tick() {
	s.broadcaster.Broadcast(s.snapshot())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		log.Printf("monitor: encode status: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("monitor: websocket upgrade: %v", err)
		return
	}

	ch := s.broadcaster.Subscribe()
	defer func() {
		s.broadcaster.Unsubscribe(ch)
		conn.Close()
	}()

	for event := range ch {
		if err := conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
			return
		}
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// Start runs the HTTP server; it blocks until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Printf("monitor listening on http://%s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("monitor: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and disconnects all clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.broadcaster.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
