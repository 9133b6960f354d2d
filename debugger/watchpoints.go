package debugger

import (
	"fmt"
	"sync"

	"github.com/stbcvm/stbcvm/vm"
)

// Watchpoint monitors a global variable index for a value change,
// detected with Value.Equal between checks.
type Watchpoint struct {
	ID         int
	GlobalIdx  uint32
	Enabled    bool
	LastValue  vm.Value
	HasLast    bool
	HitCount   int
}

// WatchpointManager manages all watchpoints for one debugging session.
type WatchpointManager struct {
	mu          sync.RWMutex
	watchpoints map[int]*Watchpoint
	nextID      int
}

func NewWatchpointManager() *WatchpointManager {
	return &WatchpointManager{
		watchpoints: make(map[int]*Watchpoint),
		nextID:      1,
	}
}

func (wm *WatchpointManager) Add(globalIdx uint32) *Watchpoint {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wp := &Watchpoint{ID: wm.nextID, GlobalIdx: globalIdx, Enabled: true}
	wm.watchpoints[wp.ID] = wp
	wm.nextID++
	return wp
}

func (wm *WatchpointManager) Delete(id int) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	if _, exists := wm.watchpoints[id]; !exists {
		return fmt.Errorf("watchpoint %d not found", id)
	}
	delete(wm.watchpoints, id)
	return nil
}

func (wm *WatchpointManager) All() []*Watchpoint {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	result := make([]*Watchpoint, 0, len(wm.watchpoints))
	for _, wp := range wm.watchpoints {
		result = append(result, wp)
	}
	return result
}

// CheckWatchpoints reads every enabled watchpoint's current value out of v
// and reports which ones changed since the last check, updating LastValue
// as it goes.
func (wm *WatchpointManager) CheckWatchpoints(v *vm.VM) []*Watchpoint {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	var hit []*Watchpoint
	for _, wp := range wm.watchpoints {
		if !wp.Enabled {
			continue
		}
		cur, ok := v.Global(wp.GlobalIdx)
		if !ok {
			continue
		}
		if wp.HasLast && !wp.LastValue.Equal(cur) {
			wp.HitCount++
			hitCopy := *wp
			hit = append(hit, &hitCopy)
		}
		wp.LastValue = cur
		wp.HasLast = true
	}
	return hit
}
