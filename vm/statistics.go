package vm

import (
	"encoding/json"
	"time"
)

// Statistics accumulates execution counters, incremented inline by the
// dispatch loop.
type Statistics struct {
	InstructionsExecuted uint64
	FunctionCalls        uint64
	LibraryCalls         uint64
	BuiltinCalls         uint64
	SyncOperations        uint64
	RuntimeErrors        uint64

	startedAt time.Time
	started   bool
}

func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) Start() {
	s.startedAt = time.Now()
	s.started = true
}

func (s *Statistics) RecordInstruction() { s.InstructionsExecuted++ }
func (s *Statistics) RecordCall()        { s.FunctionCalls++ }
func (s *Statistics) RecordLibraryCall() { s.LibraryCalls++ }
func (s *Statistics) RecordBuiltinCall() { s.BuiltinCalls++ }
func (s *Statistics) RecordSyncOp()      { s.SyncOperations++ }
func (s *Statistics) RecordError()       { s.RuntimeErrors++ }

// ExecutionTimeMS returns elapsed wall-clock time since Start, in
// milliseconds, or zero if Start was never called.
func (s *Statistics) ExecutionTimeMS() int64 {
	if !s.started {
		return 0
	}
	return time.Since(s.startedAt).Milliseconds()
}

// statisticsSnapshot is the JSON-friendly view returned by MarshalJSON,
// including the derived ExecutionTimeMS field the struct itself computes
// lazily.
type statisticsSnapshot struct {
	InstructionsExecuted uint64 `json:"instructions_executed"`
	FunctionCalls        uint64 `json:"function_calls"`
	LibraryCalls         uint64 `json:"library_calls"`
	BuiltinCalls         uint64 `json:"builtin_calls"`
	SyncOperations       uint64 `json:"sync_operations"`
	RuntimeErrors        uint64 `json:"runtime_errors"`
	ExecutionTimeMS      int64  `json:"execution_time_ms"`
}

func (s *Statistics) MarshalJSON() ([]byte, error) {
	return json.Marshal(statisticsSnapshot{
		InstructionsExecuted: s.InstructionsExecuted,
		FunctionCalls:        s.FunctionCalls,
		LibraryCalls:         s.LibraryCalls,
		BuiltinCalls:         s.BuiltinCalls,
		SyncOperations:       s.SyncOperations,
		RuntimeErrors:        s.RuntimeErrors,
		ExecutionTimeMS:      s.ExecutionTimeMS(),
	})
}
