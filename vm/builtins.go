package vm

import "fmt"

// Handler is the single contract every built-in and library function
// conforms to: read args in push order, compute zero or one result,
// report success via a nil error. Names are resolved to indices
// at bytecode-generation time; this table is populated at initialization
// by a host-provided library manager, never looked up by name at call
// time.
type Handler func(args []Value) (Value, error)

// Registry is the flat, index-keyed table of native handlers backing
// CALL_BUILTIN and CALL_LIBRARY. Each entry records its fixed arity so the
// dispatcher knows how many stack-top values to peel before invoking it.
type Registry struct {
	handlers []Handler
	names    []string
	arities  []int
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a named handler and returns its index, the value a
// code generator embeds as CALL_BUILTIN/CALL_LIBRARY's operand.
func (r *Registry) Register(name string, arity int, h Handler) uint32 {
	r.handlers = append(r.handlers, h)
	r.names = append(r.names, name)
	r.arities = append(r.arities, arity)
	return uint32(len(r.handlers) - 1)
}

func (r *Registry) Lookup(id uint32) (handler Handler, name string, arity int, ok bool) {
	if int(id) >= len(r.handlers) {
		return nil, "", 0, false
	}
	return r.handlers[id], r.names[id], r.arities[id], true
}

// ErrHandlerFailed wraps a native handler's failure into a Go error that
// carries the handler's name.
type ErrHandlerFailed struct {
	Name string
	Err  error
}

func (e *ErrHandlerFailed) Error() string {
	return fmt.Sprintf("handler %q failed: %v", e.Name, e.Err)
}

func (e *ErrHandlerFailed) Unwrap() error { return e.Err }
