package vm

import "errors"

// NewErr reasons, from spec.md §4.1 "new(...) -> Result<Vm, NewErr>".
var (
	ErrMultipleMemoriesNotSupported = errors.New("vm: module declares more than one memory")
	ErrMemoryIsntMemory             = errors.New("vm: import expected to be a memory is not one")
	ErrIndirectTableIsntTable       = errors.New("vm: import expected to be a table is not one")
	ErrStartNotFound                = errors.New("vm: neither \"_start\" nor \"main\" entry point found")
	ErrImportNotResolved            = errors.New("vm: import resolution callback rejected an import")
)

// StartErr reasons, from spec.md "start_thread_by_id(...) -> Result<ThreadHandle, StartErr>".
var (
	ErrFunctionNotFound = errors.New("vm: function index not found in the indirect-call table")
	ErrNotAFunction     = errors.New("vm: indirect-call table slot is not callable")
)

// RunErr reasons, from spec.md "thread(index).run(value) -> Result<ExecOutcome, RunErr>".
var (
	ErrBadValueTy  = errors.New("vm: resumed value's type does not match the suspended call's expected return type")
	ErrPoisoned    = errors.New("vm: VM is poisoned; no further execution is possible")
	ErrNoSuchThread = errors.New("vm: no thread with that index")
	ErrNotRunnable  = errors.New("vm: thread's mailbox is empty")
)

// TrapError wraps a runtime trap (Wasm `unreachable`, out-of-bounds memory
// access, call_indirect signature mismatch, division by zero, stack
// overflow, ...). A TrapError poisons the whole VM (spec.md §4.1 "traps ->
// ... the whole VM becomes poisoned").
type TrapError struct {
	Reason string
}

func (e *TrapError) Error() string { return "vm: trap: " + e.Reason }

func trap(reason string) *TrapError { return &TrapError{Reason: reason} }
