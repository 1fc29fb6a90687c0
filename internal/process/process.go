package process

import (
	"github.com/redshirt-os/kernel/internal/idgen"
	"github.com/redshirt-os/kernel/internal/vm"
)

// Process owns exactly one Wasm instance (spec.md §3 "Process").
type Process struct {
	pid      idgen.Pid
	machine  *vm.Vm
	userData any
}

// Pid returns the process's identifier.
func (p *Process) Pid() idgen.Pid { return p.pid }

// UserData returns the opaque datum the embedder attached at execute time.
func (p *Process) UserData() any { return p.userData }

// StartThread starts a new thread inside this process, looking up
// functionIndex in the module's indirect-call table (spec.md §4.1
// start_thread_by_id).
func (p *Process) StartThread(functionIndex int, params []vm.Value, threadUserData any) (vm.ThreadHandle, error) {
	return p.machine.StartThreadByID(functionIndex, params, threadUserData)
}

// MainThread returns the process's main thread (TID 0), or nil if it has
// already finished (which would have also ended the process).
func (p *Process) MainThread() *vm.Thread {
	return p.machine.Thread(0)
}

// Thread returns the thread at index, or nil if it has already finished.
func (p *Process) Thread(index int) *vm.Thread {
	return p.machine.Thread(index)
}

// ReadMemory copies out of the process's single linear memory.
func (p *Process) ReadMemory(offset, size uint32) ([]byte, error) {
	return p.machine.ReadMemory(offset, size)
}

// WriteMemory copies into the process's single linear memory.
func (p *Process) WriteMemory(offset uint32, bytes []byte) error {
	return p.machine.WriteMemory(offset, bytes)
}

// Abort returns the process's user datum (spec.md §4.2 "abort() ->
// proc_user_data"). It does not stop the process's threads or remove it
// from its Collection; Collection.AbortProcess does that.
func (p *Process) Abort() any {
	return p.userData
}
