package vm

import (
	"fmt"
	"sort"
)

// ThreadHandle identifies a Thread within its owning Vm.
type ThreadHandle int

// Resolver assigns a stable small integer to each import a Module
// declares, the host side of spec.md §4.1's "resolve(mod, name, sig) ->
// Result<ImportIndex, ()>". The same (interface, name) must always resolve
// to the same integer within one process (spec.md §3 invariant); it is the
// Resolver's job to guarantee that, typically by delegating to
// internal/iface's interface-hash table.
type Resolver func(iface, name string, sig FunctionType) (int, error)

// Vm runs one Wasm module: one linear memory, one indirect-call table, a
// bag of threads, and a poisoned flag (spec.md §3 "Process").
type Vm struct {
	module *Module

	memory []byte
	table  []int32
	global []Value

	importIndex []int // Imports[i] -> resolved ImportIndex

	threads   map[int]*Thread
	nextIndex int

	poisoned    bool
	poisonedErr error

	userData any
}

const wasmPageSize = 64 * 1024

// New constructs a Vm for module, resolving every import via resolve and
// pausing a single thread (TID 0, the main thread) at the module's entry
// point: "_start" if EntryFunc selects it, else a zero-argument
// "main(argc,argv)" convention where argc=argv=0 are pushed as the two i32
// parameters (spec.md §4.1).
func New(module *Module, mainThreadUserData any, resolve Resolver) (*Vm, error) {
	if module.EntryFunc < 0 || module.EntryFunc >= len(module.Functions) {
		return nil, ErrStartNotFound
	}

	importIndex := make([]int, len(module.Imports))
	for i, imp := range module.Imports {
		switch imp.Kind {
		case ImportKindMemory:
			// This Vm always allocates its own single linear memory sized
			// from module.MemoryPages (spec.md "MultipleMemoriesNotSupported
			// invariant means there is at most one"); an imported memory
			// would be a second one.
			return nil, fmt.Errorf("%w: %s/%s", ErrMultipleMemoriesNotSupported, imp.Interface, imp.Name)
		case ImportKindTable:
			// The indirect-call table is always module.Table, defined
			// locally; this kernel never resolves one from the host side
			// (original_source/core/src/scheduler/vm/interpreter.rs:
			// "Importing tables is not supported yet").
			return nil, fmt.Errorf("%w: %s/%s", ErrIndirectTableIsntTable, imp.Interface, imp.Name)
		case ImportKindGlobal:
			// spec.md only names three NewErr variants for this reject
			// path; globals reuse MemoryIsntMemory since this kernel has no
			// dedicated sentinel for them (see DESIGN.md).
			return nil, fmt.Errorf("%w: %s/%s", ErrMemoryIsntMemory, imp.Interface, imp.Name)
		}

		idx, err := resolve(imp.Interface, imp.Name, imp.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %s/%s: %v", ErrImportNotResolved, imp.Interface, imp.Name, err)
		}
		importIndex[i] = idx
	}

	mem := make([]byte, uint64(module.MemoryPages)*wasmPageSize)
	table := append([]int32(nil), module.Table...)
	globals := append([]Value(nil), module.Globals...)

	v := &Vm{
		module:      module,
		memory:      mem,
		table:       table,
		global:      globals,
		importIndex: importIndex,
		threads:     map[int]*Thread{},
	}

	entry := &module.Functions[module.EntryFunc]
	var args []uint64
	if n := len(entry.Type.Params); n == 2 {
		// main(argc, argv): both zero, per spec.md §4.1.
		args = []uint64{0, 0}
	}

	main := &Thread{index: 0, state: threadFresh, userData: mainThreadUserData, mailboxFull: true}
	main.pushFrame(entry, args)
	v.threads[0] = main
	v.nextIndex = 1

	return v, nil
}

// StartThreadByID starts a new thread at the function the indirect-call
// table names at functionIndex (spec.md §4.1 start_thread_by_id). The new
// thread begins Running will not occur until Run is first called on it
// (with a nil value, matching Thread.state == threadFresh).
func (v *Vm) StartThreadByID(functionIndex int, params []Value, userData any) (ThreadHandle, error) {
	if v.poisoned {
		return 0, ErrPoisoned
	}
	if functionIndex < 0 || functionIndex >= len(v.table) {
		return 0, ErrFunctionNotFound
	}
	fnIdx := v.table[functionIndex]
	if fnIdx < 0 || int(fnIdx) >= len(v.module.Functions) {
		return 0, ErrNotAFunction
	}
	fn := &v.module.Functions[fnIdx]
	if len(params) != len(fn.Type.Params) {
		return 0, ErrNotAFunction
	}

	args := make([]uint64, len(params))
	for i, p := range params {
		args[i] = p.Bits()
	}

	idx := v.nextIndex
	v.nextIndex++
	th := &Thread{index: idx, state: threadFresh, userData: userData, mailboxFull: true}
	th.pushFrame(fn, args)
	v.threads[idx] = th
	return ThreadHandle(idx), nil
}

// Thread returns the Thread at index, or nil if none exists (it may have
// already finished and been removed).
func (v *Vm) Thread(index int) *Thread {
	return v.threads[index]
}

// NumThreads reports how many threads are still alive in this Vm.
func (v *Vm) NumThreads() int {
	return len(v.threads)
}

// ThreadIndices returns every live thread's index, ascending. Thread
// indices are not contiguous once threads finish out of creation order, so
// callers scanning for runnable work must use this rather than assume a
// 0..NumThreads()-1 range.
func (v *Vm) ThreadIndices() []int {
	out := make([]int, 0, len(v.threads))
	for idx := range v.threads {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// Poisoned reports whether any thread has ever trapped.
func (v *Vm) Poisoned() bool {
	return v.poisoned
}

// IntoUserDatas tears the Vm down, returning every remaining thread's user
// datum keyed by TID (spec.md §4.1 "into_user_datas() - enumeration / teardown").
func (v *Vm) IntoUserDatas() map[int]any {
	out := make(map[int]any, len(v.threads))
	for idx, th := range v.threads {
		out[idx] = th.userData
	}
	v.threads = map[int]*Thread{}
	return out
}

// ReadMemory copies size bytes starting at offset out of the Vm's single
// linear memory. Range-checked (spec.md §4.1).
func (v *Vm) ReadMemory(offset, size uint32) ([]byte, error) {
	end := uint64(offset) + uint64(size)
	if end > uint64(len(v.memory)) {
		return nil, fmt.Errorf("vm: read_memory out of range: offset=%d size=%d memlen=%d", offset, size, len(v.memory))
	}
	out := make([]byte, size)
	copy(out, v.memory[offset:end])
	return out, nil
}

// WriteMemory copies bytes into the Vm's linear memory starting at offset.
// Range-checked (spec.md §4.1).
func (v *Vm) WriteMemory(offset uint32, bytes []byte) error {
	end := uint64(offset) + uint64(len(bytes))
	if end > uint64(len(v.memory)) {
		return fmt.Errorf("vm: write_memory out of range: offset=%d size=%d memlen=%d", offset, len(bytes), len(v.memory))
	}
	copy(v.memory[offset:end], bytes)
	return nil
}

// MemoryLen reports the current linear memory size in bytes.
func (v *Vm) MemoryLen() int { return len(v.memory) }
