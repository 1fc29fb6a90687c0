package vm

// Module is the post-decode, post-compile representation the VM
// Interpreter executes: a flat, jump-resolved instruction sequence per
// function, one FunctionType per function, and the module's imports,
// memory and table definitions. Decoding raw .wasm bytes (or .wat text)
// into this shape is out of scope (spec.md §1 "the Wasm bytecode decoder
// itself"); this kernel's tests build Module values as Go struct literals,
// the moral equivalent of a compiler's already-lowered IR.
//
// A Module is immutable and may be shared across many Processes (spec.md
// §3 "Module ... shared across processes if desired").
type Module struct {
	// Imports lists, in order, every function the module imports. On
	// suspension the VM reports, as the ImportIndex, the index the
	// Resolver assigned to the called import, not its position in this
	// slice (spec.md §4.1 Interrupted{import_index}).
	Imports []Import

	// Functions are the module-defined (non-imported) functions, in
	// declaration order. FunctionIndex 0 within "this module's own
	// functions" is Functions[0]; callers needing a combined
	// imports-then-locals index space should offset by len(Imports).
	Functions []Function

	// Table backs call_indirect; entries are indexes into Functions, or
	// -1 for a hole.
	Table []int32

	// MemoryPages is the initial size of the module's single linear
	// memory, in 64KiB Wasm pages. spec.md's "MultipleMemoriesNotSupported"
	// invariant means there is at most one.
	MemoryPages uint32

	// Globals are the module's mutable globals, addressed by index.
	Globals []Value

	// EntryFunc names the entry function index (within Functions).
	// spec.md §4.1 resolves the thread entry point as "_start" or
	// "main(argc=0,argv=0)"; EntryFunc is how a test/embedder names
	// which Functions index satisfies that requirement, since this Module
	// representation has no name section (out of scope, see decoder note
	// above).
	EntryFunc int
}

// ImportKind says what external an Import names. spec.md §4.1 "new(...) ...
// Globals/tables/memories imports are refused" mirrors Wasm's four external
// kinds; only ImportKindFunction is ever resolved by this kernel, the other
// three exist so New can recognize and reject them by name instead of
// silently misreading their Type as a function signature.
type ImportKind byte

const (
	ImportKindFunction ImportKind = iota
	ImportKindMemory
	ImportKindTable
	ImportKindGlobal
)

// Import names one external a Module expects its host (the kernel) to
// resolve before instantiation. Kind defaults to ImportKindFunction, so
// existing function-import literals that never set it keep working.
type Import struct {
	Interface string // module/interface name, e.g. "" for extrinsics
	Name      string
	Type      FunctionType
	Kind      ImportKind
}

// FunctionType is a Wasm function signature.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// Function is one module-defined function body: its signature, its local
// variable types (beyond the parameters, which are locals 0..len(Params)-1),
// and its already-jump-resolved instruction sequence.
type Function struct {
	Type   FunctionType
	Locals []ValueType // additional locals beyond parameters
	Code   []Op
}

// NumLocals returns the total addressable local count: parameters followed
// by declared locals.
func (f *Function) NumLocals() int {
	return len(f.Type.Params) + len(f.Locals)
}

// LocalType returns the ValueType of local slot i (0-based, parameters first).
func (f *Function) LocalType(i int) ValueType {
	if i < len(f.Type.Params) {
		return f.Type.Params[i]
	}
	return f.Locals[i-len(f.Type.Params)]
}
