package vm

// callFrame is one level of the thread's call stack, grounded on the
// teacher's callEngine.frames (DESIGN.md "internal/engine/interpreter/
// interpreter.go"): a program counter into a function's flat Code plus the
// function's locals.
type callFrame struct {
	fn     *Function
	pc     int
	locals []uint64
}

// pendingImport records the shape of the call a thread suspended on, so
// Run can validate the resumed value's type (spec.md "BadValueTy") and
// push it back onto the stack with the right width.
type pendingImport struct {
	resultType *ValueType // nil if the import returns nothing
}

// threadState is where a thread sits in the state machine spec.md §4.1
// describes: "Paused(at import n) -> Running -> (Paused | Finished | Errored)".
type threadState byte

const (
	threadFresh threadState = iota // never run; first Run's value must be None
	threadPaused
	threadFinished
	threadErrored
)

// Thread is a suspendable Wasm execution context (spec.md §3 "Thread").
type Thread struct {
	index    int
	state    threadState
	userData any

	stack  []uint64
	frames []callFrame

	pending pendingImport

	// mailbox models spec.md's value_back: Option<Option<WasmValue>>.
	// mailboxFull mirrors the outer Option (ready to run); mailboxHasValue
	// mirrors the inner one (None is valid on the very first run only).
	mailboxFull     bool
	mailboxHasValue bool
	mailboxValue    Value
}

// Index returns the thread's TID, stable for its lifetime within the process.
func (t *Thread) Index() int { return t.index }

// UserData returns the opaque datum the embedder attached at creation.
func (t *Thread) UserData() any { return t.userData }

// Runnable reports whether the thread's mailbox is full, i.e. it is ready
// to be picked by the scheduler (spec.md §3 invariant). A never-run thread
// is runnable as soon as it exists: its mailbox starts full with no value,
// matching the "first Run's value must be None" rule.
func (t *Thread) Runnable() bool {
	if t.state != threadFresh && t.state != threadPaused {
		return false
	}
	return t.mailboxFull
}

// PendingValue returns the value currently sitting in the thread's mailbox,
// or nil if the thread is fresh or was last resumed with None.
func (t *Thread) PendingValue() *Value {
	if !t.mailboxHasValue {
		return nil
	}
	v := t.mailboxValue
	return &v
}

// Resume writes to the thread's mailbox. Panics if the mailbox already
// holds a value: spec.md §4.2 "resume(value) ... panics on double-write -
// this is a caller contract violation."
func (t *Thread) Resume(value *Value) {
	if t.mailboxFull {
		panic("vm: Thread.Resume called on a thread whose mailbox is already full")
	}
	t.mailboxFull = true
	if value != nil {
		t.mailboxHasValue = true
		t.mailboxValue = *value
	} else {
		t.mailboxHasValue = false
	}
}

func (t *Thread) pushFrame(f *Function, args []uint64) {
	locals := make([]uint64, f.NumLocals())
	copy(locals, args)
	t.frames = append(t.frames, callFrame{fn: f, locals: locals})
}

func (t *Thread) currentFrame() *callFrame {
	return &t.frames[len(t.frames)-1]
}

func (t *Thread) popFrame() callFrame {
	n := len(t.frames) - 1
	f := t.frames[n]
	t.frames = t.frames[:n]
	return f
}

func (t *Thread) pushValue(v uint64)     { t.stack = append(t.stack, v) }
func (t *Thread) popValue() uint64 {
	n := len(t.stack) - 1
	v := t.stack[n]
	t.stack = t.stack[:n]
	return v
}
func (t *Thread) popN(n int) []uint64 {
	start := len(t.stack) - n
	out := append([]uint64(nil), t.stack[start:]...)
	t.stack = t.stack[:start]
	return out
}
