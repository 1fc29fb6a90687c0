package process

import (
	"github.com/redshirt-os/kernel/internal/idgen"
	"github.com/redshirt-os/kernel/internal/vm"
)

// RunOneOutcome is the result of one Collection.Run call (spec.md §4.2).
type RunOneOutcome interface{ runOneOutcome() }

// Idle reports that no thread in the collection is currently runnable.
type Idle struct{}

func (Idle) runOneOutcome() {}

// Interrupted reports that some process's thread suspended on an imported
// call.
type Interrupted struct {
	Pid         idgen.Pid
	ThreadIndex int
	ImportIndex int
	Params      []vm.Value
}

func (Interrupted) runOneOutcome() {}

// ThreadFinished reports that a non-main thread returned a value. The
// owning process is still alive.
type ThreadFinished struct {
	Pid         idgen.Pid
	ThreadIndex int
	UserData    any
	Value       *vm.Value
}

func (ThreadFinished) runOneOutcome() {}

// Reason classifies why a process stopped existing, generalizing spec.md's
// implicit ProcessFinished/Errored split (SPEC_FULL.md §D.2): a process can
// finish gracefully, trap, or be aborted by the embedder.
type Reason byte

const (
	ReasonFinished Reason = iota
	ReasonTrapped
	ReasonAborted
)

func (r Reason) String() string {
	switch r {
	case ReasonFinished:
		return "finished"
	case ReasonTrapped:
		return "trapped"
	case ReasonAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// ProcessFinished reports that a process's main thread finished, ending the
// whole process (spec.md §4.2).
type ProcessFinished struct {
	Pid             idgen.Pid
	ProcUserData    any
	ThreadsUserData map[int]any
	Value           *vm.Value
	Reason          Reason
}

func (ProcessFinished) runOneOutcome() {}

// Errored reports that a process trapped.
type Errored struct {
	Pid             idgen.Pid
	ProcUserData    any
	ThreadsUserData map[int]any
	Err             error
}

func (Errored) runOneOutcome() {}
