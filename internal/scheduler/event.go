package scheduler

import (
	"github.com/redshirt-os/kernel/internal/idgen"
	"github.com/redshirt-os/kernel/internal/vm"
)

// Event is what one Tick surfaces to the embedder (spec.md §6
// "SystemRunOutcome"), or nil when the tick was fully absorbed internally
// (an extrinsic handled, a notification delivered) and the caller should
// Tick again.
type Event interface{ schedulerEvent() }

// Idle means no thread anywhere is runnable right now.
type Idle struct{}

func (Idle) schedulerEvent() {}

// ProgramOutcome is the value or error a finished/trapped process ended
// with.
type ProgramOutcome struct {
	Value *vm.Value
	Err   error
}

// ProgramFinished reports that pid stopped existing (spec.md §6
// "ProgramFinished{pid, outcome}").
type ProgramFinished struct {
	Pid     idgen.Pid
	Outcome ProgramOutcome
}

func (ProgramFinished) schedulerEvent() {}

// KernelDebugMetricsRequest asks the embedder to answer an empty message
// sent to the metrics interface with a Prometheus-text body (spec.md §6).
// Respond must be called exactly once.
type KernelDebugMetricsRequest struct {
	MessageID idgen.MessageId
	Respond   func(metricsText string)
}

func (KernelDebugMetricsRequest) schedulerEvent() {}

// NativeInterfaceMessage is a message delivered to a native interface tag
// the embedder itself handles (as opposed to one internal/native answers
// directly), spec.md §6. MessageID is nil when the emitter set
// needs_answer=false.
type NativeInterfaceMessage struct {
	Interface  string
	EmitterPid idgen.Pid
	MessageID  *idgen.MessageId
	Body       []byte
}

func (NativeInterfaceMessage) schedulerEvent() {}
