package system

import (
	"github.com/redshirt-os/kernel/internal/idgen"
	"github.com/redshirt-os/kernel/internal/vm"
)

// SystemRunOutcome is what one Run step surfaces to the embedder (spec.md
// §6), or nil if the step was fully absorbed internally and the caller
// should Run again.
type SystemRunOutcome interface{ systemRunOutcome() }

// Idle means no process anywhere has a runnable thread right now.
type Idle struct{}

func (Idle) systemRunOutcome() {}

// ProgramOutcome is the value or error a finished/trapped process ended
// with.
type ProgramOutcome struct {
	Value *vm.Value
	Err   error
}

// ProgramFinished reports that Pid stopped existing (spec.md §6
// "ProgramFinished{pid, outcome}").
type ProgramFinished struct {
	Pid     idgen.Pid
	Outcome ProgramOutcome
}

func (ProgramFinished) systemRunOutcome() {}

// KernelDebugMetricsRequest asks the embedder to answer an empty message
// sent to the reserved metrics interface with a Prometheus-text body
// (spec.md §6). Respond must be called exactly once; System.Metrics().
// RenderText() produces a body satisfying spec.md §6's enumerated series.
type KernelDebugMetricsRequest struct {
	MessageID uint64
	Respond   func(metricsText string)
}

func (KernelDebugMetricsRequest) systemRunOutcome() {}

// NativeInterfaceMessage is a message delivered to an interface the
// embedder registered with SystemBuilder.WithEmbedderInterface (spec.md §6
// "NativeInterfaceMessage{interface, emitter_pid, message_id: Option,
// body}"). HasMessage is false when the emitter set needs_answer=false, in
// which case AnswerMessage/AcceptInterfaceMessage have nothing to act on.
type NativeInterfaceMessage struct {
	Interface  string
	EmitterPid idgen.Pid
	MessageID  uint64
	HasMessage bool
	Body       []byte
}

func (NativeInterfaceMessage) systemRunOutcome() {}
