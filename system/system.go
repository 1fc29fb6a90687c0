package system

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/redshirt-os/kernel/internal/extrinsic"
	"github.com/redshirt-os/kernel/internal/idgen"
	"github.com/redshirt-os/kernel/internal/metrics"
	"github.com/redshirt-os/kernel/internal/scheduler"
	"github.com/redshirt-os/kernel/internal/vm"
)

// pendingNative is what System remembers about a NativeInterfaceMessage
// the embedder has not yet answered, so AcceptInterfaceMessage can hand
// the same (emitter_pid, body) pair back without the caller having to
// thread them through its own bookkeeping.
type pendingNative struct {
	emitterPid idgen.Pid
	body       []byte
}

// System is the embedder-facing kernel (spec.md §6): execute(module),
// run() -> SystemRunOutcome, answer_message, accept_interface_message,
// reject_immediate_interface_message. Built by SystemBuilder.Build.
//
// Grounded on the teacher's root Runtime type (config.go/builder.go): one
// object wrapping a single underlying engine (there wasm.Store, here
// scheduler.Core) behind a small public surface.
type System struct {
	core    *scheduler.Core
	metrics *metrics.Metrics
	bootID  uuid.UUID

	mu      sync.Mutex
	pending map[uint64]pendingNative
}

// ErrRejectedImmediately is the error answer_message receives for a
// message the embedder declined via RejectImmediateInterfaceMessage.
var ErrRejectedImmediately = errors.New("system: interface message rejected by embedder")

// Execute loads module into a new process (spec.md §6 "execute(module) ->
// Pid"). procUserData and threadUserData are opaque to the kernel and
// returned unchanged wherever spec.md's "generic user data slots" surface
// them (spec.md §9).
func (s *System) Execute(module *vm.Module, procUserData, mainThreadUserData any) (idgen.Pid, error) {
	return s.core.Execute(module, procUserData, mainThreadUserData)
}

// Memory exposes a process's linear memory capability, for an embedder
// that needs to lay out extrinsic call arguments or inspect notification
// buffers directly (spec.md §5 "the kernel may read and write it ...
// between run() calls").
func (s *System) Memory(pid idgen.Pid) extrinsic.Memory {
	return s.core.Memory(pid)
}

// Metrics exposes the Prometheus registry backing the kernel debug metrics
// interface, for an embedder that wants its own /metrics endpoint in
// addition to (or instead of) polling KernelDebugMetricsRequest.
func (s *System) Metrics() *metrics.Metrics { return s.metrics }

// BootID is this System's boot identifier (see SystemBuilder.Build).
func (s *System) BootID() uuid.UUID { return s.bootID }

// Run drives exactly one step of the scheduler (spec.md §6 "run() ->
// SystemRunOutcome (poll-style)"), translating internal scheduler events
// into the embedder-facing outcome type and bookkeeping any
// NativeInterfaceMessage so AcceptInterfaceMessage/AnswerMessage can find
// it later by message id. A nil outcome means the tick was fully absorbed
// internally; the caller should Run again.
func (s *System) Run(ctx context.Context) SystemRunOutcome {
	return s.runCPU(ctx, "0")
}

// RunCPU is Run for a multithreaded driver's worker goroutine: cpu labels
// the CPU-time series this call's work is billed to (spec.md §5
// "multithreaded variant ... multiple workers each call run()").
func (s *System) RunCPU(ctx context.Context, cpu string) SystemRunOutcome {
	return s.runCPU(ctx, cpu)
}

func (s *System) runCPU(ctx context.Context, cpu string) SystemRunOutcome {
	ev := s.core.TickCPU(ctx, cpu)
	switch e := ev.(type) {
	case nil:
		return nil
	case scheduler.Idle:
		return Idle{}
	case scheduler.ProgramFinished:
		return ProgramFinished{Pid: e.Pid, Outcome: ProgramOutcome{Value: e.Outcome.Value, Err: e.Outcome.Err}}
	case scheduler.KernelDebugMetricsRequest:
		return KernelDebugMetricsRequest{MessageID: uint64(e.MessageID), Respond: e.Respond}
	case scheduler.NativeInterfaceMessage:
		var msgID uint64
		if e.MessageID != nil {
			msgID = uint64(*e.MessageID)
			s.mu.Lock()
			s.pending[msgID] = pendingNative{emitterPid: e.EmitterPid, body: e.Body}
			s.mu.Unlock()
		}
		return NativeInterfaceMessage{
			Interface:  e.Interface,
			EmitterPid: e.EmitterPid,
			MessageID:  msgID,
			HasMessage: e.MessageID != nil,
			Body:       e.Body,
		}
	default:
		return nil
	}
}

// AnswerMessage completes a message that Run delivered directly to the
// embedder, as either a KernelDebugMetricsRequest or a
// NativeInterfaceMessage with HasMessage set (spec.md §6
// "answer_message(msg_id, Result<bytes,()>)"). A nil err means success.
func (s *System) AnswerMessage(msgID uint64, response []byte, err error) {
	s.mu.Lock()
	delete(s.pending, msgID)
	s.mu.Unlock()
	s.core.AnswerMessage(idgen.MessageId(msgID), response, err)
}

// AcceptInterfaceMessage looks up the emitter and body for a
// NativeInterfaceMessage msgID the embedder has not yet answered (spec.md
// §6 "accept_interface_message(msg_id) -> Option<(emitter_pid, body)>").
// The second return is false if msgID is unknown or already answered.
func (s *System) AcceptInterfaceMessage(msgID uint64) (idgen.Pid, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[msgID]
	if !ok {
		return 0, nil, false
	}
	return p.emitterPid, p.body, true
}

// RejectImmediateInterfaceMessage answers msgID with
// ErrRejectedImmediately without requiring the caller to construct a
// Result itself (spec.md §6 "reject_immediate_interface_message(msg_id)").
func (s *System) RejectImmediateInterfaceMessage(msgID uint64) {
	s.AnswerMessage(msgID, nil, ErrRejectedImmediately)
}
