// Package scheduler is the Scheduler Core (spec.md §4.6): the top-level
// tick loop wiring the Process Collection to the Interface Registry and
// Message Table, classifying every suspended import call and routing it to
// the right handler.
//
// Grounded on the teacher's root `Runtime` (config.go/builder.go) as "the
// one object that owns every subsystem and exposes a small operations
// surface to its caller" (DESIGN.md), generalized from "compile and
// instantiate Wasm" to "drive the whole IPC substrate".
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redshirt-os/kernel/internal/extrinsic"
	"github.com/redshirt-os/kernel/internal/idgen"
	"github.com/redshirt-os/kernel/internal/iface"
	"github.com/redshirt-os/kernel/internal/klog"
	"github.com/redshirt-os/kernel/internal/metrics"
	"github.com/redshirt-os/kernel/internal/msgtable"
	"github.com/redshirt-os/kernel/internal/native"
	"github.com/redshirt-os/kernel/internal/process"
	"github.com/redshirt-os/kernel/internal/vm"
)

// metricsInterfaceTag names the reserved interface hashed into Core.metricsHash
// (spec.md §6 "Kernel debug metrics interface"). Unlike every other native
// interface it is never registered with internal/native.Bridge: it is
// answered by the embedder via a KernelDebugMetricsRequest event instead.
const metricsInterfaceTag = "kernel-debug-metrics"

type emitterRef struct {
	pid         idgen.Pid
	threadIndex int
}

type pendingAnswer struct {
	body  []byte
	isErr bool
}

// waitingThread records a thread parked in a blocking next_notification,
// so a later answer or interface delivery can resume it directly.
type waitingThread struct {
	outPtr, outSize uint32
	messageIDs      map[idgen.MessageId]bool
	registrationIDs map[idgen.RegistrationId]bool
}

// Core owns every kernel subsystem spec.md §4 names except the VM itself
// (owned per-process by internal/process.Collection).
type Core struct {
	procs   *process.Collection
	ifaces  *iface.Registry
	msgs    *msgtable.Table
	native  *native.Bridge
	metrics *metrics.Metrics
	msgIDs  *idgen.MessageIdGenerator

	mu              sync.Mutex
	descriptors     []descriptor
	extrinsicIndex  map[extrinsic.Kind]int
	registrationIdx map[string]int // "iface/func" -> descriptor index, for the registration protocol

	awaitingAnswer  map[idgen.MessageId]emitterRef
	messageBodies   map[idgen.MessageId][]byte
	pendingAnswers  map[idgen.Pid]map[idgen.MessageId]pendingAnswer
	waiting         map[idgen.Pid]map[int]*waitingThread
	registrationsOf map[idgen.Pid]map[idgen.RegistrationId]bool
	interfaceMemory map[idgen.Pid]extrinsic.Memory

	metricsHash iface.Hash

	// embedderInterfaces are tags registered with RegisterEmbedderInterface:
	// messages to these hashes bypass the Interface Registry/Native Bridge
	// entirely and surface as NativeInterfaceMessage events, the same way
	// metricsHash bypasses them for the one reserved metrics interface.
	embedderInterfaces map[iface.Hash]string

	bootTime time.Time
}

// Config bundles the seeds a Core's subsystems are built from (spec.md §9
// "Global, seeded ... generators", all derived from one boot seed by
// system.SystemBuilder).
type Config struct {
	PidSeed            uint64
	MessageIDSeed      uint64
	RegistrationIDSeed uint64
	MaxNativeWorkers   int64
}

// New constructs a Core and wires its native interfaces.
func New(cfg Config, m *metrics.Metrics) *Core {
	c := &Core{
		procs:              process.New(cfg.PidSeed),
		ifaces:             iface.New(cfg.RegistrationIDSeed),
		msgs:               msgtable.New(),
		metrics:            m,
		msgIDs:             idgen.NewMessageIdGenerator(cfg.MessageIDSeed),
		extrinsicIndex:     map[extrinsic.Kind]int{},
		registrationIdx:    map[string]int{},
		awaitingAnswer:     map[idgen.MessageId]emitterRef{},
		messageBodies:      map[idgen.MessageId][]byte{},
		pendingAnswers:     map[idgen.Pid]map[idgen.MessageId]pendingAnswer{},
		waiting:            map[idgen.Pid]map[int]*waitingThread{},
		registrationsOf:    map[idgen.Pid]map[idgen.RegistrationId]bool{},
		interfaceMemory:    map[idgen.Pid]extrinsic.Memory{},
		embedderInterfaces: map[iface.Hash]string{},
		bootTime:           time.Now(),
	}
	c.native = native.NewBridge(cfg.MaxNativeWorkers)
	c.metricsHash = iface.HashName(metricsInterfaceTag)
	c.procs.SetDeathListener(process.DeathListenerFunc(c.onProcessDeath))
	return c
}

// Metrics exposes the kernel debug metrics collector so the embedder can
// register its own HTTP endpoint alongside answering
// KernelDebugMetricsRequest events.
func (c *Core) Metrics() *metrics.Metrics {
	return c.metrics
}

// RegisterNative exposes the Native Interface Bridge to the embedder so it
// can wire time/random/hardware-io/kernel-log (or its own extras) at boot
// (spec.md §4.7).
func (c *Core) RegisterNative(tag string, h native.Handler) {
	c.ifaces.RegisterNative(iface.HashName(tag), tag)
	c.native.Register(tag, h)
}

// RegisterEmbedderInterface marks tag as handled directly by the embedder
// rather than by a Go-side native.Handler: messages to it surface as a
// NativeInterfaceMessage event from Tick, and the embedder completes them
// with AnswerMessage (spec.md §6). Call during boot only, before Execute.
func (c *Core) RegisterEmbedderInterface(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embedderInterfaces[iface.HashName(tag)] = tag
}

// AnswerMessage completes a message that was handed directly to the
// embedder, either as a NativeInterfaceMessage or via
// KernelDebugMetricsRequest.Respond (spec.md §6 "answer_message").
func (c *Core) AnswerMessage(msgID idgen.MessageId, body []byte, err error) {
	c.completeMessage(msgID, body, err != nil)
}

// Execute loads module into a new process (spec.md §6 "execute(module) ->
// Pid"), remembering its Memory capability for the extrinsic parser.
func (c *Core) Execute(module *vm.Module, procUserData, mainThreadUserData any) (idgen.Pid, error) {
	p, err := c.procs.Execute(module, procUserData, mainThreadUserData, c.resolve)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.interfaceMemory[p.Pid()] = p
	c.mu.Unlock()
	c.metrics.ProcessesStarted.Inc()
	return p.Pid(), nil
}

// resolve is the vm.Resolver every process's Vm is built with. It is the
// single place that assigns the "external index" spec.md §4.6 step 3
// classifies suspensions by.
func (c *Core) resolve(ifaceName, name string, sig vm.FunctionType) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ifaceName == "" {
		if kind, ok := extrinsicKindForName(name); ok {
			if idx, ok := c.extrinsicIndex[kind]; ok {
				return idx, nil
			}
			idx := len(c.descriptors)
			c.descriptors = append(c.descriptors, descriptor{kind: externalKindExtrinsic, extrinsicKind: kind})
			c.extrinsicIndex[kind] = idx
			return idx, nil
		}
		return 0, fmt.Errorf("scheduler: %q is not a kernel extrinsic", name)
	}

	key := ifaceName + "/" + name
	if idx, ok := c.registrationIdx[key]; ok {
		return idx, nil
	}
	idx := len(c.descriptors)
	c.descriptors = append(c.descriptors, descriptor{
		kind:          externalKindInterfaceFunction,
		interfaceHash: iface.HashName(ifaceName),
		functionName:  name,
	})
	c.registrationIdx[key] = idx
	return idx, nil
}

// Tick drives exactly one step of spec.md §4.6's loop, returning an Event
// the embedder must react to, or nil if the step was fully absorbed
// internally (the caller should Tick again). Equivalent to TickCPU(ctx, "0"),
// for the single-threaded driver that never needs a distinct "cpu" label.
func (c *Core) Tick(ctx context.Context) Event {
	return c.TickCPU(ctx, "0")
}

// TickCPU is Tick for the multithreaded driver (spec.md §5 "multiple
// workers each call run()"): cpu labels the CPUSeconds busy-time this call
// accrues, so each worker goroutine reports its own series.
func (c *Core) TickCPU(ctx context.Context, cpu string) Event {
	start := time.Now()
	ev := c.tick(ctx)
	c.metrics.CPUSeconds.WithLabelValues(cpu).Add(time.Since(start).Seconds())
	c.metrics.MonotonicClock.Set(float64(time.Since(c.bootTime)))
	return ev
}

func (c *Core) tick(ctx context.Context) Event {
	c.drainNativeAnswers()
	outcome := c.procs.Run()
	switch o := outcome.(type) {
	case process.Idle:
		return Idle{}

	case process.ProcessFinished:
		return ProgramFinished{Pid: o.Pid, Outcome: ProgramOutcome{Value: o.Value}}

	case process.Errored:
		return ProgramFinished{Pid: o.Pid, Outcome: ProgramOutcome{Err: o.Err}}

	case process.ThreadFinished:
		return nil

	case process.Interrupted:
		return c.handleInterrupted(ctx, o)

	default:
		return nil
	}
}

func (c *Core) handleInterrupted(ctx context.Context, o process.Interrupted) Event {
	c.mu.Lock()
	desc := c.descriptors[o.ImportIndex]
	mem := c.interfaceMemory[o.Pid]
	c.mu.Unlock()

	if desc.kind == externalKindInterfaceFunction {
		return c.handleInterfaceFunction(o, desc)
	}

	call, err := extrinsic.Parse(desc.extrinsicKind, mem, o.Params)
	if err != nil {
		klog.Warnf("scheduler: pid=%d bad extrinsic parameters: %v", o.Pid, err)
		c.abortThread(o.Pid, o.ThreadIndex)
		return nil
	}

	switch call := call.(type) {
	case extrinsic.NextNotification:
		c.handleNextNotification(o.Pid, o.ThreadIndex, call)
	case extrinsic.EmitMessage:
		return c.handleEmitMessage(ctx, o.Pid, o.ThreadIndex, mem, call)
	case extrinsic.EmitAnswer:
		c.handleEmitAnswer(o.Pid, o.ThreadIndex, call)
	case extrinsic.EmitMessageError:
		c.completeMessage(call.MsgID, nil, true)
		c.resumeStatus(o.Pid, o.ThreadIndex, 0)
	case extrinsic.CancelMessage:
		c.handleCancelMessage(o.Pid, o.ThreadIndex, call)
	}
	return nil
}

// handleInterfaceFunction services spec.md §6's Register/NextMessage/Answer
// protocol: a process registers as an interface's handler by importing that
// interface's reserved "register" function (the interface name itself
// carries the hash, in place of a hash parameter). Any other
// (interface, function) pair is a regular IPC call: synthesize an outgoing
// message on that interface and hand the caller its message id back
// (spec.md §4.6 step 3).
func (c *Core) handleInterfaceFunction(o process.Interrupted, desc descriptor) Event {
	if desc.functionName == "register" && len(o.Params) == 0 {
		// Hash is conveyed by which interface the import names, matching
		// the function-per-interface shape this kernel uses in place of a
		// hash parameter: desc.interfaceHash was computed from the import's
		// own interface name once, in resolve, rather than re-derived here.
		regID, err := c.ifaces.SetHandler(desc.interfaceHash, o.Pid)
		if err != nil {
			c.abortThread(o.Pid, o.ThreadIndex)
			return nil
		}
		c.mu.Lock()
		if c.registrationsOf[o.Pid] == nil {
			c.registrationsOf[o.Pid] = map[idgen.RegistrationId]bool{}
		}
		c.registrationsOf[o.Pid][regID] = true
		c.mu.Unlock()
		c.resumeI64(o.Pid, o.ThreadIndex, uint64(regID))
		return nil
	}

	// A plain interface-function call: treat it as an emit on that
	// interface with needs_answer=true, allow_delay implied true. Like
	// emit_message, the call itself never blocks (spec.md §4.6 "Failure
	// semantics summary"): the caller gets msgID back immediately and
	// polls next_notification for the answer, same as any other emitted
	// message.
	msgID := c.msgIDs.Next()
	c.mu.Lock()
	c.awaitingAnswer[msgID] = emitterRef{pid: o.Pid, threadIndex: o.ThreadIndex}
	c.mu.Unlock()

	outcome := c.ifaces.EmitMessage(desc.interfaceHash, msgID, o.Pid, true, false)
	c.routeEmitOutcome(context.Background(), msgID, true, nil, outcome)
	c.resumeI64(o.Pid, o.ThreadIndex, uint64(msgID))
	return nil
}

func (c *Core) handleNextNotification(pid idgen.Pid, threadIndex int, nn extrinsic.NextNotification) {
	mem := c.memoryFor(pid)

	c.mu.Lock()
	pending := c.pendingAnswers[pid]
	for _, rawID := range nn.NotifIDs {
		if rawID == 0 {
			continue
		}
		if pa, ok := pending[rawID]; ok {
			delete(pending, rawID)
			c.mu.Unlock()
			c.deliverNotification(pid, threadIndex, mem, nn.OutPtr, nn.OutSize, 2, rawID, pa.body, pa.isErr)
			return
		}
	}
	owned := c.registrationsOf[pid]
	c.mu.Unlock()

	// Every raw id this thread owns a registration for also doubles as an
	// emit_message_query: ask the Interface Registry whether a message is
	// already sitting in that interface's pending-delivery queue (spec.md
	// §4.3 emit_message_query), rather than only consulting the kernel's
	// own next-call bookkeeping.
	for _, rawID := range nn.NotifIDs {
		regID := idgen.RegistrationId(rawID)
		if rawID == 0 || !owned[regID] {
			continue
		}
		delivery, err := c.ifaces.EmitQuery(regID, rawID, pid)
		if err != nil {
			continue
		}
		if delivery == nil {
			continue // queued; a later emit_interface_message will wake this thread directly
		}
		if delivery.NeedsAnswer {
			c.msgs.Add(delivery.MsgID, pid, true)
		}
		body := c.takeBody(delivery.MsgID, nil)
		c.deliverNotification(pid, threadIndex, mem, nn.OutPtr, nn.OutSize, 1, delivery.MsgID, body, false)
		return
	}

	if !nn.Block {
		c.deliverNotification(pid, threadIndex, mem, nn.OutPtr, nn.OutSize, 0, 0, nil, false)
		return
	}

	c.mu.Lock()
	if c.waiting[pid] == nil {
		c.waiting[pid] = map[int]*waitingThread{}
	}
	w := &waitingThread{
		outPtr: nn.OutPtr, outSize: nn.OutSize,
		messageIDs:      map[idgen.MessageId]bool{},
		registrationIDs: map[idgen.RegistrationId]bool{},
	}
	for _, rawID := range nn.NotifIDs {
		if rawID == 0 {
			continue
		}
		w.messageIDs[rawID] = true
		w.registrationIDs[idgen.RegistrationId(rawID)] = true
	}
	c.waiting[pid][threadIndex] = w
	c.mu.Unlock()
}

func (c *Core) deliverNotification(pid idgen.Pid, threadIndex int, mem extrinsic.Memory, outPtr, outSize uint32, tag uint32, msgID idgen.MessageId, body []byte, isErr bool) {
	if isErr {
		tag = tag | 0x80000000
	}
	if _, err := extrinsic.EncodeNotification(mem, outPtr, outSize, tag, msgID, body); err != nil {
		klog.Warnf("scheduler: pid=%d notification encode failed: %v", pid, err)
		c.abortThread(pid, threadIndex)
		return
	}
	c.resumeStatus(pid, threadIndex, 0)
}

func (c *Core) handleEmitMessage(ctx context.Context, pid idgen.Pid, threadIndex int, mem extrinsic.Memory, em extrinsic.EmitMessage) Event {
	msgID := c.msgIDs.Next()
	if mem != nil {
		idBytes := make([]byte, 8)
		putUint64(idBytes, uint64(msgID))
		_ = mem.WriteMemory(em.MessageIDOutPtr, idBytes)
	}

	// The kernel debug metrics interface is reserved and answered by the
	// embedder directly (spec.md §6 "KernelDebugMetricsRequest"), never
	// routed through the Interface Registry/Native Bridge like a regular
	// interface.
	if em.InterfaceHash == c.metricsHash {
		if em.NeedsAnswer {
			c.mu.Lock()
			c.awaitingAnswer[msgID] = emitterRef{pid: pid, threadIndex: threadIndex}
			c.mu.Unlock()
		}
		c.resumeStatus(pid, threadIndex, 0)
		if !em.NeedsAnswer {
			return nil
		}
		return KernelDebugMetricsRequest{
			MessageID: msgID,
			Respond: func(metricsText string) {
				c.completeMessage(msgID, []byte(metricsText), false)
			},
		}
	}

	// An embedder-registered interface (spec.md §6 "NativeInterfaceMessage")
	// similarly bypasses the registry: the embedder chose at boot to answer
	// this one itself rather than let a Wasm process register a handler.
	c.mu.Lock()
	tag, isEmbedder := c.embedderInterfaces[em.InterfaceHash]
	c.mu.Unlock()
	if isEmbedder {
		var midPtr *idgen.MessageId
		if em.NeedsAnswer {
			c.mu.Lock()
			c.awaitingAnswer[msgID] = emitterRef{pid: pid, threadIndex: threadIndex}
			c.mu.Unlock()
			midPtr = &msgID
		}
		c.resumeStatus(pid, threadIndex, 0)
		return NativeInterfaceMessage{Interface: tag, EmitterPid: pid, MessageID: midPtr, Body: em.Body}
	}

	c.mu.Lock()
	c.messageBodies[msgID] = em.Body
	if em.NeedsAnswer {
		c.awaitingAnswer[msgID] = emitterRef{pid: pid, threadIndex: threadIndex}
	}
	c.mu.Unlock()

	outcome := c.ifaces.EmitMessage(em.InterfaceHash, msgID, pid, em.NeedsAnswer, !em.AllowDelay)
	c.routeEmitOutcome(ctx, msgID, em.NeedsAnswer, em.Body, outcome)

	// emit_message itself never blocks the caller: it resumes immediately
	// with a status (0 success, negative on immediate Reject) regardless
	// of how the message was routed (spec.md §4.6 "Failure semantics
	// summary" — allow_delay=false just changes whether the *answer* is an
	// error, not whether the emit call itself blocks).
	if _, ok := outcome.(iface.Reject); ok {
		c.resumeStatus(pid, threadIndex, -1)
		return nil
	}
	c.resumeStatus(pid, threadIndex, 0)
	return nil
}

// routeEmitOutcome dispatches a just-emitted message to wherever
// iface.Registry says it should go right now.
func (c *Core) routeEmitOutcome(ctx context.Context, msgID idgen.MessageId, needsAnswer bool, body []byte, outcome iface.EmitOutcome) {
	switch d := outcome.(type) {
	case iface.Deliver:
		if d.Native {
			c.native.Dispatch(ctx, d.NativeTag, msgID, c.takeBody(msgID, body))
			return
		}
		if needsAnswer {
			c.msgs.Add(msgID, d.HandlerPid, true)
		}
		c.deliverToHandler(d.HandlerPid, msgID)
	case iface.Reject:
		c.completeMessage(msgID, nil, true)
	case iface.Queued:
		// Nothing to do yet; a later next_notification/EmitQuery will pop it.
	}
}

func (c *Core) takeBody(msgID idgen.MessageId, fallback []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.messageBodies[msgID]; ok {
		return b
	}
	return fallback
}

// deliverToHandler wakes whichever thread of handlerPid is blocked on
// next_notification for this registration's messages, with the message
// that was just matched to its pending query.
func (c *Core) deliverToHandler(handlerPid idgen.Pid, msgID idgen.MessageId) {
	body := c.takeBody(msgID, nil)

	c.mu.Lock()
	threads := c.waiting[handlerPid]
	var target int
	var w *waitingThread
	for idx, cand := range threads {
		if len(cand.registrationIDs) > 0 {
			target, w = idx, cand
			break
		}
	}
	if w != nil {
		delete(threads, target)
	}
	mem := c.interfaceMemory[handlerPid]
	c.mu.Unlock()

	if w == nil {
		// Handler hasn't called next_notification yet; hold the message
		// as a pending answer keyed by its own id so the next call finds
		// it immediately.
		c.mu.Lock()
		if c.pendingAnswers[handlerPid] == nil {
			c.pendingAnswers[handlerPid] = map[idgen.MessageId]pendingAnswer{}
		}
		c.pendingAnswers[handlerPid][msgID] = pendingAnswer{body: body}
		c.mu.Unlock()
		return
	}
	c.deliverNotification(handlerPid, target, mem, w.outPtr, w.outSize, 1, msgID, body, false)
}

func (c *Core) handleEmitAnswer(pid idgen.Pid, threadIndex int, ea extrinsic.EmitAnswer) {
	answerer, _, ok := c.msgs.Lookup(ea.MsgID)
	if ok && answerer != pid {
		klog.Warnf("scheduler: pid=%d answered message %d it does not own", pid, ea.MsgID)
		c.abortThread(pid, threadIndex)
		return
	}
	if ok {
		_ = c.msgs.Remove(ea.MsgID, pid)
	}
	c.completeMessage(ea.MsgID, ea.Response, false)
	c.resumeStatus(pid, threadIndex, 0)
}

func (c *Core) handleCancelMessage(pid idgen.Pid, threadIndex int, cm extrinsic.CancelMessage) {
	c.mu.Lock()
	delete(c.awaitingAnswer, cm.MsgID)
	if m := c.pendingAnswers[pid]; m != nil {
		delete(m, cm.MsgID)
	}
	delete(c.messageBodies, cm.MsgID)
	c.mu.Unlock()

	c.msgs.Cancel(cm.MsgID)
	c.resumeStatus(pid, threadIndex, 0)
}

// completeMessage delivers body (or an error) to whoever emitted msgID, if
// anyone is still listening (spec.md §5 "Cancellation": a cancelled
// message's late answer is silently dropped because awaitingAnswer no
// longer has an entry for it).
func (c *Core) completeMessage(msgID idgen.MessageId, body []byte, isErr bool) {
	c.mu.Lock()
	ref, ok := c.awaitingAnswer[msgID]
	if ok {
		delete(c.awaitingAnswer, msgID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.mu.Lock()
	w := c.waiting[ref.pid][ref.threadIndex]
	if w != nil && w.messageIDs[msgID] {
		delete(c.waiting[ref.pid], ref.threadIndex)
	} else {
		w = nil
	}
	mem := c.interfaceMemory[ref.pid]
	c.mu.Unlock()

	if w != nil {
		c.deliverNotification(ref.pid, ref.threadIndex, mem, w.outPtr, w.outSize, 2, msgID, body, isErr)
		return
	}

	c.mu.Lock()
	if c.pendingAnswers[ref.pid] == nil {
		c.pendingAnswers[ref.pid] = map[idgen.MessageId]pendingAnswer{}
	}
	c.pendingAnswers[ref.pid][msgID] = pendingAnswer{body: body, isErr: isErr}
	c.mu.Unlock()
}

// drainNativeAnswers applies every native.Bridge completion queued since the
// last tick, before c.procs.Run picks a thread to step. Dispatch's handler
// goroutines never call into a Thread themselves (native.Answer doc
// comment); this is the one place their results reach VM state, serialized
// with every other caller of resumeStatus/resumeI64 by only ever running
// inside tick.
func (c *Core) drainNativeAnswers() {
	for {
		select {
		case a := <-c.native.Answers():
			c.completeMessage(a.MsgID, a.Response, a.Err != nil)
		default:
			return
		}
	}
}

// drainDeadProcess implements spec.md §4.6 step 2: drain the message
// table, deregister interfaces, and notify anyone left waiting.
func (c *Core) drainDeadProcess(pid idgen.Pid) {
	for _, msgID := range c.msgs.DrainByAnswerer(pid) {
		c.completeMessage(msgID, nil, true)
	}
	for _, msgID := range c.ifaces.Deregister(pid) {
		c.completeMessage(msgID, nil, true)
	}
	c.mu.Lock()
	delete(c.waiting, pid)
	delete(c.registrationsOf, pid)
	delete(c.interfaceMemory, pid)
	c.mu.Unlock()
}

// onProcessDeath is the single place spec.md §4.6 step 2 ("on death, drain
// the message table by answerer, deregister interfaces, notify emitters")
// runs from, regardless of whether death came through the normal Tick scan
// (finished/trapped) or through abortThread's direct AbortProcess call.
func (c *Core) onProcessDeath(pid idgen.Pid, reason process.Reason) {
	klog.Debugf("scheduler: pid=%d died: %s", pid, reason)
	c.metrics.ProcessesEnded.WithLabelValues(processEndedReasonLabel(reason)).Inc()
	c.drainDeadProcess(pid)
}

// processEndedReasonLabel maps process.Reason onto spec.md §6's
// "reason=graceful|crash" metric label, folding ReasonAborted into "crash"
// since from the embedder's metrics view an aborted process and a trapped
// one both ended abnormally.
func processEndedReasonLabel(reason process.Reason) string {
	if reason == process.ReasonFinished {
		return "graceful"
	}
	return "crash"
}

func (c *Core) memoryFor(pid idgen.Pid) extrinsic.Memory {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interfaceMemory[pid]
}

// Memory exposes a process's linear memory capability so an embedder (or a
// test) can lay out extrinsic call arguments before resuming it.
func (c *Core) Memory(pid idgen.Pid) extrinsic.Memory {
	return c.memoryFor(pid)
}

func (c *Core) resumeStatus(pid idgen.Pid, threadIndex int, status int32) {
	p := c.procs.ProcessByID(pid)
	if p == nil {
		return
	}
	th := p.Thread(threadIndex)
	if th == nil {
		return
	}
	v := vm.I32(uint32(status))
	th.Resume(&v)
}

func (c *Core) resumeI64(pid idgen.Pid, threadIndex int, value uint64) {
	p := c.procs.ProcessByID(pid)
	if p == nil {
		return
	}
	th := p.Thread(threadIndex)
	if th == nil {
		return
	}
	v := vm.I64(value)
	th.Resume(&v)
}

func (c *Core) abortThread(pid idgen.Pid, threadIndex int) {
	// A BadParameter protocol violation traps the offending process
	// (spec.md §4.5, §7): the whole process is torn down rather than just
	// the thread, matching "only its own process terminates".
	c.procs.AbortProcess(pid)
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
