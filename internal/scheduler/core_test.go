package scheduler_test

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/redshirt-os/kernel/internal/extrinsic"
	"github.com/redshirt-os/kernel/internal/iface"
	"github.com/redshirt-os/kernel/internal/metrics"
	"github.com/redshirt-os/kernel/internal/scheduler"
	"github.com/redshirt-os/kernel/internal/vm"
)

func testConfig() scheduler.Config {
	return scheduler.Config{PidSeed: 1, MessageIDSeed: 1, RegistrationIDSeed: 1, MaxNativeWorkers: 4}
}

// tickUntil drives c until pred accepts an Event, failing the test if the
// tick budget runs out first. Intermediate nil/Idle/unrelated events (an
// extrinsic fully absorbed internally, another process's own outcome) are
// expected and simply skipped.
func tickUntil(t *testing.T, c *scheduler.Core, pred func(scheduler.Event) bool) scheduler.Event {
	t.Helper()
	for i := 0; i < 10000; i++ {
		if ev := c.Tick(context.Background()); pred(ev) {
			return ev
		}
	}
	t.Fatal("tickUntil: exceeded tick budget without a matching event")
	return nil
}

func putU32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:off+4], v) }

// callOp appends one already-suspend-and-resume import call to code: pushes
// storeAddr (if result != nil) then every param, calls importIdx, then
// stores the resumed value at storeAddr (or drops it if the call has no
// result). storeAddr must not overlap memory the caller still needs after
// this call (e.g. a notif id buffer a later call reads).
func callOp(importIdx uint64, params []vm.Value, result *vm.ValueType, storeAddr uint32) []vm.Op {
	var code []vm.Op
	if result != nil {
		code = append(code, vm.Op{Kind: vm.OpConst, Imm: vm.I32(storeAddr)})
	}
	for _, p := range params {
		code = append(code, vm.Op{Kind: vm.OpConst, Imm: p})
	}
	code = append(code, vm.Op{Kind: vm.OpCallImport, U1: importIdx})
	if result == nil {
		code = append(code, vm.Op{Kind: vm.OpDrop})
		return code
	}
	size := uint64(4)
	if *result == vm.ValueTypeI64 {
		size = 8
	}
	return append(code, vm.Op{Kind: vm.OpStore, U2: size})
}

func i32Type() *vm.ValueType { t := vm.ValueTypeI32; return &t }
func i64Type() *vm.ValueType { t := vm.ValueTypeI64; return &t }

func i32params(n int) []vm.ValueType {
	out := make([]vm.ValueType, n)
	for i := range out {
		out[i] = vm.ValueTypeI32
	}
	return out
}

// module wraps a flat instruction sequence (built from callOp calls) into a
// runnable single-function Module with the given imports.
func module(imports []vm.Import, code []vm.Op) *vm.Module {
	code = append(append([]vm.Op{}, code...), vm.Op{Kind: vm.OpReturn})
	return &vm.Module{
		EntryFunc:   0,
		MemoryPages: 4,
		Imports:     imports,
		Functions:   []vm.Function{{Code: code}},
	}
}

// --- emit_message / extrinsic argument layouts -----------------------------

const (
	emitHashPtr  = 100
	emitBufPtr   = 200
	emitBodyPtr  = 300
	emitMsgIDOut = 400
	emitStatus   = 16
	nnOutPtr     = 500
	nnStatus     = 16
)

func emitMessageImport() vm.Import {
	return vm.Import{Name: "emit_message", Type: vm.FunctionType{Params: i32params(6), Results: []vm.ValueType{vm.ValueTypeI32}}}
}

func nextNotificationImport() vm.Import {
	return vm.Import{Name: "next_notification", Type: vm.FunctionType{Params: i32params(5), Results: []vm.ValueType{vm.ValueTypeI32}}}
}

func emitAnswerImport() vm.Import {
	return vm.Import{Name: "emit_answer", Type: vm.FunctionType{Params: i32params(3), Results: []vm.ValueType{vm.ValueTypeI32}}}
}

func registerImport(ifaceName string) vm.Import {
	return vm.Import{Interface: ifaceName, Name: "register", Type: vm.FunctionType{Results: []vm.ValueType{vm.ValueTypeI64}}}
}

// layoutEmitMessage writes hash/body/buf-list into mem ahead of running the
// process, at the fixed addresses emitMessageCall's constants reference.
func layoutEmitMessage(mem extrinsic.Memory, hash iface.Hash, body []byte) {
	_ = mem.WriteMemory(emitHashPtr, hash[:])

	_ = mem.WriteMemory(emitBodyPtr, body)
	buf := make([]byte, 8)
	putU32(buf, 0, emitBodyPtr)
	putU32(buf, 4, uint32(len(body)))
	_ = mem.WriteMemory(emitBufPtr, buf)
}

func emitMessageCall(needsAnswer, allowDelay bool) []vm.Op {
	na, ad := uint32(0), uint32(0)
	if needsAnswer {
		na = 1
	}
	if allowDelay {
		ad = 1
	}
	return callOp(0, []vm.Value{
		vm.I32(emitHashPtr), vm.I32(emitBufPtr), vm.I32(1), vm.I32(na), vm.I32(ad), vm.I32(emitMsgIDOut),
	}, i32Type(), emitStatus)
}

// nextNotificationCall waits on the single id at idPtr (an 8-byte memory
// slot the caller already knows holds a live message/registration id),
// writing the delivered notification at outPtr.
func nextNotificationCall(importIdx uint64, idPtr, outPtr uint32) []vm.Op {
	return callOp(importIdx, []vm.Value{
		vm.I32(idPtr), vm.I32(1), vm.I32(outPtr), vm.I32(64), vm.I32(1),
	}, i32Type(), nnStatus)
}

func emitAnswerCall(importIdx uint64, msgIDPtr, responsePtr, responseSize uint32) []vm.Op {
	return callOp(importIdx, []vm.Value{
		vm.I32(msgIDPtr), vm.I32(responsePtr), vm.I32(responseSize),
	}, i32Type(), nnStatus)
}

func readHeader(t *testing.T, mem extrinsic.Memory, outPtr, bodyLen uint32) (tag uint32, msgID uint64, body []byte) {
	t.Helper()
	raw, err := mem.ReadMemory(outPtr, 12+bodyLen)
	require.NoError(t, err)
	tag = binary.LittleEndian.Uint32(raw[0:4])
	msgID = binary.LittleEndian.Uint64(raw[4:12])
	body = raw[12:]
	return
}

func TestEmitMessageToUnregisteredInterfaceRejectsImmediately(t *testing.T) {
	c := scheduler.New(testConfig(), metrics.New())
	m := module([]vm.Import{emitMessageImport()}, emitMessageCall(true, false /* allow_delay=false -> immediate */))
	pid, err := c.Execute(m, "emitter", nil)
	require.NoError(t, err)

	mem := c.Memory(pid)
	layoutEmitMessage(mem, iface.HashName("nobody-home"), []byte("hi"))

	tickUntil(t, c, func(ev scheduler.Event) bool {
		pf, ok := ev.(scheduler.ProgramFinished)
		return ok && pf.Pid == pid
	})

	raw, err := mem.ReadMemory(emitStatus, 4)
	require.NoError(t, err)
	require.Equal(t, int32(-1), int32(binary.LittleEndian.Uint32(raw)), "emit_message must resume with a negative status on immediate Reject")
}

func TestRegisterEmitAnswerRoundTrip(t *testing.T) {
	c := scheduler.New(testConfig(), metrics.New())

	const ifaceName = "widgets"
	handlerCode := append(
		callOp(0, nil, i64Type(), 0), // register() -> regID at [0:8]
		nextNotificationCall(1, 0, nnOutPtr)...,
	)
	handlerCode = append(handlerCode, emitAnswerCall(2, nnOutPtr+4, 700, 2)...)
	handler := module([]vm.Import{registerImport(ifaceName), nextNotificationImport(), emitAnswerImport()}, handlerCode)

	hpid, err := c.Execute(handler, "handler", nil)
	require.NoError(t, err)
	require.NoError(t, c.Memory(hpid).WriteMemory(700, []byte("ok")))

	emitterCode := append(emitMessageCall(true, true), nextNotificationCall(1, emitMsgIDOut, 500)...)
	emitter := module([]vm.Import{emitMessageImport(), nextNotificationImport()}, emitterCode)
	epid, err := c.Execute(emitter, "emitter", nil)
	require.NoError(t, err)
	layoutEmitMessage(c.Memory(epid), iface.HashName(ifaceName), []byte("payload"))

	tickUntil(t, c, func(ev scheduler.Event) bool {
		pf, ok := ev.(scheduler.ProgramFinished)
		return ok && pf.Pid == epid
	})

	tag, _, body := readHeader(t, c.Memory(epid), 500, 2)
	require.Equal(t, uint32(2), tag, "emitter's next_notification should see a message-answer notification (tag 2)")
	require.Equal(t, "ok", string(body))
}

func TestHandlerDeathDrainsOwedAnswerAsError(t *testing.T) {
	c := scheduler.New(testConfig(), metrics.New())

	const ifaceName = "crashy"
	handlerCode := append(
		callOp(0, nil, i64Type(), 0),
		nextNotificationCall(1, 0, nnOutPtr)...,
	)
	// No emit_answer: the handler just returns after seeing the message,
	// dying with the message still owed.
	handler := module([]vm.Import{registerImport(ifaceName), nextNotificationImport()}, handlerCode)
	hpid, err := c.Execute(handler, "handler", nil)
	require.NoError(t, err)

	emitterCode := append(emitMessageCall(true, true), nextNotificationCall(1, emitMsgIDOut, 500)...)
	emitter := module([]vm.Import{emitMessageImport(), nextNotificationImport()}, emitterCode)
	epid, err := c.Execute(emitter, "emitter", nil)
	require.NoError(t, err)
	layoutEmitMessage(c.Memory(epid), iface.HashName(ifaceName), []byte("payload"))

	tickUntil(t, c, func(ev scheduler.Event) bool {
		pf, ok := ev.(scheduler.ProgramFinished)
		return ok && pf.Pid == hpid
	})
	tickUntil(t, c, func(ev scheduler.Event) bool {
		pf, ok := ev.(scheduler.ProgramFinished)
		return ok && pf.Pid == epid
	})

	tag, _, _ := readHeader(t, c.Memory(epid), 500, 0)
	require.Equal(t, uint32(0x80000000), tag&0x80000000, "a handler dying with the message still owed must surface as an error notification")
}

func TestInterfaceRegistryDeliversQueuedMessagesFIFO(t *testing.T) {
	c := scheduler.New(testConfig(), metrics.New())
	const ifaceName = "queue-test"

	e1Code := append(emitMessageCall(true, true), nextNotificationCall(1, emitMsgIDOut, 500)...)
	e1 := module([]vm.Import{emitMessageImport(), nextNotificationImport()}, e1Code)
	e1pid, err := c.Execute(e1, "e1", nil)
	require.NoError(t, err)
	layoutEmitMessage(c.Memory(e1pid), iface.HashName(ifaceName), []byte("first"))

	e2Code := append(emitMessageCall(true, true), nextNotificationCall(1, emitMsgIDOut, 500)...)
	e2 := module([]vm.Import{emitMessageImport(), nextNotificationImport()}, e2Code)
	e2pid, err := c.Execute(e2, "e2", nil)
	require.NoError(t, err)
	layoutEmitMessage(c.Memory(e2pid), iface.HashName(ifaceName), []byte("second"))

	var handlerCode []vm.Op
	handlerCode = append(handlerCode, callOp(0, nil, i64Type(), 0)...)
	handlerCode = append(handlerCode, nextNotificationCall(1, 0, 500)...)
	handlerCode = append(handlerCode, emitAnswerCall(2, 504, 700, 4)...)
	handlerCode = append(handlerCode, nextNotificationCall(1, 0, 600)...)
	handlerCode = append(handlerCode, emitAnswerCall(2, 604, 710, 4)...)
	handler := module([]vm.Import{registerImport(ifaceName), nextNotificationImport(), emitAnswerImport()}, handlerCode)
	hpid, err := c.Execute(handler, "handler", nil)
	require.NoError(t, err)
	require.NoError(t, c.Memory(hpid).WriteMemory(700, []byte("ans1")))
	require.NoError(t, c.Memory(hpid).WriteMemory(710, []byte("ans2")))

	tickUntil(t, c, func(ev scheduler.Event) bool {
		pf, ok := ev.(scheduler.ProgramFinished)
		return ok && pf.Pid == e1pid
	})
	tickUntil(t, c, func(ev scheduler.Event) bool {
		pf, ok := ev.(scheduler.ProgramFinished)
		return ok && pf.Pid == e2pid
	})

	_, _, body1 := readHeader(t, c.Memory(e1pid), 500, 4)
	_, _, body2 := readHeader(t, c.Memory(e2pid), 500, 4)
	require.Equal(t, "ans1", string(body1), "the first-emitted message must be the first one the handler's next_notification sees")
	require.Equal(t, "ans2", string(body2))
}

func TestKernelDebugMetricsRequestSurfacesToEmbedder(t *testing.T) {
	c := scheduler.New(testConfig(), metrics.New())

	emitterCode := append(emitMessageCall(true, true), nextNotificationCall(1, emitMsgIDOut, 500)...)
	emitter := module([]vm.Import{emitMessageImport(), nextNotificationImport()}, emitterCode)
	pid, err := c.Execute(emitter, "emitter", nil)
	require.NoError(t, err)
	layoutEmitMessage(c.Memory(pid), iface.HashName("kernel-debug-metrics"), nil)

	ev := tickUntil(t, c, func(ev scheduler.Event) bool {
		_, ok := ev.(scheduler.KernelDebugMetricsRequest)
		return ok
	})
	req := ev.(scheduler.KernelDebugMetricsRequest)
	req.Respond("redshirt_started_cpus 1\n")

	tickUntil(t, c, func(ev scheduler.Event) bool {
		pf, ok := ev.(scheduler.ProgramFinished)
		return ok && pf.Pid == pid
	})

	_, _, body := readHeader(t, c.Memory(pid), 500, uint32(len("redshirt_started_cpus 1\n")))
	require.Equal(t, "redshirt_started_cpus 1\n", string(body))
}

func TestEmbedderInterfaceSurfacesAsNativeInterfaceMessage(t *testing.T) {
	c := scheduler.New(testConfig(), metrics.New())
	c.RegisterEmbedderInterface("hardware-io")

	emitterCode := append(emitMessageCall(true, true), nextNotificationCall(1, emitMsgIDOut, 500)...)
	emitter := module([]vm.Import{emitMessageImport(), nextNotificationImport()}, emitterCode)
	pid, err := c.Execute(emitter, "emitter", nil)
	require.NoError(t, err)
	layoutEmitMessage(c.Memory(pid), iface.HashName("hardware-io"), []byte("read-port-3"))

	ev := tickUntil(t, c, func(ev scheduler.Event) bool {
		_, ok := ev.(scheduler.NativeInterfaceMessage)
		return ok
	})
	nim := ev.(scheduler.NativeInterfaceMessage)
	require.Equal(t, "hardware-io", nim.Interface)
	require.Equal(t, pid, nim.EmitterPid)
	require.Equal(t, "read-port-3", string(nim.Body))
	require.NotNil(t, nim.MessageID)

	c.AnswerMessage(*nim.MessageID, []byte("42"), nil)

	tickUntil(t, c, func(ev scheduler.Event) bool {
		pf, ok := ev.(scheduler.ProgramFinished)
		return ok && pf.Pid == pid
	})

	_, _, body := readHeader(t, c.Memory(pid), 500, 2)
	require.Equal(t, "42", string(body))
}
