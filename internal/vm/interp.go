package vm

import (
	"math"
	"math/bits"
)

// Run executes threadIndex until it finishes, suspends at an imported call,
// or traps (spec.md §4.1 "thread(index).run(value) -> Result<ExecOutcome,
// RunErr>"). value must be nil on a thread's first Run call, and must
// otherwise match the ValueType the previous suspension expects back
// (ErrBadValueTy).
func (v *Vm) Run(threadIndex int, value *Value) (ExecOutcome, error) {
	if v.poisoned {
		return nil, ErrPoisoned
	}
	th := v.threads[threadIndex]
	if th == nil {
		return nil, ErrNoSuchThread
	}
	if !th.mailboxFull {
		return nil, ErrNotRunnable
	}

	switch th.state {
	case threadFresh:
		if value != nil {
			return nil, ErrBadValueTy
		}
	case threadPaused:
		if (value == nil) != (th.pending.resultType == nil) {
			return nil, ErrBadValueTy
		}
		if value != nil {
			if value.Type() != *th.pending.resultType {
				return nil, ErrBadValueTy
			}
			th.pushValue(value.Bits())
		}
	default:
		return nil, ErrNotRunnable
	}

	// Running the thread consumes the mailbox (spec.md §3).
	th.mailboxFull = false
	th.mailboxHasValue = false
	th.state = threadPaused // provisional; overwritten below on finish/error

	outcome, trapErr := v.runUntilSuspend(th)
	if trapErr != nil {
		v.poisoned = true
		v.poisonedErr = trapErr
		th.state = threadErrored
		return Errored{ThreadIndex: threadIndex, Err: trapErr}, nil
	}
	switch o := outcome.(type) {
	case ThreadFinished:
		th.state = threadFinished
		delete(v.threads, threadIndex)
		if threadIndex == 0 {
			v.poisoned = true
			v.poisonedErr = nil
		}
	case Interrupted:
		resType := v.module.Imports[v.declImportOf(o.ImportIndex)].Type.Results
		if len(resType) == 1 {
			t := resType[0]
			th.pending = pendingImport{resultType: &t}
		} else {
			th.pending = pendingImport{resultType: nil}
		}
	}
	return outcome, nil
}

// declImportOf maps a resolved ImportIndex back to its declaration-order
// slot, needed to recover the callee signature for the BadValueTy check.
func (v *Vm) declImportOf(resolved int) int {
	for i, idx := range v.importIndex {
		if idx == resolved {
			return i
		}
	}
	return 0
}

func (v *Vm) runUntilSuspend(th *Thread) (ExecOutcome, *TrapError) {
	for {
		if len(th.frames) == 0 {
			return ThreadFinished{ThreadIndex: th.index, ReturnValue: nil, UserData: th.userData}, nil
		}
		frame := th.currentFrame()
		if frame.pc >= len(frame.fn.Code) {
			// Falling off the end of a function body is an implicit return.
			if out, done, trapErr := v.doReturn(th); done {
				return out, trapErr
			}
			continue
		}
		op := &frame.fn.Code[frame.pc]
		switch op.Kind {
		case OpUnreachable:
			return nil, trap("unreachable instruction executed")

		case OpBr:
			frame.pc = int(op.U1)
			continue

		case OpBrIf:
			if uint32(th.popValue()) != 0 {
				frame.pc = int(op.U1)
				continue
			}

		case OpBrTable:
			sel := int(uint32(th.popValue()))
			if sel < 0 || sel >= len(op.Targets)-1 {
				sel = len(op.Targets) - 1
			}
			frame.pc = int(op.Targets[sel])
			continue

		case OpReturn:
			if out, done, trapErr := v.doReturn(th); done {
				return out, trapErr
			}
			continue

		case OpCall:
			if int(op.U1) >= len(v.module.Functions) {
				return nil, trap("call: function index out of range")
			}
			callee := &v.module.Functions[op.U1]
			args := th.popN(len(callee.Type.Params))
			frame.pc++
			th.pushFrame(callee, args)
			continue

		case OpCallIndirect:
			sel := int32(uint32(th.popValue()))
			if sel < 0 || int(sel) >= len(v.table) {
				return nil, trap("call_indirect: index out of bounds")
			}
			fnIdx := v.table[sel]
			if fnIdx < 0 {
				return nil, trap("call_indirect: uninitialized table element")
			}
			callee := &v.module.Functions[fnIdx]
			if op.FuncType != nil && !sameSignature(*op.FuncType, callee.Type) {
				return nil, trap("call_indirect: signature mismatch")
			}
			args := th.popN(len(callee.Type.Params))
			frame.pc++
			th.pushFrame(callee, args)
			continue

		case OpCallImport:
			imp := &v.module.Imports[op.U1]
			raw := th.popN(len(imp.Type.Params))
			params := make([]Value, len(raw))
			for i, bits := range raw {
				params[i] = ValueFromRaw(imp.Type.Params[i], bits)
			}
			frame.pc++ // resume just past this call
			return Interrupted{
				ThreadIndex: th.index,
				ImportIndex: v.importIndex[op.U1],
				Params:      params,
			}, nil

		case OpDrop:
			th.popValue()

		case OpSelect:
			cond := th.popValue()
			b := th.popValue()
			a := th.popValue()
			if uint32(cond) != 0 {
				th.pushValue(a)
			} else {
				th.pushValue(b)
			}

		case OpLocalGet:
			th.pushValue(frame.locals[op.U1])

		case OpLocalSet:
			frame.locals[op.U1] = th.popValue()

		case OpLocalTee:
			v := th.stack[len(th.stack)-1]
			frame.locals[op.U1] = v

		case OpGlobalGet:
			th.pushValue(v.global[op.U1].Bits())

		case OpGlobalSet:
			v.global[op.U1] = ValueFromRaw(v.global[op.U1].Type(), th.popValue())

		case OpLoad:
			addr := uint64(uint32(th.popValue())) + op.U1
			raw, err := v.readLoad(addr, op.U2, op.Signed)
			if err != nil {
				return nil, trap(err.Error())
			}
			th.pushValue(raw)

		case OpStore:
			val := th.popValue()
			addr := uint64(uint32(th.popValue())) + op.U1
			if err := v.writeStore(addr, op.U2, val); err != nil {
				return nil, trap(err.Error())
			}

		case OpMemorySize:
			th.pushValue(uint64(uint32(len(v.memory) / wasmPageSize)))

		case OpMemoryGrow:
			delta := uint32(th.popValue())
			old := uint32(len(v.memory) / wasmPageSize)
			v.memory = append(v.memory, make([]byte, uint64(delta)*wasmPageSize)...)
			th.pushValue(uint64(old))

		case OpConst:
			th.pushValue(op.Imm.Bits())

		default:
			if err := v.execNumeric(th, op); err != nil {
				return nil, err
			}
		}
		frame.pc++
	}
}

func sameSignature(a, b FunctionType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}

// doReturn pops the current frame. If no frames remain, the thread is
// finished. The bool is true when the caller's loop should stop and return
// the given outcome (possibly nil outcome/err when execution should
// continue in the caller frame).
func (v *Vm) doReturn(th *Thread) (ExecOutcome, bool, *TrapError) {
	popped := th.popFrame()
	if len(th.frames) == 0 {
		var rv *Value
		if results := popped.fn.Type.Results; len(results) == 1 {
			val := ValueFromRaw(results[0], th.popValue())
			rv = &val
		}
		return ThreadFinished{ThreadIndex: th.index, UserData: th.userData, ReturnValue: rv}, true, nil
	}
	return nil, false, nil
}

func (v *Vm) readLoad(addr uint64, size uint64, signed bool) (uint64, error) {
	if addr+size > uint64(len(v.memory)) {
		return 0, trap("memory access out of bounds")
	}
	b := v.memory[addr : addr+size]
	var u uint64
	for i := int(size) - 1; i >= 0; i-- {
		u = u<<8 | uint64(b[i])
	}
	if signed && size < 8 {
		shift := 64 - size*8
		return uint64(int64(u<<shift) >> shift), nil
	}
	return u, nil
}

func (v *Vm) writeStore(addr, size, val uint64) error {
	if addr+size > uint64(len(v.memory)) {
		return trap("memory access out of bounds")
	}
	b := v.memory[addr : addr+size]
	for i := 0; i < int(size); i++ {
		b[i] = byte(val)
		val >>= 8
	}
	return nil
}

// execNumeric dispatches the arithmetic/comparison/conversion op families,
// generalized over Op.Num the way a real opcode byte already encodes
// (operation, type) in Wasm (e.g. 0x6a is i32.add).
func (v *Vm) execNumeric(th *Thread, op *Op) *TrapError {
	switch op.Num {
	case ValueTypeI32:
		return execIntOp(th, op, 32)
	case ValueTypeI64:
		return execIntOp(th, op, 64)
	case ValueTypeF32:
		return execF32Op(th, op)
	case ValueTypeF64:
		return execF64Op(th, op)
	default:
		return execConversion(th, op)
	}
}

func execIntOp(th *Thread, op *Op, width int) *TrapError {
	mask := uint64(math.MaxUint32)
	if width == 64 {
		mask = math.MaxUint64
	}
	unary := func(f func(uint64) uint64) {
		a := th.popValue() & mask
		th.pushValue(f(a) & mask)
	}
	binary := func(f func(a, b uint64) uint64) {
		b := th.popValue() & mask
		a := th.popValue() & mask
		th.pushValue(f(a, b) & mask)
	}
	cmp := func(f func(a, b uint64) bool) {
		b := th.popValue() & mask
		a := th.popValue() & mask
		th.pushValue(b2u(f(a, b)))
	}
	signExt := func(v uint64) int64 {
		if width == 32 {
			return int64(int32(uint32(v)))
		}
		return int64(v)
	}

	switch op.Kind {
	case OpEqz:
		unary(func(a uint64) uint64 { return b2u(a == 0) })
	case OpEq:
		cmp(func(a, b uint64) bool { return a == b })
	case OpNe:
		cmp(func(a, b uint64) bool { return a != b })
	case OpLtS:
		cmp(func(a, b uint64) bool { return signExt(a) < signExt(b) })
	case OpLtU:
		cmp(func(a, b uint64) bool { return a < b })
	case OpGtS:
		cmp(func(a, b uint64) bool { return signExt(a) > signExt(b) })
	case OpGtU:
		cmp(func(a, b uint64) bool { return a > b })
	case OpLeS:
		cmp(func(a, b uint64) bool { return signExt(a) <= signExt(b) })
	case OpLeU:
		cmp(func(a, b uint64) bool { return a <= b })
	case OpGeS:
		cmp(func(a, b uint64) bool { return signExt(a) >= signExt(b) })
	case OpGeU:
		cmp(func(a, b uint64) bool { return a >= b })
	case OpClz:
		unary(func(a uint64) uint64 {
			if width == 32 {
				return uint64(bits.LeadingZeros32(uint32(a)))
			}
			return uint64(bits.LeadingZeros64(a))
		})
	case OpCtz:
		unary(func(a uint64) uint64 {
			if width == 32 {
				return uint64(bits.TrailingZeros32(uint32(a)))
			}
			return uint64(bits.TrailingZeros64(a))
		})
	case OpPopcnt:
		unary(func(a uint64) uint64 { return uint64(bits.OnesCount64(a)) })
	case OpAdd:
		binary(func(a, b uint64) uint64 { return a + b })
	case OpSub:
		binary(func(a, b uint64) uint64 { return a - b })
	case OpMul:
		binary(func(a, b uint64) uint64 { return a * b })
	case OpDivS:
		b := th.popValue() & mask
		a := th.popValue() & mask
		if b == 0 {
			return trap("integer division by zero")
		}
		th.pushValue(uint64(signExt(a)/signExt(b)) & mask)
	case OpDivU:
		b := th.popValue() & mask
		a := th.popValue() & mask
		if b == 0 {
			return trap("integer division by zero")
		}
		th.pushValue((a / b) & mask)
	case OpRemS:
		b := th.popValue() & mask
		a := th.popValue() & mask
		if b == 0 {
			return trap("integer division by zero")
		}
		th.pushValue(uint64(signExt(a)%signExt(b)) & mask)
	case OpRemU:
		b := th.popValue() & mask
		a := th.popValue() & mask
		if b == 0 {
			return trap("integer division by zero")
		}
		th.pushValue((a % b) & mask)
	case OpAnd:
		binary(func(a, b uint64) uint64 { return a & b })
	case OpOr:
		binary(func(a, b uint64) uint64 { return a | b })
	case OpXor:
		binary(func(a, b uint64) uint64 { return a ^ b })
	case OpShl, OpShrS, OpShrU, OpRotl, OpRotr:
		b := th.popValue() & mask
		a := th.popValue() & mask
		shamt := uint(b) % uint(width)
		var r uint64
		switch op.Kind {
		case OpShl:
			r = (a << shamt) & mask
		case OpShrU:
			r = (a >> shamt) & mask
		case OpShrS:
			r = uint64(signExt(a)>>shamt) & mask
		case OpRotl:
			if width == 32 {
				r = uint64(bits.RotateLeft32(uint32(a), int(shamt)))
			} else {
				r = bits.RotateLeft64(a, int(shamt))
			}
		case OpRotr:
			if width == 32 {
				r = uint64(bits.RotateLeft32(uint32(a), -int(shamt)))
			} else {
				r = bits.RotateLeft64(a, -int(shamt))
			}
		}
		th.pushValue(r & mask)
	default:
		return trap("unsupported integer op")
	}
	return nil
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func execF32Op(th *Thread, op *Op) *TrapError {
	pop := func() float32 { return f32frombits(uint32(th.popValue())) }
	push := func(v float32) { th.pushValue(uint64(f32bits(v))) }
	pushBool := func(v bool) { th.pushValue(b2u(v)) }

	switch op.Kind {
	case OpEq:
		b, a := pop(), pop()
		pushBool(a == b)
	case OpNe:
		b, a := pop(), pop()
		pushBool(a != b)
	case OpLt:
		b, a := pop(), pop()
		pushBool(a < b)
	case OpGt:
		b, a := pop(), pop()
		pushBool(a > b)
	case OpLe:
		b, a := pop(), pop()
		pushBool(a <= b)
	case OpGe:
		b, a := pop(), pop()
		pushBool(a >= b)
	case OpAbs:
		push(float32(math.Abs(float64(pop()))))
	case OpNeg:
		push(-pop())
	case OpCeil:
		push(float32(math.Ceil(float64(pop()))))
	case OpFloor:
		push(float32(math.Floor(float64(pop()))))
	case OpTrunc:
		push(float32(math.Trunc(float64(pop()))))
	case OpNearest:
		push(float32(math.RoundToEven(float64(pop()))))
	case OpSqrt:
		push(float32(math.Sqrt(float64(pop()))))
	case OpAdd:
		b, a := pop(), pop()
		push(a + b)
	case OpSub:
		b, a := pop(), pop()
		push(a - b)
	case OpMul:
		b, a := pop(), pop()
		push(a * b)
	case OpDiv:
		b, a := pop(), pop()
		push(a / b)
	case OpMin:
		b, a := pop(), pop()
		push(float32(WasmCompatMin(float64(a), float64(b))))
	case OpMax:
		b, a := pop(), pop()
		push(float32(WasmCompatMax(float64(a), float64(b))))
	case OpCopysign:
		b, a := pop(), pop()
		push(float32(math.Copysign(float64(a), float64(b))))
	default:
		return trap("unsupported f32 op")
	}
	return nil
}

func execF64Op(th *Thread, op *Op) *TrapError {
	pop := func() float64 { return f64frombits(th.popValue()) }
	push := func(v float64) { th.pushValue(f64bits(v)) }
	pushBool := func(v bool) { th.pushValue(b2u(v)) }

	switch op.Kind {
	case OpEq:
		b, a := pop(), pop()
		pushBool(a == b)
	case OpNe:
		b, a := pop(), pop()
		pushBool(a != b)
	case OpLt:
		b, a := pop(), pop()
		pushBool(a < b)
	case OpGt:
		b, a := pop(), pop()
		pushBool(a > b)
	case OpLe:
		b, a := pop(), pop()
		pushBool(a <= b)
	case OpGe:
		b, a := pop(), pop()
		pushBool(a >= b)
	case OpAbs:
		push(math.Abs(pop()))
	case OpNeg:
		push(-pop())
	case OpCeil:
		push(math.Ceil(pop()))
	case OpFloor:
		push(math.Floor(pop()))
	case OpTrunc:
		push(math.Trunc(pop()))
	case OpNearest:
		push(math.RoundToEven(pop()))
	case OpSqrt:
		push(math.Sqrt(pop()))
	case OpAdd:
		b, a := pop(), pop()
		push(a + b)
	case OpSub:
		b, a := pop(), pop()
		push(a - b)
	case OpMul:
		b, a := pop(), pop()
		push(a * b)
	case OpDiv:
		b, a := pop(), pop()
		push(a / b)
	case OpMin:
		b, a := pop(), pop()
		push(WasmCompatMin(a, b))
	case OpMax:
		b, a := pop(), pop()
		push(WasmCompatMax(a, b))
	case OpCopysign:
		b, a := pop(), pop()
		push(math.Copysign(a, b))
	default:
		return trap("unsupported f64 op")
	}
	return nil
}

func execConversion(th *Thread, op *Op) *TrapError {
	switch op.Kind {
	case OpI32WrapI64:
		th.pushValue(uint64(uint32(th.popValue())))
	case OpI64ExtendI32S:
		th.pushValue(uint64(int64(int32(uint32(th.popValue())))))
	case OpI64ExtendI32U:
		th.pushValue(uint64(uint32(th.popValue())))
	case OpI32TruncF32S:
		th.pushValue(uint64(uint32(int32(f32frombits(uint32(th.popValue()))))))
	case OpI32TruncF32U:
		th.pushValue(uint64(uint32(f32frombits(uint32(th.popValue())))))
	case OpI32TruncF64S:
		th.pushValue(uint64(uint32(int32(f64frombits(th.popValue())))))
	case OpI32TruncF64U:
		th.pushValue(uint64(uint32(f64frombits(th.popValue()))))
	case OpI64TruncF32S:
		th.pushValue(uint64(int64(f32frombits(uint32(th.popValue())))))
	case OpI64TruncF32U:
		th.pushValue(uint64(f32frombits(uint32(th.popValue()))))
	case OpI64TruncF64S:
		th.pushValue(uint64(int64(f64frombits(th.popValue()))))
	case OpI64TruncF64U:
		th.pushValue(uint64(f64frombits(th.popValue())))
	case OpF32ConvertI32S:
		th.pushValue(uint64(f32bits(float32(int32(uint32(th.popValue()))))))
	case OpF32ConvertI32U:
		th.pushValue(uint64(f32bits(float32(uint32(th.popValue())))))
	case OpF32ConvertI64S:
		th.pushValue(uint64(f32bits(float32(int64(th.popValue())))))
	case OpF32ConvertI64U:
		th.pushValue(uint64(f32bits(float32(th.popValue()))))
	case OpF64ConvertI32S:
		th.pushValue(f64bits(float64(int32(uint32(th.popValue())))))
	case OpF64ConvertI32U:
		th.pushValue(f64bits(float64(uint32(th.popValue()))))
	case OpF64ConvertI64S:
		th.pushValue(f64bits(float64(int64(th.popValue()))))
	case OpF64ConvertI64U:
		th.pushValue(f64bits(float64(th.popValue())))
	case OpF32DemoteF64:
		th.pushValue(uint64(f32bits(float32(f64frombits(th.popValue())))))
	case OpF64PromoteF32:
		th.pushValue(f64bits(float64(f32frombits(uint32(th.popValue())))))
	case OpI32ReinterpretF32, OpI64ReinterpretF64, OpF32ReinterpretI32, OpF64ReinterpretI64:
		// Bit patterns are already stored untyped on the stack; reinterpret is a no-op.
	default:
		return trap("unsupported conversion op")
	}
	return nil
}
