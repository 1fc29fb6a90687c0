// Package extrinsic decodes the five kernel-known imported functions
// (spec.md §4.5 "Extrinsic Parser") from the raw i32/i64 parameter vector a
// suspended thread passed, plus whatever its process's linear memory holds
// at the pointers those parameters name.
package extrinsic

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/redshirt-os/kernel/internal/idgen"
	"github.com/redshirt-os/kernel/internal/iface"
	"github.com/redshirt-os/kernel/internal/vm"
)

// ErrBadParameter is the BadParameter family spec.md §4.5 describes: "bad
// pointer, oversized buffer, malformed message id". The scheduler converts
// it into a trap of the offending program (spec.md §4.6 "Failure semantics
// summary").
var ErrBadParameter = errors.New("extrinsic: bad parameter")

// MaxNotifIDs caps next_notification's wait list (spec.md §4.5 "recommended
// 512").
const MaxNotifIDs = 512

// MaxMessageBodyBytes caps emit_message's concatenated body (spec.md §4.5
// "recommended 16 MiB").
const MaxMessageBodyBytes = 16 * 1024 * 1024

// Memory is the subset of process.Process this package needs: raw linear
// memory access, never the VM itself (spec.md §5 "the kernel may read and
// write [memory] ... only while the VM is not running").
type Memory interface {
	ReadMemory(offset, size uint32) ([]byte, error)
	WriteMemory(offset uint32, bytes []byte) error
}

// Kind identifies which of the five extrinsics a suspended call is.
// Mapping an import index to a Kind is the Scheduler Core's job (spec.md
// §4.6 step 3, "classify via the external indices table"); this package
// only decodes once the kind is known.
type Kind int

const (
	KindNextNotification Kind = iota
	KindEmitMessage
	KindEmitAnswer
	KindEmitMessageError
	KindCancelMessage
)

// Call is one decoded extrinsic invocation.
type Call interface{ extrinsicCall() }

// NextNotification is spec.md §4.5's next_notification: wait for any of
// NotifIDs to be answered, writing the winning notification into
// [OutPtr, OutPtr+OutSize). Block is the `flags & 1` bit.
type NextNotification struct {
	NotifIDs []idgen.MessageId
	OutPtr   uint32
	OutSize  uint32
	Block    bool
}

func (NextNotification) extrinsicCall() {}

// EmitMessage is spec.md §4.5's emit_message.
type EmitMessage struct {
	InterfaceHash   iface.Hash
	Body            []byte
	NeedsAnswer     bool
	AllowDelay      bool
	MessageIDOutPtr uint32
}

func (EmitMessage) extrinsicCall() {}

// EmitAnswer is spec.md §4.5's emit_answer.
type EmitAnswer struct {
	MsgID    idgen.MessageId
	Response []byte
}

func (EmitAnswer) extrinsicCall() {}

// EmitMessageError is spec.md §4.5's emit_message_error.
type EmitMessageError struct {
	MsgID idgen.MessageId
}

func (EmitMessageError) extrinsicCall() {}

// CancelMessage is spec.md §4.5's cancel_message.
type CancelMessage struct {
	MsgID idgen.MessageId
}

func (CancelMessage) extrinsicCall() {}

// Parse decodes params (as the caller's own import declared them, all
// i32/i64) and, where a parameter is a pointer, reads through mem.
func Parse(kind Kind, mem Memory, params []vm.Value) (Call, error) {
	switch kind {
	case KindNextNotification:
		return parseNextNotification(mem, params)
	case KindEmitMessage:
		return parseEmitMessage(mem, params)
	case KindEmitAnswer:
		return parseEmitAnswer(mem, params)
	case KindEmitMessageError:
		return parseEmitMessageError(mem, params)
	case KindCancelMessage:
		return parseCancelMessage(mem, params)
	default:
		return nil, fmt.Errorf("%w: unknown extrinsic kind %d", ErrBadParameter, kind)
	}
}

func i32param(params []vm.Value, i int) (uint32, error) {
	if i >= len(params) {
		return 0, fmt.Errorf("%w: missing parameter %d", ErrBadParameter, i)
	}
	return params[i].I32(), nil
}

func readMsgID(mem Memory, ptr uint32) (idgen.MessageId, error) {
	raw, err := mem.ReadMemory(ptr, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: message id pointer: %v", ErrBadParameter, err)
	}
	id := idgen.MessageId(binary.LittleEndian.Uint64(raw))
	if id == 0 {
		return 0, fmt.Errorf("%w: malformed message id (zero)", ErrBadParameter)
	}
	return id, nil
}

// parseNextNotification decodes (notif_ids_ptr, notif_ids_len, out_ptr,
// out_size, flags).
func parseNextNotification(mem Memory, params []vm.Value) (Call, error) {
	notifIDsPtr, err := i32param(params, 0)
	if err != nil {
		return nil, err
	}
	notifIDsLen, err := i32param(params, 1)
	if err != nil {
		return nil, err
	}
	outPtr, err := i32param(params, 2)
	if err != nil {
		return nil, err
	}
	outSize, err := i32param(params, 3)
	if err != nil {
		return nil, err
	}
	flags, err := i32param(params, 4)
	if err != nil {
		return nil, err
	}

	if notifIDsLen > MaxNotifIDs {
		return nil, fmt.Errorf("%w: notif_ids_len %d exceeds cap %d", ErrBadParameter, notifIDsLen, MaxNotifIDs)
	}

	raw, err := mem.ReadMemory(notifIDsPtr, notifIDsLen*8)
	if err != nil {
		return nil, fmt.Errorf("%w: notif_ids buffer: %v", ErrBadParameter, err)
	}
	ids := make([]idgen.MessageId, notifIDsLen)
	for i := range ids {
		ids[i] = idgen.MessageId(binary.LittleEndian.Uint64(raw[i*8 : i*8+8]))
	}

	return NextNotification{
		NotifIDs: ids,
		OutPtr:   outPtr,
		OutSize:  outSize,
		Block:    flags&1 != 0,
	}, nil
}

// parseEmitMessage decodes (interface_hash_ptr, bufs_list_ptr, num_bufs,
// needs_answer, allow_delay, message_id_out_ptr).
func parseEmitMessage(mem Memory, params []vm.Value) (Call, error) {
	hashPtr, err := i32param(params, 0)
	if err != nil {
		return nil, err
	}
	bufsListPtr, err := i32param(params, 1)
	if err != nil {
		return nil, err
	}
	numBufs, err := i32param(params, 2)
	if err != nil {
		return nil, err
	}
	needsAnswer, err := i32param(params, 3)
	if err != nil {
		return nil, err
	}
	allowDelay, err := i32param(params, 4)
	if err != nil {
		return nil, err
	}
	msgIDOutPtr, err := i32param(params, 5)
	if err != nil {
		return nil, err
	}

	hashRaw, err := mem.ReadMemory(hashPtr, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: interface hash pointer: %v", ErrBadParameter, err)
	}
	var hash iface.Hash
	copy(hash[:], hashRaw)

	listRaw, err := mem.ReadMemory(bufsListPtr, numBufs*8)
	if err != nil {
		return nil, fmt.Errorf("%w: bufs list: %v", ErrBadParameter, err)
	}

	body := make([]byte, 0, numBufs*64)
	for i := uint32(0); i < numBufs; i++ {
		bufPtr := binary.LittleEndian.Uint32(listRaw[i*8 : i*8+4])
		bufLen := binary.LittleEndian.Uint32(listRaw[i*8+4 : i*8+8])
		if uint64(len(body))+uint64(bufLen) > MaxMessageBodyBytes {
			return nil, fmt.Errorf("%w: message body exceeds cap %d bytes", ErrBadParameter, MaxMessageBodyBytes)
		}
		chunk, err := mem.ReadMemory(bufPtr, bufLen)
		if err != nil {
			return nil, fmt.Errorf("%w: message buffer %d: %v", ErrBadParameter, i, err)
		}
		body = append(body, chunk...)
	}

	return EmitMessage{
		InterfaceHash:   hash,
		Body:            body,
		NeedsAnswer:     needsAnswer != 0,
		AllowDelay:      allowDelay != 0,
		MessageIDOutPtr: msgIDOutPtr,
	}, nil
}

// parseEmitAnswer decodes (msg_id_ptr, response_ptr, response_size).
func parseEmitAnswer(mem Memory, params []vm.Value) (Call, error) {
	msgIDPtr, err := i32param(params, 0)
	if err != nil {
		return nil, err
	}
	responsePtr, err := i32param(params, 1)
	if err != nil {
		return nil, err
	}
	responseSize, err := i32param(params, 2)
	if err != nil {
		return nil, err
	}

	msgID, err := readMsgID(mem, msgIDPtr)
	if err != nil {
		return nil, err
	}
	if responseSize > MaxMessageBodyBytes {
		return nil, fmt.Errorf("%w: response_size exceeds cap %d bytes", ErrBadParameter, MaxMessageBodyBytes)
	}
	response, err := mem.ReadMemory(responsePtr, responseSize)
	if err != nil {
		return nil, fmt.Errorf("%w: response buffer: %v", ErrBadParameter, err)
	}

	return EmitAnswer{MsgID: msgID, Response: response}, nil
}

// parseEmitMessageError decodes (msg_id_ptr).
func parseEmitMessageError(mem Memory, params []vm.Value) (Call, error) {
	msgIDPtr, err := i32param(params, 0)
	if err != nil {
		return nil, err
	}
	msgID, err := readMsgID(mem, msgIDPtr)
	if err != nil {
		return nil, err
	}
	return EmitMessageError{MsgID: msgID}, nil
}

// parseCancelMessage decodes (msg_id_ptr).
func parseCancelMessage(mem Memory, params []vm.Value) (Call, error) {
	msgIDPtr, err := i32param(params, 0)
	if err != nil {
		return nil, err
	}
	msgID, err := readMsgID(mem, msgIDPtr)
	if err != nil {
		return nil, err
	}
	return CancelMessage{MsgID: msgID}, nil
}

// EncodeNotification writes (tag, message-id, body) into mem at
// [outPtr, outPtr+outSize), truncating if the encoded notification would
// not fit, and reports whether truncation occurred (spec.md §4.6
// "Notification delivery", "truncating if it exceeds out_size and
// signalling the truncation to the thread").
func EncodeNotification(mem Memory, outPtr, outSize uint32, tag uint32, msgID idgen.MessageId, body []byte) (truncated bool, err error) {
	header := make([]byte, 12)
	binary.LittleEndian.PutUint32(header[0:4], tag)
	binary.LittleEndian.PutUint64(header[4:12], uint64(msgID))
	full := append(header, body...)

	if uint32(len(full)) > outSize {
		full = full[:outSize]
		truncated = true
	}
	if err := mem.WriteMemory(outPtr, full); err != nil {
		return false, fmt.Errorf("%w: notification out buffer: %v", ErrBadParameter, err)
	}
	return truncated, nil
}
