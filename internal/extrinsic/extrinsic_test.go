package extrinsic_test

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/redshirt-os/kernel/internal/extrinsic"
	"github.com/redshirt-os/kernel/internal/iface"
	"github.com/redshirt-os/kernel/internal/vm"
	"github.com/stretchr/testify/require"
)

var errOOB = errors.New("fakeMemory: out of range")

type fakeMemory struct{ buf []byte }

func newFakeMemory(size int) *fakeMemory { return &fakeMemory{buf: make([]byte, size)} }

func (m *fakeMemory) ReadMemory(offset, size uint32) ([]byte, error) {
	end := uint64(offset) + uint64(size)
	if end > uint64(len(m.buf)) {
		return nil, errOOB
	}
	out := make([]byte, size)
	copy(out, m.buf[offset:end])
	return out, nil
}

func (m *fakeMemory) WriteMemory(offset uint32, bytes []byte) error {
	end := uint64(offset) + uint64(len(bytes))
	if end > uint64(len(m.buf)) {
		return errOOB
	}
	copy(m.buf[offset:end], bytes)
	return nil
}

func TestParseEmitMessageConcatenatesBuffers(t *testing.T) {
	mem := newFakeMemory(256)
	var wantHash iface.Hash
	binary.LittleEndian.PutUint64(wantHash[0:8], 0xdeadbeef)
	require.NoError(t, mem.WriteMemory(0, wantHash[:]))

	require.NoError(t, mem.WriteMemory(100, []byte("hello ")))
	require.NoError(t, mem.WriteMemory(120, []byte("world")))

	binary.LittleEndian.PutUint32(mem.buf[40:44], 100)
	binary.LittleEndian.PutUint32(mem.buf[44:48], 6)
	binary.LittleEndian.PutUint32(mem.buf[48:52], 120)
	binary.LittleEndian.PutUint32(mem.buf[52:56], 5)

	params := []vm.Value{
		vm.I32(0),  // interface_hash_ptr
		vm.I32(40), // bufs_list_ptr
		vm.I32(2),  // num_bufs
		vm.I32(1),  // needs_answer
		vm.I32(0),  // allow_delay
		vm.I32(50), // message_id_out_ptr
	}

	call, err := extrinsic.Parse(extrinsic.KindEmitMessage, mem, params)
	require.NoError(t, err)

	em, ok := call.(extrinsic.EmitMessage)
	require.True(t, ok)
	require.Equal(t, wantHash, em.InterfaceHash)
	require.Equal(t, "hello world", string(em.Body))
	require.True(t, em.NeedsAnswer)
	require.False(t, em.AllowDelay)
}

func TestParseEmitMessageRejectsOversizedBody(t *testing.T) {
	mem := newFakeMemory(64)
	params := []vm.Value{
		vm.I32(0), vm.I32(40), vm.I32(1), vm.I32(0), vm.I32(0), vm.I32(0),
	}
	binary.LittleEndian.PutUint32(mem.buf[40:44], 0)
	binary.LittleEndian.PutUint32(mem.buf[44:48], extrinsic.MaxMessageBodyBytes+1)

	_, err := extrinsic.Parse(extrinsic.KindEmitMessage, mem, params)
	require.ErrorIs(t, err, extrinsic.ErrBadParameter)
}

func TestParseNextNotificationRejectsOverCap(t *testing.T) {
	mem := newFakeMemory(64)
	params := []vm.Value{
		vm.I32(0), vm.I32(extrinsic.MaxNotifIDs + 1), vm.I32(0), vm.I32(0), vm.I32(0),
	}
	_, err := extrinsic.Parse(extrinsic.KindNextNotification, mem, params)
	require.ErrorIs(t, err, extrinsic.ErrBadParameter)
}

func TestParseNextNotificationDecodesFlags(t *testing.T) {
	mem := newFakeMemory(64)
	binary.LittleEndian.PutUint64(mem.buf[0:8], 42)
	params := []vm.Value{
		vm.I32(0), vm.I32(1), vm.I32(16), vm.I32(32), vm.I32(1),
	}
	call, err := extrinsic.Parse(extrinsic.KindNextNotification, mem, params)
	require.NoError(t, err)
	nn, ok := call.(extrinsic.NextNotification)
	require.True(t, ok)
	require.True(t, nn.Block)
	require.Len(t, nn.NotifIDs, 1)
	require.EqualValues(t, 42, nn.NotifIDs[0])
}

func TestEncodeNotificationTruncates(t *testing.T) {
	mem := newFakeMemory(64)
	truncated, err := extrinsic.EncodeNotification(mem, 0, 8, 1, 99, []byte("this body is long"))
	require.NoError(t, err)
	require.True(t, truncated)
}

func TestEncodeNotificationFits(t *testing.T) {
	mem := newFakeMemory(64)
	truncated, err := extrinsic.EncodeNotification(mem, 0, 64, 1, 99, []byte("ok"))
	require.NoError(t, err)
	require.False(t, truncated)
}
