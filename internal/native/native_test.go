package native_test

import (
	"context"
	"testing"
	"time"

	"github.com/redshirt-os/kernel/internal/idgen"
	"github.com/redshirt-os/kernel/internal/native"
	"github.com/stretchr/testify/require"
)

func recvAnswer(t *testing.T, b *native.Bridge) native.Answer {
	t.Helper()
	select {
	case a := <-b.Answers():
		return a
	case <-time.After(time.Second):
		t.Fatal("recvAnswer: no answer posted within timeout")
		return native.Answer{}
	}
}

func TestDispatchUnknownTagAnswersError(t *testing.T) {
	b := native.NewBridge(4)

	b.Dispatch(context.Background(), "nope", idgen.MessageId(1), nil)

	a := recvAnswer(t, b)
	require.ErrorIs(t, a.Err, native.ErrNoSuchNativeInterface)
}

func TestMonotonicClockHandlerAnswers(t *testing.T) {
	b := native.NewBridge(4)
	b.Register("time", native.NewMonotonicClock())

	b.Dispatch(context.Background(), "time", idgen.MessageId(1), nil)

	a := recvAnswer(t, b)
	require.NoError(t, a.Err)
	require.Len(t, a.Response, 8)
}

func TestRandomSourceRejectsShortRequest(t *testing.T) {
	b := native.NewBridge(4)
	b.Register("random", native.RandomSource{})

	b.Dispatch(context.Background(), "random", idgen.MessageId(1), []byte{1})

	a := recvAnswer(t, b)
	require.ErrorIs(t, a.Err, native.ErrRandomRequestTooShort)
}
