// Package native is the Native Interface Bridge (spec.md §4.7): a fixed set
// of interfaces (time, random, hardware-io, kernel-log) whose deliveries go
// straight to kernel-internal handlers instead of a Wasm process, answered
// back into the Scheduler Core by queueing on Answers() rather than calling
// back directly.
//
// Grounded on the teacher's worker-pool-with-a-cap idiom (DESIGN.md): where
// the teacher bounds concurrent compiler goroutines, this bounds concurrent
// native-handler goroutines with golang.org/x/sync/semaphore so a flood of
// e.g. random-number requests can't spawn unbounded goroutines.
package native

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"

	"github.com/redshirt-os/kernel/internal/idgen"
	"github.com/redshirt-os/kernel/internal/klog"
)

// ErrNoSuchNativeInterface is the answer given when a message names a tag
// no Handler was registered for.
var ErrNoSuchNativeInterface = errors.New("native: no handler registered for this interface")

// Handler answers one native interface message body with a response or an
// error (spec.md §4.7 "Result<bytes,()>").
type Handler interface {
	Handle(ctx context.Context, body []byte) ([]byte, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, body []byte) ([]byte, error)

func (f HandlerFunc) Handle(ctx context.Context, body []byte) ([]byte, error) { return f(ctx, body) }

// Answer is one completed native call. Handle runs on its own goroutine with
// no happens-before relationship to the scheduler's tick loop, so a
// completion is never applied to VM state directly from that goroutine;
// instead it is queued here for the tick loop to drain under its own lock,
// before calling Vm.Run again (spec.md §5 "the kernel may read and write
// [VM state] ... only while the VM is not running, i.e. from the scheduler
// thread between run() calls").
type Answer struct {
	MsgID    idgen.MessageId
	Response []byte
	Err      error
}

// Bridge routes messages delivered to native interfaces to their Handler,
// bounding concurrency with a weighted semaphore.
type Bridge struct {
	handlers map[string]Handler
	sem      *semaphore.Weighted
	answers  chan Answer
}

// NewBridge constructs a Bridge that runs at most maxConcurrent handler
// invocations at once. Completions are available from Answers.
func NewBridge(maxConcurrent int64) *Bridge {
	return &Bridge{
		handlers: map[string]Handler{},
		sem:      semaphore.NewWeighted(maxConcurrent),
		answers:  make(chan Answer, 256),
	}
}

// Register installs h as the handler for the native interface tag (spec.md
// §4.7's "hardware-I/O, time, random, kernel-log" or an embedder-supplied
// extra). Intended to be called once per tag at boot.
func (b *Bridge) Register(tag string, h Handler) {
	b.handlers[tag] = h
}

// Answers is the channel every Dispatch completion is posted to. The
// scheduler drains it at the start of each tick, before picking a thread to
// run, so a native handler's goroutine never calls into a Thread itself.
func (b *Bridge) Answers() <-chan Answer {
	return b.answers
}

// Dispatch delivers a message to tag's handler on its own goroutine, capped
// by the Bridge's semaphore, and posts the result to Answers. Native
// handlers may themselves emit messages on other interfaces (spec.md §4.7
// "they go through the exact same path as Wasm-emitted messages"); that
// happens inside Handle through whatever emit path the handler itself
// holds, not through this package.
func (b *Bridge) Dispatch(ctx context.Context, tag string, msgID idgen.MessageId, body []byte) {
	h, ok := b.handlers[tag]
	if !ok {
		b.answers <- Answer{MsgID: msgID, Err: ErrNoSuchNativeInterface}
		return
	}
	go func() {
		if err := b.sem.Acquire(ctx, 1); err != nil {
			b.answers <- Answer{MsgID: msgID, Err: err}
			return
		}
		defer b.sem.Release(1)

		resp, err := h.Handle(ctx, body)
		if err != nil {
			klog.Warnf("native: tag=%s msg_id=%d handler error: %v", tag, msgID, err)
		}
		b.answers <- Answer{MsgID: msgID, Response: resp, Err: err}
	}()
}
