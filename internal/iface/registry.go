// Package iface implements the Interface Registry (spec.md §4.3): routing
// messages on a named interface (identified by a hash) to whichever process
// registered a handler for it, or to a fixed native handler.
//
// Grounded on the teacher's config.go/builder.go "small locked map of
// state machines" shape (DESIGN.md), generalized from a single Wasm
// feature-flags struct to many independent per-hash state machines.
package iface

import (
	"errors"
	"sync"

	"github.com/redshirt-os/kernel/internal/idgen"
)

// ErrAlreadyRegistered is returned by SetHandler when the interface already
// has a handler (spec.md §4.3 set_interface_handler).
var ErrAlreadyRegistered = errors.New("iface: already registered")

// ErrWrongOwner is returned by EmitQuery when the registration id does not
// belong to the calling process (spec.md §4.3 emit_message_query).
var ErrWrongOwner = errors.New("iface: registration does not belong to caller")

// pendingDelivery is a message queued for a handler that has not yet asked
// for it via next_notification.
type pendingDelivery struct {
	msgID       idgen.MessageId
	emitterPid  idgen.Pid
	needsAnswer bool
}

// Delivery pairs a waiting next_notification query with a message to hand
// it (spec.md §4.3 "Deliver(delivery)").
type Delivery struct {
	MsgID       idgen.MessageId
	EmitterPid  idgen.Pid
	NeedsAnswer bool
}

// EmitOutcome is the result of emit_interface_message (spec.md §4.3).
type EmitOutcome interface{ emitOutcome() }

// Deliver means the message can be handed to a handler right now: either a
// registered process with a matching next_notification query, or a native
// interface (NativeTag identifies which).
type Deliver struct {
	Native     bool
	NativeTag  string
	HandlerPid idgen.Pid
}

func (Deliver) emitOutcome() {}

// Queued means the message was enqueued for later delivery.
type Queued struct{}

func (Queued) emitOutcome() {}

// Reject means immediate=true and no handler was ready (spec.md §4.3).
type Reject struct{}

func (Reject) emitOutcome() {}

// state is where one interface hash sits in the diagram spec.md §4.3 draws.
type state byte

const (
	stateAbsent state = iota
	stateNotRegistered
	stateRegistered
	stateNative
)

type entry struct {
	state state

	handlerPid     idgen.Pid
	registrationID idgen.RegistrationId
	nativeTag      string

	// pendingDeliveries holds messages emitted before the handler asked
	// for them (FIFO: spec.md "messages are delivered in the order they
	// were emitted").
	pendingDeliveries []pendingDelivery
	// pendingQueries holds next_notification calls made before a message
	// arrived (FIFO: "next_notification queries are served in FIFO order").
	pendingQueries []idgen.MessageId
}

// Registry is the process-wide interface hash table. Safe for concurrent
// use (spec.md §5 "the Interface Registry ... must be protected by
// internal locks" under the multithreaded scheduler driver).
type Registry struct {
	mu      sync.Mutex
	entries map[Hash]*entry
	regIDs  *idgen.RegistrationIdGenerator
}

// New constructs an empty Registry. regSeed seeds the RegistrationId
// generator (spec.md §9 "Global, seeded ... generators").
func New(regSeed uint64) *Registry {
	return &Registry{
		entries: map[Hash]*entry{},
		regIDs:  idgen.NewRegistrationIdGenerator(regSeed),
	}
}

// RegisterNative marks hash as served by a fixed kernel-internal handler
// (spec.md §4.7 "a fixed set of interfaces registered at boot"). Intended
// to be called once at boot per native interface; panics on reuse since
// that would indicate a kernel bug, not a program error.
func (r *Registry) RegisterNative(hash Hash, tag string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[hash]; ok && e.state != stateAbsent {
		panic("iface: RegisterNative called twice for the same hash")
	}
	r.entries[hash] = &entry{state: stateNative, nativeTag: tag}
}

func (r *Registry) entryFor(hash Hash) *entry {
	e, ok := r.entries[hash]
	if !ok {
		e = &entry{state: stateNotRegistered}
		r.entries[hash] = e
	}
	return e
}

// SetHandler implements spec.md §4.3 set_interface_handler: NotRegistered
// -> Registered is the only transition, and it carries the pending-delivery
// queue across so no message emitted before registration is lost.
func (r *Registry) SetHandler(hash Hash, pid idgen.Pid) (idgen.RegistrationId, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entryFor(hash)
	if e.state != stateNotRegistered {
		return 0, ErrAlreadyRegistered
	}
	id := r.regIDs.Next()
	e.state = stateRegistered
	e.handlerPid = pid
	e.registrationID = id
	return id, nil
}

// EmitMessage implements spec.md §4.3 emit_interface_message.
func (r *Registry) EmitMessage(hash Hash, msgID idgen.MessageId, emitterPid idgen.Pid, needsAnswer, immediate bool) EmitOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entryFor(hash)
	switch e.state {
	case stateNative:
		return Deliver{Native: true, NativeTag: e.nativeTag}

	case stateRegistered:
		if len(e.pendingQueries) > 0 {
			// Pop oldest query: FIFO across next_notification calls.
			e.pendingQueries = e.pendingQueries[1:]
			return Deliver{HandlerPid: e.handlerPid}
		}
		if immediate {
			return Reject{}
		}
		e.pendingDeliveries = append(e.pendingDeliveries, pendingDelivery{
			msgID: msgID, emitterPid: emitterPid, needsAnswer: needsAnswer,
		})
		return Queued{}

	default: // stateNotRegistered
		if immediate {
			return Reject{}
		}
		e.pendingDeliveries = append(e.pendingDeliveries, pendingDelivery{
			msgID: msgID, emitterPid: emitterPid, needsAnswer: needsAnswer,
		})
		return Queued{}
	}
}

// EmitQuery implements spec.md §4.3 emit_message_query, called when a
// handler issues next_notification.
func (r *Registry) EmitQuery(registrationID idgen.RegistrationId, queryMsgID idgen.MessageId, expectedPid idgen.Pid) (*Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.entries {
		if e.state == stateRegistered && e.registrationID == registrationID {
			if e.handlerPid != expectedPid {
				return nil, ErrWrongOwner
			}
			if len(e.pendingDeliveries) > 0 {
				d := e.pendingDeliveries[0]
				e.pendingDeliveries = e.pendingDeliveries[1:]
				return &Delivery{MsgID: d.msgID, EmitterPid: d.emitterPid, NeedsAnswer: d.needsAnswer}, nil
			}
			e.pendingQueries = append(e.pendingQueries, queryMsgID)
			return nil, nil
		}
	}
	return nil, ErrWrongOwner
}

// Deregister removes every interface pid handles, matching spec.md §3
// "on process death its registrations are removed"; the Scheduler Core
// drives this from the Process Collection's death notification
// (SPEC_FULL.md §E.1 resolves the drop-on-death Open Question). It returns
// the pending deliveries that were lost so the caller can notify emitters.
func (r *Registry) Deregister(pid idgen.Pid) []idgen.MessageId {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []idgen.MessageId
	for hash, e := range r.entries {
		if e.state == stateRegistered && e.handlerPid == pid {
			for _, d := range e.pendingDeliveries {
				dropped = append(dropped, d.msgID)
			}
			delete(r.entries, hash)
		}
	}
	return dropped
}
