// Package idgen allocates the monotonic, deterministic identifiers the
// kernel hands out: process ids, message ids, and interface registration
// ids.
//
// Every generator is seeded once at boot (see system.SystemBuilder) so that
// two runs started with the same seed produce the same id sequence; this is
// what makes the scheduler's outcomes reproducible for testing (spec.md
// §4.2 "The scan must be deterministic given the same input state").
package idgen

import "sync/atomic"

// Pid identifies a process for the lifetime of one kernel boot. Pids are
// never recycled during a run.
type Pid uint64

// MessageId identifies an outstanding request/response pair. Zero is never
// a valid MessageId; it is reserved to mean "empty slot" in a thread's
// notif_ids array (spec.md §4.5).
type MessageId uint64

// RegistrationId identifies one successful interface registration. Zero is
// never valid; it is reserved the same way MessageId's zero is.
type RegistrationId uint64

// Generator hands out monotonically increasing, never-recycled identifiers
// from a seed. It is safe for concurrent use.
type Generator struct {
	next uint64
}

// NewGenerator returns a Generator whose first allocation is seed itself;
// each later allocation is one more than the one before.
func NewGenerator(seed uint64) *Generator {
	return &Generator{next: seed}
}

// Next returns the next value in the stream and advances it.
func (g *Generator) Next() uint64 {
	return atomic.AddUint64(&g.next, 1) - 1
}

// PidGenerator allocates process ids deterministically from a boot seed.
type PidGenerator struct{ g *Generator }

// NewPidGenerator seeds a PidGenerator. The first Pid returned is seed.
func NewPidGenerator(seed uint64) *PidGenerator {
	return &PidGenerator{g: NewGenerator(seed)}
}

// Next allocates the next Pid.
func (p *PidGenerator) Next() Pid {
	return Pid(p.g.Next())
}

// MessageIdGenerator allocates nonzero MessageIds deterministically from a
// boot seed. Zero is skipped so MessageId zero never collides with a real
// message (spec.md §3 "MessageId ... A nonzero 64-bit identifier").
type MessageIdGenerator struct{ g *Generator }

// NewMessageIdGenerator seeds a MessageIdGenerator such that it never
// produces zero, regardless of the seed supplied.
func NewMessageIdGenerator(seed uint64) *MessageIdGenerator {
	if seed == 0 {
		seed = 1
	}
	return &MessageIdGenerator{g: NewGenerator(seed)}
}

// Next allocates the next nonzero MessageId.
func (m *MessageIdGenerator) Next() MessageId {
	for {
		if v := m.g.Next(); v != 0 {
			return MessageId(v)
		}
	}
}

// RegistrationIdGenerator allocates nonzero RegistrationIds.
type RegistrationIdGenerator struct{ g *Generator }

// NewRegistrationIdGenerator seeds a RegistrationIdGenerator such that it
// never produces zero.
func NewRegistrationIdGenerator(seed uint64) *RegistrationIdGenerator {
	if seed == 0 {
		seed = 1
	}
	return &RegistrationIdGenerator{g: NewGenerator(seed)}
}

// Next allocates the next nonzero RegistrationId.
func (r *RegistrationIdGenerator) Next() RegistrationId {
	for {
		if v := r.g.Next(); v != 0 {
			return RegistrationId(v)
		}
	}
}
