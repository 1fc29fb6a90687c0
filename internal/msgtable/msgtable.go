// Package msgtable tracks outstanding emitted messages awaiting an answer
// (spec.md §4.4 "Message Table"): who emitted a message, who is expected to
// answer it, and whether cancellation or the answerer's death should be
// noticed.
package msgtable

import (
	"errors"
	"sync"

	"github.com/redshirt-os/kernel/internal/idgen"
)

// ErrNotFound is returned by Remove when msgID isn't outstanding, or was
// already removed by a cancellation (spec.md §4.4).
var ErrNotFound = errors.New("msgtable: message not found")

type outstanding struct {
	answererPid idgen.Pid
	needsAnswer bool
}

// Table is the process-wide outstanding-message set. Safe for concurrent
// use (spec.md §5, locked like the Interface Registry under the
// multithreaded driver).
type Table struct {
	mu      sync.Mutex
	entries map[idgen.MessageId]outstanding
}

// New constructs an empty Table.
func New() *Table {
	return &Table{entries: map[idgen.MessageId]outstanding{}}
}

// Add records msgID as outstanding, awaiting an answer from answererPid
// (spec.md §4.4 add).
func (t *Table) Add(msgID idgen.MessageId, answererPid idgen.Pid, needsAnswer bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[msgID] = outstanding{answererPid: answererPid, needsAnswer: needsAnswer}
}

// Remove clears msgID once its answer has been delivered to the emitter
// (spec.md §4.4 remove). answererPid must match the pid Add recorded, or
// ErrNotFound is returned (guards against a stale answer from a pid that
// no longer owns the message, e.g. after cancel+re-add).
func (t *Table) Remove(msgID idgen.MessageId, answererPid idgen.Pid) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[msgID]
	if !ok || e.answererPid != answererPid {
		return ErrNotFound
	}
	delete(t.entries, msgID)
	return nil
}

// DrainByAnswerer removes and returns every message id awaiting an answer
// from pid (spec.md §4.4 drain_by_answerer), used when the answering
// process dies (spec.md §4.6 step 2).
func (t *Table) DrainByAnswerer(pid idgen.Pid) []idgen.MessageId {
	t.mu.Lock()
	defer t.mu.Unlock()
	var drained []idgen.MessageId
	for id, e := range t.entries {
		if e.answererPid == pid {
			drained = append(drained, id)
			delete(t.entries, id)
		}
	}
	return drained
}

// Cancel removes msgID unconditionally and reports who was going to answer
// it, if anyone (spec.md §4.4 cancel). The answerer may still reply
// afterwards (spec.md §5 "Cancellation"); the table then has no entry for
// the id, and the Scheduler Core drops that answer because its own
// awaitingAnswer entry for the id is gone as well.
func (t *Table) Cancel(msgID idgen.MessageId) (answererPid idgen.Pid, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, found := t.entries[msgID]
	if !found {
		return 0, false
	}
	delete(t.entries, msgID)
	return e.answererPid, true
}

// Lookup reports whether msgID is outstanding and, if so, who is expected
// to answer it and whether it needs an answer at all.
func (t *Table) Lookup(msgID idgen.MessageId) (answererPid idgen.Pid, needsAnswer, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, found := t.entries[msgID]
	return e.answererPid, e.needsAnswer, found
}
