// Package process multiplexes many VMs, assigning PIDs/TIDs and routing
// the interrupt/resume cycle (spec.md §4.2 "Process Collection").
package process

import (
	"sync"

	"golang.org/x/exp/maps"

	"github.com/redshirt-os/kernel/internal/idgen"
	"github.com/redshirt-os/kernel/internal/klog"
	"github.com/redshirt-os/kernel/internal/vm"
)

// shrinkEvery matches spec.md §4.2 "Periodically shrinks its internal map
// (e.g., every 256 insertions)".
const shrinkEvery = 256

// Collection owns many VMs and exposes the scheduling hooks spec.md §4.2
// describes. It is safe for concurrent use: the multithreaded scheduler
// driver (spec.md §5) may call Run from several goroutines, each of which
// will observe a different runnable thread or Idle.
type Collection struct {
	mu sync.Mutex

	procs   map[idgen.Pid]*Process
	order   []idgen.Pid // insertion order, for deterministic scanning
	pidGen  *idgen.PidGenerator
	inserts int

	listener DeathListener
}

// New constructs an empty Collection whose Pids are drawn from pidSeed
// (spec.md §9 "Global, seeded PID/MessageId generators").
func New(pidSeed uint64) *Collection {
	return &Collection{
		procs:  map[idgen.Pid]*Process{},
		pidGen: idgen.NewPidGenerator(pidSeed),
	}
}

// SetDeathListener registers the single listener notified when a process
// stops existing. Only one listener is supported; internal/scheduler owns
// it, so a second call replaces the first.
func (c *Collection) SetDeathListener(l DeathListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// Execute loads module into a freshly assigned Process (spec.md §4.2
// "execute(module, ...) -> Result<ProcHandle, NewErr>").
func (c *Collection) Execute(module *vm.Module, procUserData, mainThreadUserData any, resolve vm.Resolver) (*Process, error) {
	machine, err := vm.New(module, mainThreadUserData, resolve)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pid := c.pidGen.Next()
	p := &Process{pid: pid, machine: machine, userData: procUserData}
	c.procs[pid] = p
	c.order = append(c.order, pid)
	c.inserts++
	if c.inserts%shrinkEvery == 0 {
		c.shrinkLocked()
	}
	klog.Debugf("process: executed pid=%d", pid)
	return p, nil
}

// shrinkLocked rebuilds the map and order slice, dropping entries for dead
// processes that linger due to map growth-without-shrink. Grounded on
// golang.org/x/exp/maps, matching the teacher's pattern of leaning on
// small generics-era helper packages (DESIGN.md).
func (c *Collection) shrinkLocked() {
	fresh := make(map[idgen.Pid]*Process, len(c.procs))
	maps.Copy(fresh, c.procs)
	c.procs = fresh

	freshOrder := make([]idgen.Pid, 0, len(c.procs))
	for _, pid := range c.order {
		if _, ok := c.procs[pid]; ok {
			freshOrder = append(freshOrder, pid)
		}
	}
	c.order = freshOrder
}

// ProcessByID returns the process for pid, or nil if it is not (or no
// longer) alive.
func (c *Collection) ProcessByID(pid idgen.Pid) *Process {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.procs[pid]
}

// Pids returns every currently-alive process id, in the deterministic
// order Run scans them.
func (c *Collection) Pids() []idgen.Pid {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]idgen.Pid, 0, len(c.order))
	for _, pid := range c.order {
		if _, ok := c.procs[pid]; ok {
			out = append(out, pid)
		}
	}
	return out
}

// AbortProcess force-terminates pid, notifying the death listener with
// ReasonAborted (spec.md §4.2 abort, generalized per SPEC_FULL.md §D.2).
func (c *Collection) AbortProcess(pid idgen.Pid) (procUserData any, ok bool) {
	c.mu.Lock()
	p, exists := c.procs[pid]
	if exists {
		delete(c.procs, pid)
	}
	listener := c.listener
	c.mu.Unlock()
	if !exists {
		return nil, false
	}
	if listener != nil {
		listener.OnDeath(pid, ReasonAborted)
	}
	return p.userData, true
}

// Run scans every live process for a runnable thread (mailbox full), picks
// one deterministically, empties its mailbox, and steps it. The scan order
// is (process insertion order, then thread index ascending) so that two
// Collections fed the same command sequence produce the same sequence of
// outcomes (spec.md §4.2 "The scan must be deterministic given the same
// input state for testability").
func (c *Collection) Run() RunOneOutcome {
	pid, th, ok := c.pickRunnable()
	if !ok {
		return Idle{}
	}

	value := th.PendingValue()
	outcome, err := c.runThread(pid, th, value)
	if err != nil {
		// A caller-contract violation (ErrPoisoned, ErrNotRunnable, ...)
		// while the thread's mailbox had just been observed full is a
		// kernel-internal invariant break: the Collection itself decides
		// when to call Run, so this can only mean two workers raced the
		// same VM without the serialization spec.md §5 requires.
		panic("process: invariant violated calling Vm.Run on a thread this Collection just found runnable: " + err.Error())
	}
	return outcome
}

func (c *Collection) pickRunnable() (idgen.Pid, *vm.Thread, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pid := range c.order {
		p, ok := c.procs[pid]
		if !ok {
			continue
		}
		for _, i := range p.machine.ThreadIndices() {
			th := p.machine.Thread(i)
			if th != nil && th.Runnable() {
				return pid, th, true
			}
		}
	}
	return 0, nil, false
}

func (c *Collection) runThread(pid idgen.Pid, th *vm.Thread, value *vm.Value) (RunOneOutcome, error) {
	p := c.ProcessByID(pid)
	if p == nil {
		return Idle{}, nil
	}
	outcome, err := p.machine.Run(th.Index(), value)
	if err != nil {
		return nil, err
	}
	switch o := outcome.(type) {
	case vm.ThreadFinished:
		if o.ThreadIndex == 0 {
			return c.finishProcess(p, o.ReturnValue)
		}
		return ThreadFinished{Pid: pid, ThreadIndex: o.ThreadIndex, UserData: o.UserData, Value: o.ReturnValue}, nil
	case vm.Interrupted:
		return Interrupted{Pid: pid, ThreadIndex: o.ThreadIndex, ImportIndex: o.ImportIndex, Params: o.Params}, nil
	case vm.Errored:
		return c.errorProcess(p, o.Err)
	default:
		return Idle{}, nil
	}
}

func (c *Collection) finishProcess(p *Process, value *vm.Value) (RunOneOutcome, error) {
	threadsUD := p.machine.IntoUserDatas()
	c.remove(p.pid)
	if c.listener != nil {
		c.listener.OnDeath(p.pid, ReasonFinished)
	}
	klog.Debugf("process: pid=%d finished", p.pid)
	return ProcessFinished{
		Pid: p.pid, ProcUserData: p.userData, ThreadsUserData: threadsUD, Value: value, Reason: ReasonFinished,
	}, nil
}

func (c *Collection) errorProcess(p *Process, runErr error) (RunOneOutcome, error) {
	threadsUD := p.machine.IntoUserDatas()
	c.remove(p.pid)
	if c.listener != nil {
		c.listener.OnDeath(p.pid, ReasonTrapped)
	}
	klog.Warnf("process: pid=%d trapped: %v", p.pid, runErr)
	return Errored{
		Pid: p.pid, ProcUserData: p.userData, ThreadsUserData: threadsUD, Err: runErr,
	}, nil
}

func (c *Collection) remove(pid idgen.Pid) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.procs, pid)
}
