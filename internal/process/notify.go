package process

import "github.com/redshirt-os/kernel/internal/idgen"

// DeathListener is notified once, synchronously, when a process stops
// existing. Grounded on the teacher's internal/close.Notification
// (DESIGN.md "internal/close/close.go"): there, a context-scoped
// OnClose(ctx, exitCode) hook lets an embedded module react to shutdown;
// here the same one-method-interface shape lets internal/scheduler react
// to process death (draining the message table, deregistering interfaces,
// spec.md §4.6 step 2) without Collection importing the scheduler.
type DeathListener interface {
	OnDeath(pid idgen.Pid, reason Reason)
}

// DeathListenerFunc adapts a function to a DeathListener.
type DeathListenerFunc func(pid idgen.Pid, reason Reason)

func (f DeathListenerFunc) OnDeath(pid idgen.Pid, reason Reason) { f(pid, reason) }
