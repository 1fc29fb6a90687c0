package process_test

import (
	"testing"

	"github.com/redshirt-os/kernel/internal/idgen"
	"github.com/redshirt-os/kernel/internal/process"
	"github.com/redshirt-os/kernel/internal/vm"
	"github.com/stretchr/testify/require"
)

func constModule(result uint32) *vm.Module {
	return &vm.Module{
		EntryFunc: 0,
		Functions: []vm.Function{{
			Type: vm.FunctionType{Results: []vm.ValueType{vm.ValueTypeI32}},
			Code: []vm.Op{
				{Kind: vm.OpConst, Imm: vm.I32(result)},
				{Kind: vm.OpReturn},
			},
		}},
	}
}

func noImports(string, string, vm.FunctionType) (int, error) { return 0, nil }

func TestCollectionRunIdleOnEmpty(t *testing.T) {
	c := process.New(1)
	require.Equal(t, process.Idle{}, c.Run())
}

func TestCollectionExecuteThenRunFinishesProcess(t *testing.T) {
	c := process.New(1)
	var dead idgen.Pid
	var deadReason process.Reason
	c.SetDeathListener(process.DeathListenerFunc(func(pid idgen.Pid, reason process.Reason) {
		dead, deadReason = pid, reason
	}))

	p, err := c.Execute(constModule(9), "proc-ud", "thread-ud", noImports)
	require.NoError(t, err)

	outcome := c.Run()
	finished, ok := outcome.(process.ProcessFinished)
	require.True(t, ok, "expected ProcessFinished, got %#v", outcome)
	require.Equal(t, p.Pid(), finished.Pid)
	require.Equal(t, "proc-ud", finished.ProcUserData)
	require.Equal(t, uint32(9), finished.Value.I32())
	require.Equal(t, process.ReasonFinished, finished.Reason)

	require.Equal(t, p.Pid(), dead)
	require.Equal(t, process.ReasonFinished, deadReason)

	require.Nil(t, c.ProcessByID(p.Pid()))
	require.Equal(t, process.Idle{}, c.Run())
}

func TestCollectionScansInDeterministicOrder(t *testing.T) {
	c := process.New(1)
	first, err := c.Execute(constModule(1), "first", nil, noImports)
	require.NoError(t, err)
	_, err = c.Execute(constModule(2), "second", nil, noImports)
	require.NoError(t, err)

	outcome := c.Run()
	finished, ok := outcome.(process.ProcessFinished)
	require.True(t, ok)
	require.Equal(t, first.Pid(), finished.Pid)
}

func TestCollectionInterruptedThenAnswered(t *testing.T) {
	c := process.New(1)
	m := &vm.Module{
		EntryFunc: 0,
		Imports: []vm.Import{
			{Name: "test", Type: vm.FunctionType{Results: []vm.ValueType{vm.ValueTypeI32}}},
		},
		Functions: []vm.Function{{
			Type: vm.FunctionType{Results: []vm.ValueType{vm.ValueTypeI32}},
			Code: []vm.Op{
				{Kind: vm.OpCallImport, U1: 0},
				{Kind: vm.OpReturn},
			},
		}},
	}
	p, err := c.Execute(m, nil, nil, func(string, string, vm.FunctionType) (int, error) { return 5, nil })
	require.NoError(t, err)

	outcome := c.Run()
	interrupted, ok := outcome.(process.Interrupted)
	require.True(t, ok, "expected Interrupted, got %#v", outcome)
	require.Equal(t, p.Pid(), interrupted.Pid)
	require.Equal(t, 5, interrupted.ImportIndex)

	answer := vm.I32(77)
	p.MainThread().Resume(&answer)

	outcome = c.Run()
	finished, ok := outcome.(process.ProcessFinished)
	require.True(t, ok)
	require.Equal(t, uint32(77), finished.Value.I32())
}

func TestCollectionAbortProcess(t *testing.T) {
	c := process.New(1)
	var dead idgen.Pid
	var reason process.Reason
	c.SetDeathListener(process.DeathListenerFunc(func(pid idgen.Pid, r process.Reason) {
		dead, reason = pid, r
	}))

	p, err := c.Execute(constModule(1), "ud", nil, noImports)
	require.NoError(t, err)

	ud, ok := c.AbortProcess(p.Pid())
	require.True(t, ok)
	require.Equal(t, "ud", ud)
	require.Equal(t, p.Pid(), dead)
	require.Equal(t, process.ReasonAborted, reason)

	_, ok = c.AbortProcess(p.Pid())
	require.False(t, ok)
}
