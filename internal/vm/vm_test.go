package vm_test

import (
	"testing"

	"github.com/redshirt-os/kernel/internal/vm"
	"github.com/stretchr/testify/require"
)

// s1Module reproduces spec.md S1: a module whose "main" ignores its two
// i32 arguments and returns the constant 5.
func s1Module() *vm.Module {
	return &vm.Module{
		EntryFunc: 0,
		Functions: []vm.Function{
			{
				Type: vm.FunctionType{
					Params:  []vm.ValueType{vm.ValueTypeI32, vm.ValueTypeI32},
					Results: []vm.ValueType{vm.ValueTypeI32},
				},
				Code: []vm.Op{
					{Kind: vm.OpConst, Imm: vm.I32(5)},
					{Kind: vm.OpReturn},
				},
			},
		},
	}
}

func TestS1SingleModuleReturnsValue(t *testing.T) {
	m := s1Module()
	machine, err := vm.New(m, "main-ud", func(iface, name string, sig vm.FunctionType) (int, error) {
		t.Fatalf("unexpected import resolution: %s/%s", iface, name)
		return 0, nil
	})
	require.NoError(t, err)

	outcome, err := machine.Run(0, nil)
	require.NoError(t, err)

	finished, ok := outcome.(vm.ThreadFinished)
	require.True(t, ok, "expected ThreadFinished, got %#v", outcome)
	require.NotNil(t, finished.ReturnValue)
	require.Equal(t, uint32(5), finished.ReturnValue.I32())
	require.Equal(t, "main-ud", finished.UserData)
}

// s2Module reproduces spec.md S2: main calls an imported zero-arg function
// returning i32, then returns whatever it answered with.
func s2Module() *vm.Module {
	return &vm.Module{
		EntryFunc: 0,
		Imports: []vm.Import{
			{Interface: "", Name: "test", Type: vm.FunctionType{Results: []vm.ValueType{vm.ValueTypeI32}}},
		},
		Functions: []vm.Function{
			{
				Type: vm.FunctionType{Results: []vm.ValueType{vm.ValueTypeI32}},
				Code: []vm.Op{
					{Kind: vm.OpCallImport, U1: 0},
					{Kind: vm.OpReturn},
				},
			},
		},
	}
}

func TestS2ExtrinsicRoundTrip(t *testing.T) {
	m := s2Module()
	resolved := 42
	machine, err := vm.New(m, nil, func(iface, name string, sig vm.FunctionType) (int, error) {
		require.Equal(t, "", iface)
		require.Equal(t, "test", name)
		return resolved, nil
	})
	require.NoError(t, err)

	outcome, err := machine.Run(0, nil)
	require.NoError(t, err)
	interrupted, ok := outcome.(vm.Interrupted)
	require.True(t, ok, "expected Interrupted, got %#v", outcome)
	require.Equal(t, resolved, interrupted.ImportIndex)
	require.Empty(t, interrupted.Params)

	answer := vm.I32(713)
	outcome, err = machine.Run(0, &answer)
	require.NoError(t, err)
	finished, ok := outcome.(vm.ThreadFinished)
	require.True(t, ok, "expected ThreadFinished, got %#v", outcome)
	require.Equal(t, uint32(713), finished.ReturnValue.I32())
}

func TestRunOnPoisonedVmReturnsPoisoned(t *testing.T) {
	m := &vm.Module{
		EntryFunc: 0,
		Functions: []vm.Function{{
			Code: []vm.Op{{Kind: vm.OpUnreachable}},
		}},
	}
	machine, err := vm.New(m, nil, func(string, string, vm.FunctionType) (int, error) { return 0, nil })
	require.NoError(t, err)

	outcome, err := machine.Run(0, nil)
	require.NoError(t, err)
	errored, ok := outcome.(vm.Errored)
	require.True(t, ok)
	require.Error(t, errored.Err)
	require.True(t, machine.Poisoned())

	_, err = machine.Run(0, nil)
	require.ErrorIs(t, err, vm.ErrPoisoned)
}

func TestBadValueTyRejected(t *testing.T) {
	m := s2Module()
	machine, err := vm.New(m, nil, func(string, string, vm.FunctionType) (int, error) { return 7, nil })
	require.NoError(t, err)

	_, err = machine.Run(0, nil)
	require.NoError(t, err)

	wrongType := vm.I64(713)
	_, err = machine.Run(0, &wrongType)
	require.ErrorIs(t, err, vm.ErrBadValueTy)
}

func moduleImporting(kind vm.ImportKind) *vm.Module {
	m := s1Module()
	m.Imports = []vm.Import{{Interface: "env", Name: "whatever", Kind: kind}}
	return m
}

func TestMemoryImportRejected(t *testing.T) {
	m := moduleImporting(vm.ImportKindMemory)
	_, err := vm.New(m, nil, func(string, string, vm.FunctionType) (int, error) {
		t.Fatal("resolve should never be reached for a memory import")
		return 0, nil
	})
	require.ErrorIs(t, err, vm.ErrMultipleMemoriesNotSupported)
}

func TestTableImportRejected(t *testing.T) {
	m := moduleImporting(vm.ImportKindTable)
	_, err := vm.New(m, nil, func(string, string, vm.FunctionType) (int, error) {
		t.Fatal("resolve should never be reached for a table import")
		return 0, nil
	})
	require.ErrorIs(t, err, vm.ErrIndirectTableIsntTable)
}

func TestGlobalImportRejected(t *testing.T) {
	m := moduleImporting(vm.ImportKindGlobal)
	_, err := vm.New(m, nil, func(string, string, vm.FunctionType) (int, error) {
		t.Fatal("resolve should never be reached for a global import")
		return 0, nil
	})
	require.ErrorIs(t, err, vm.ErrMemoryIsntMemory)
}
