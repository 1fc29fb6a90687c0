package idgen_test

import (
	"testing"

	"github.com/redshirt-os/kernel/internal/idgen"
	"github.com/stretchr/testify/require"
)

func TestPidGeneratorDeterministic(t *testing.T) {
	g1 := idgen.NewPidGenerator(42)
	g2 := idgen.NewPidGenerator(42)

	for i := 0; i < 10; i++ {
		require.Equal(t, g1.Next(), g2.Next())
	}
}

func TestPidGeneratorNeverRecycles(t *testing.T) {
	g := idgen.NewPidGenerator(0)
	seen := map[idgen.Pid]bool{}
	for i := 0; i < 1000; i++ {
		pid := g.Next()
		require.False(t, seen[pid], "pid %d reused", pid)
		seen[pid] = true
	}
}

func TestMessageIdGeneratorNeverZero(t *testing.T) {
	g := idgen.NewMessageIdGenerator(0)
	for i := 0; i < 1000; i++ {
		require.NotZero(t, g.Next())
	}
}

func TestRegistrationIdGeneratorNeverZero(t *testing.T) {
	g := idgen.NewRegistrationIdGenerator(0)
	for i := 0; i < 1000; i++ {
		require.NotZero(t, g.Next())
	}
}
