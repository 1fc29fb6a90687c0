package metrics_test

import (
	"strings"
	"testing"

	"github.com/redshirt-os/kernel/internal/metrics"
	"github.com/stretchr/testify/require"
)

func TestRenderTextIncludesCounters(t *testing.T) {
	m := metrics.New()
	m.ProcessesStarted.Inc()
	m.ProcessesEnded.WithLabelValues("finished").Inc()
	m.MonotonicClock.Set(42)

	text, err := m.RenderText()
	require.NoError(t, err)
	require.True(t, strings.Contains(text, "redshirt_processes_started_total"))
	require.True(t, strings.Contains(text, `reason="finished"`))
	require.True(t, strings.Contains(text, "redshirt_monotonic_clock 42"))
}
