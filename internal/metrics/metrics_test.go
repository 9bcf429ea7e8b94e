package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveResult("PASS", "cmake")
	m.ObserveResult("PASS", "cmake")
	m.ObserveResult("FAIL", "libc++")
	m.ObserveRetries(3)
	m.SetOutstanding(7)
	m.SetDeviceGroups(2)
	m.ObservePhase("run", 1500*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Results.WithLabelValues("PASS", "cmake")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Results.WithLabelValues("FAIL", "libc++")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.FlakyRetries))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.Outstanding))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DeviceGroups))
	assert.Equal(t, 1.5, testutil.ToFloat64(m.PhaseDuration.WithLabelValues("run")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveResult("PASS", "cmake")
	m.ObserveRetries(1)
	m.SetOutstanding(1)
	m.ObservePhase("run", time.Second)
	m.SetDeviceGroups(1)
	assert.NoError(t, m.WriteFile(filepath.Join(t.TempDir(), "m.prom")))
}

func TestWriteFile(t *testing.T) {
	m := New()
	m.ObserveResult("SKIP", "ndk-build")
	path := filepath.Join(t.TempDir(), "shardrun.prom")
	require.NoError(t, m.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `shardrun_test_results_total{build_system="ndk-build",status="SKIP"} 1`)
}
