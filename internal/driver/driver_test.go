package driver_test

import (
	"bytes"
	"context"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/shardrun/internal/config"
	"github.com/signalnine/shardrun/internal/device"
	"github.com/signalnine/shardrun/internal/device/fakedevice"
	"github.com/signalnine/shardrun/internal/driver"
	"github.com/signalnine/shardrun/internal/logging"
	"github.com/signalnine/shardrun/internal/metrics"
	"github.com/signalnine/shardrun/internal/result"
)

// layout creates dist/<cfg>/<bs>/<suite>/<abi>/<exe> for each entry.
func layout(t *testing.T, entries ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, e := range entries {
		p := filepath.Join(dir, "dist", filepath.FromSlash(e))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("\x7fELF"), 0o755))
	}
	return dir
}

type harness struct {
	driver *driver.Driver
	out    *bytes.Buffer
	clock  *fakeclock.FakeClock
}

func newHarness(t *testing.T, testDir string, devices ...*device.Device) *harness {
	t.Helper()
	out := &bytes.Buffer{}
	fc := fakeclock.NewFakeClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	return &harness{
		out:   out,
		clock: fc,
		driver: &driver.Driver{
			Config:  config.Default(),
			Opts:    driver.Options{TestDir: testDir, TestSrc: t.TempDir()},
			Logger:  logging.Discard(),
			Out:     out,
			Clock:   fc,
			Rand:    rand.New(rand.NewPCG(1, 2)),
			Metrics: metrics.New(),
			Sources: []device.Source{fakedevice.Source(devices)},
			Features: func(context.Context) ([]string, error) {
				return []string{"shell_v2", "push_sync"}, nil
			},
		},
	}
}

func (h *harness) run(t *testing.T) *driver.Results {
	t.Helper()
	res, err := h.driver.Run(context.Background())
	require.NoError(t, err)
	return res
}

func statuses(res *driver.Results) map[string]result.Status {
	out := map[string]result.Status{}
	for _, r := range res.Report.All() {
		out[result.Label(r.Test)] = r.Status
	}
	return out
}

func TestRunAllPass(t *testing.T) {
	dir := layout(t,
		"x86-16/cmake/math/x86/add",
		"x86-16/cmake/math/x86/libm.so",
		"x86-16/cmake/math/x86/run.sh",
		"x86-16/ndk-build/math/x86/sub",
		"arm64-v8a-21/cmake/math/arm64-v8a/mul",
	)
	a, at := fakedevice.New("a", 16, "x86")
	b, bt := fakedevice.New("b", 21, "arm64-v8a", "armeabi-v7a")
	h := newHarness(t, dir, a, b)

	res := h.run(t)
	assert.True(t, res.Success)
	assert.Equal(t, driver.Done, res.State)
	assert.Equal(t, map[string]result.Status{
		"math.add [x86-16]":       result.Success,
		"math.sub [x86-16]":       result.Success,
		"math.mul [arm64-v8a-21]": result.Success,
	}, statuses(res))

	assert.Equal(t, []fakedevice.Push{{Src: filepath.Join(dir, "dist", "x86-16"), Dst: device.TestBaseDir, Sync: true}}, at.Pushes())
	assert.Equal(t, []fakedevice.Push{{Src: filepath.Join(dir, "dist", "arm64-v8a-21"), Dst: device.TestBaseDir, Sync: true}}, bt.Pushes())
	assert.Contains(t, at.Commands(), "cd /data/local/tmp/tests/x86-16/cmake/math/x86 && LD_LIBRARY_PATH=/data/local/tmp/tests/x86-16/cmake/math/x86 ./add 2>&1")

	var labels []string
	for _, tm := range res.Times {
		labels = append(labels, tm.Label)
	}
	assert.Equal(t, []string{"Test discovery", "Device discovery", "Push", "Run"}, labels)
	assert.Contains(t, h.out.String(), "Finished pushing tests")
}

func TestRunSharedConfigRunsOnEveryEligibleGroup(t *testing.T) {
	dir := layout(t, "arm64-v8a-21/cmake/s/arm64-v8a/t")
	a, at := fakedevice.New("a", 24, "arm64-v8a")
	b, bt := fakedevice.New("b", 24, "arm64-v8a")
	c, ct := fakedevice.New("c", 30, "arm64-v8a")
	h := newHarness(t, dir, a, b, c)

	res := h.run(t)
	assert.True(t, res.Success)
	// One run per group: {a, b} and {c}.
	assert.Equal(t, 2, res.Report.NumTests())
	ran := 0
	for _, tr := range []*fakedevice.Transport{at, bt} {
		for _, cmd := range tr.Commands() {
			if strings.HasSuffix(cmd, "./t 2>&1") {
				ran++
			}
		}
	}
	assert.Equal(t, 1, ran, "group {a, b} runs the test once")
	assert.Len(t, ct.Pushes(), 1)
}

func TestRunFailureAndBroken(t *testing.T) {
	dir := layout(t,
		"x86-16/cmake/suite/x86/good",
		"x86-16/cmake/suite/x86/bad",
		"x86-16/cmake/suite/x86/known",
		"x86-16/cmake/suite/x86/fixed",
		"x86-16/cmake/suite/x86/skipme",
	)
	a, at := fakedevice.New("a", 16, "x86")
	at.Handler = func(cmd string) (device.ShellResult, error) {
		for _, exe := range []string{"./bad", "./known"} {
			if strings.Contains(cmd, exe+" ") {
				return device.ShellResult{Status: 1, Stdout: "assertion failed"}, nil
			}
		}
		return device.ShellResult{}, nil
	}
	h := newHarness(t, dir, a)
	src := h.driver.Opts.TestSrc
	require.NoError(t, os.MkdirAll(filepath.Join(src, "device", "suite"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "device", "suite", "test_config.yaml"), []byte(`
unsupported:
  - subtests: [skipme]
    reason: no reason
broken:
  - subtests: [known, fixed]
    bug: b/1
`), 0o644))

	res := h.run(t)
	assert.False(t, res.Success)
	assert.Equal(t, driver.Failed, res.State)
	assert.Equal(t, map[string]result.Status{
		"suite.good [x86-16]":   result.Success,
		"suite.bad [x86-16]":    result.Failure,
		"suite.known [x86-16]":  result.ExpectedFailure,
		"suite.fixed [x86-16]":  result.UnexpectedSuccess,
		"suite.skipme [x86-16]": result.Skipped,
	}, statuses(res))
	for _, cmd := range at.Commands() {
		assert.NotContains(t, cmd, "./skipme")
	}
	assert.Contains(t, h.out.String(), "FAIL suite.bad [x86-16]")
	assert.Contains(t, h.out.String(), "SHOULD FAIL suite.fixed [x86-16]")
}

// flakyHandler fails the named executable with the lost-exit-status marker
// for the first failures calls.
func flakyHandler(exe string, failures int) (fakedevice.ShellFunc, func() int) {
	var mu sync.Mutex
	calls := 0
	handler := func(cmd string) (device.ShellResult, error) {
		if !strings.Contains(cmd, "./"+exe+" ") {
			return device.ShellResult{}, nil
		}
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= failures {
			return device.ShellResult{Status: 1, Stdout: device.NoExitStatusMessage}, nil
		}
		return device.ShellResult{}, nil
	}
	return handler, func() int {
		mu.Lock()
		defer mu.Unlock()
		return calls
	}
}

func runWithCooldown(t *testing.T, h *harness) *driver.Results {
	t.Helper()
	done := make(chan *driver.Results, 1)
	go func() {
		res, err := h.driver.Run(context.Background())
		assert.NoError(t, err)
		done <- res
	}()
	h.clock.WaitForWatcherAndIncrement(h.driver.Config.Flaky.Cooldown)
	select {
	case res := <-done:
		return res
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish after cooldown")
		return nil
	}
}

func TestFlakyRetryPasses(t *testing.T) {
	dir := layout(t, "x86-16/cmake/s/x86/flaky", "x86-16/cmake/s/x86/steady")
	a, at := fakedevice.New("a", 16, "x86")
	handler, calls := flakyHandler("flaky", 1)
	at.Handler = handler
	h := newHarness(t, dir, a)

	res := runWithCooldown(t, h)
	assert.True(t, res.Success)
	assert.Equal(t, 2, calls())
	assert.Equal(t, map[string]result.Status{
		"s.flaky [x86-16]":  result.Success,
		"s.steady [x86-16]": result.Success,
	}, statuses(res))

	results := h.driver.Metrics.Results
	assert.Equal(t, 2.0, testutil.ToFloat64(results.WithLabelValues("PASS", "cmake")))
	assert.Equal(t, 0.0, testutil.ToFloat64(results.WithLabelValues("FAIL", "cmake")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.driver.Metrics.FlakyRetries))
}

func TestFlakyRetryOnlyOnce(t *testing.T) {
	dir := layout(t, "x86-16/cmake/s/x86/flaky")
	a, at := fakedevice.New("a", 16, "x86")
	handler, calls := flakyHandler("flaky", 100)
	at.Handler = handler
	h := newHarness(t, dir, a)

	res := runWithCooldown(t, h)
	assert.False(t, res.Success)
	assert.Equal(t, 2, calls())
	require.Equal(t, 1, res.Report.NumTests())
	assert.Equal(t, result.Failure, res.Report.All()[0].Status)
}

func TestMissingTestDir(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "nope"))
	res, err := h.driver.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test output directory does not exist")
	assert.Equal(t, driver.Failed, res.State)
}

func TestNoTests(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dist"), 0o755))
	h := newHarness(t, dir)
	h.driver.Opts.Filter = "nothing"

	res := h.run(t)
	assert.False(t, res.Success)
	assert.Equal(t, "Found no tests in "+filepath.Join(dir, "dist")+" for filter nothing.", res.FailureMessage)
}

func TestRequireAllDevices(t *testing.T) {
	dir := layout(t, "x86-16/cmake/s/x86/t")
	a, at := fakedevice.New("a", 16, "x86")

	t.Run("missing slot", func(t *testing.T) {
		h := newHarness(t, dir, a)
		h.driver.Config.Devices = map[string][]string{"16": {"x86"}, "30": {"x86_64"}}
		h.driver.Opts.RequireAllDevices = true
		res := h.run(t)
		assert.False(t, res.Success)
		assert.Equal(t, driver.ErrMissingDevices.Error(), res.FailureMessage)
		assert.Empty(t, at.Pushes())
	})

	t.Run("unmatched config", func(t *testing.T) {
		dir := layout(t, "x86-16/cmake/s/x86/t", "arm64-v8a-21/cmake/s/arm64-v8a/t")
		h := newHarness(t, dir, a)
		h.driver.Opts.RequireAllDevices = true
		res := h.run(t)
		assert.False(t, res.Success)
		assert.Equal(t, driver.ErrMissingDevices.Error(), res.FailureMessage)
	})

	t.Run("lenient", func(t *testing.T) {
		dir := layout(t, "x86-16/cmake/s/x86/t", "arm64-v8a-21/cmake/s/arm64-v8a/t")
		h := newHarness(t, dir, a)
		res := h.run(t)
		assert.True(t, res.Success)
		assert.Equal(t, 1, res.Report.NumTests())
	})
}

func TestCleanDevice(t *testing.T) {
	dir := layout(t, "x86-16/cmake/s/x86/t")
	a, at := fakedevice.New("a", 16, "x86")
	h := newHarness(t, dir, a)
	h.driver.Opts.CleanDevice = true

	res := h.run(t)
	assert.True(t, res.Success)
	cmds := at.Commands()
	require.NotEmpty(t, cmds)
	assert.Equal(t, "rm -r /data/local/tmp/tests", cmds[0])
	assert.Equal(t, "mkdir /data/local/tmp/tests", cmds[1])
}

func TestPushWithoutSync(t *testing.T) {
	dir := layout(t, "x86-16/cmake/s/x86/t")
	a, at := fakedevice.New("a", 16, "x86")
	h := newHarness(t, dir, a)
	h.driver.Features = func(context.Context) ([]string, error) { return []string{"shell_v2"}, nil }

	h.run(t)
	require.Len(t, at.Pushes(), 1)
	assert.False(t, at.Pushes()[0].Sync)
}

func TestShowTestStats(t *testing.T) {
	dir := layout(t, "x86-16/cmake/s/x86/a", "x86-16/cmake/s/x86/b", "x86-16/ndk-build/s/x86/a")
	a, _ := fakedevice.New("a", 16, "x86")
	h := newHarness(t, dir, a)
	h.driver.Opts.ShowTestStats = true

	h.run(t)
	assert.Contains(t, h.out.String(), "Config x86-16:\n\tcmake: 2 tests\n\tndk-build: 1 tests\n")
}

func TestBuildOnly(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	h := newHarness(t, dir)
	h.driver.Opts.BuildOnly = true
	h.driver.Opts.ABIs = []string{"x86"}
	h.driver.Config.Build.Systems = []config.BuildSystem{{Name: "cmake", Argv: []string{"build", "{config}"}}}
	var got []string
	h.driver.BuildExec = func(_ context.Context, _ string, argv []string) (string, int, error) {
		got = append(got, strings.Join(argv, " "))
		exe := filepath.Join(dir, "dist", "x86-16", "cmake", "s", "x86", "t")
		if err := os.MkdirAll(filepath.Dir(exe), 0o755); err != nil {
			return "", 0, err
		}
		return "", 0, os.WriteFile(exe, nil, 0o755)
	}

	res := h.run(t)
	assert.True(t, res.Success, res.FailureMessage)
	assert.Equal(t, []string{"build x86-16"}, got)
	assert.Nil(t, res.Report)
	assert.Equal(t, 1, res.Build.NumTests())
	assert.DirExists(t, dir)
}

func TestBuildFailureStopsRun(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir)
	h.driver.Opts.Rebuild = true
	h.driver.Opts.ABIs = []string{"x86"}
	h.driver.Config.Build.Systems = []config.BuildSystem{{Name: "cmake", Argv: []string{"build"}}}
	h.driver.BuildExec = func(context.Context, string, []string) (string, int, error) {
		return "error: no such file", 1, nil
	}

	res := h.run(t)
	assert.False(t, res.Success)
	assert.Nil(t, res.Report)
	assert.Contains(t, h.out.String(), "FAIL build.cmake [x86-16]")
}

func TestRebuildWithNoMatchingTestsFails(t *testing.T) {
	tests := []struct {
		name string
		exec func(dir string) error
	}{
		{"nothing installed", func(string) error { return nil }},
		{"filtered out", func(dir string) error {
			exe := filepath.Join(dir, "dist", "x86-16", "cmake", "s", "x86", "t")
			if err := os.MkdirAll(filepath.Dir(exe), 0o755); err != nil {
				return err
			}
			return os.WriteFile(exe, nil, 0o755)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "out")
			h := newHarness(t, dir)
			h.driver.Opts.Rebuild = true
			h.driver.Opts.Filter = "doesnotexist"
			h.driver.Opts.ABIs = []string{"x86"}
			h.driver.Config.Build.Systems = []config.BuildSystem{{Name: "cmake", Argv: []string{"build"}}}
			h.driver.BuildExec = func(context.Context, string, []string) (string, int, error) {
				return "", 0, tt.exec(dir)
			}

			res := h.run(t)
			assert.False(t, res.Success)
			assert.Equal(t, "Found no tests for filter doesnotexist.", res.FailureMessage)
			assert.Nil(t, res.Report)
		})
	}
}

func TestBadTestConfigIsFatal(t *testing.T) {
	dir := layout(t, "x86-16/cmake/s/x86/t")
	a, _ := fakedevice.New("a", 16, "x86")
	h := newHarness(t, dir, a)
	src := h.driver.Opts.TestSrc
	require.NoError(t, os.MkdirAll(filepath.Join(src, "device", "s"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "device", "s", "test_config.yaml"), []byte("unsupported: [oops"), 0o644))

	_, err := h.driver.Run(context.Background())
	require.Error(t, err)
}

func TestPersist(t *testing.T) {
	dir := layout(t, "x86-16/cmake/s/x86/t")
	a, _ := fakedevice.New("a", 16, "x86")
	h := newHarness(t, dir, a)
	runDir := t.TempDir()
	h.driver.Opts.RunDir = runDir
	h.driver.Opts.JUnitPath = filepath.Join(runDir, "junit.xml")
	h.driver.Opts.MetricsPath = filepath.Join(runDir, "metrics", "shardrun.prom")

	res := h.run(t)
	s, err := result.ReadSummary(filepath.Join(runDir, result.SummaryFile))
	require.NoError(t, err)
	assert.Equal(t, res.RunID, s.RunID)
	assert.True(t, s.Success)
	require.Len(t, s.Results, 1)
	assert.Equal(t, "s.t", s.Results[0].Name)
	assert.Equal(t, "1 devices android-16 x86", s.Results[0].Group)

	assert.FileExists(t, h.driver.Opts.JUnitPath)
	data, err := os.ReadFile(h.driver.Opts.MetricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `shardrun_test_results_total{build_system="cmake",status="PASS"} 1`)
	assert.Contains(t, string(data), "shardrun_device_groups 1")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "FLAKY_RETRY", driver.FlakyRetry.String())
	assert.Equal(t, "State(99)", driver.State(99).String())
	assert.True(t, driver.Done.Terminal())
	assert.False(t, driver.Run.Terminal())
}
