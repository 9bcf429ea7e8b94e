package report_test

import (
	"bytes"
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/shardrun/internal/buildcfg"
	"github.com/signalnine/shardrun/internal/device"
	"github.com/signalnine/shardrun/internal/report"
	"github.com/signalnine/shardrun/internal/result"
)

type fakeTest struct {
	name, bs string
}

func (f fakeTest) Name() string            { return f.name }
func (f fakeTest) BuildSystem() string     { return f.bs }
func (f fakeTest) Config() buildcfg.Config { return buildcfg.Config{ABI: "arm64-v8a", API: 21} }

func res(status result.Status, name, bs, msg string) result.Result {
	return result.Result{Status: status, Test: fakeTest{name, bs}, Message: msg}
}

func TestReportSuccessful(t *testing.T) {
	rep := report.New()
	assert.True(t, rep.Successful(), "empty report")

	rep.Add("cmake", res(result.Success, "a.b", "cmake", ""))
	rep.Add("cmake", res(result.Skipped, "a.c", "cmake", "unsupported"))
	rep.Add("ndk-build", result.Result{Status: result.ExpectedFailure, Test: fakeTest{"a.d", "ndk-build"}, Reason: "x86", Bug: "b/1"})
	assert.True(t, rep.Successful())
	assert.Equal(t, 3, rep.NumTests())
	assert.Equal(t, []string{"cmake", "ndk-build"}, rep.Suites())

	rep.Add("ndk-build", result.Result{Status: result.UnexpectedSuccess, Test: fakeTest{"a.e", "ndk-build"}, Reason: "x86", Bug: "b/2"})
	assert.False(t, rep.Successful())
}

func TestRemoveAllFailingFlaky(t *testing.T) {
	ff, err := report.NewFlakeFilter(report.DefaultFlakeMarkers, report.DefaultFlakeNames)
	require.NoError(t, err)

	rep := report.New()
	rep.Add("cmake", res(result.Failure, "a.flaky", "cmake", "adb died\n"+device.NoExitStatusMessage))
	rep.Add("cmake", res(result.Failure, "a.real", "cmake", "assertion failed"))
	rep.Add("libc++", res(result.Failure, "libc++.std/thread/foo.pass", "libc++", "timeout"))
	rep.Add("libc++", res(result.Success, "libc++.std/thread/bar.pass", "libc++", ""))

	removed := rep.RemoveAllFailingFlaky(ff.IsFlaky)
	require.Len(t, removed, 2)
	assert.Equal(t, "a.flaky", removed[0].Test.Name())
	assert.Equal(t, "libc++.std/thread/foo.pass", removed[1].Test.Name())
	assert.Equal(t, 2, rep.NumTests())
	assert.False(t, rep.Successful())
}

func TestRemoveAllFailingFlakyWithoutFlakesIsNoop(t *testing.T) {
	ff, err := report.NewFlakeFilter(report.DefaultFlakeMarkers, report.DefaultFlakeNames)
	require.NoError(t, err)

	rep := report.New()
	rep.Add("cmake", res(result.Failure, "a.real", "cmake", "assertion failed"))
	rep.Add("cmake", res(result.Success, "a.ok", "cmake", ""))
	rep.Add("libc++", result.Result{Status: result.UnexpectedSuccess, Test: fakeTest{"libc++.std/thread/x.pass", "libc++"}, Bug: "b/3"})
	before := rep.All()

	assert.Empty(t, rep.RemoveAllFailingFlaky(ff.IsFlaky))
	assert.Equal(t, before, rep.All())
	assert.Equal(t, []string{"cmake", "libc++"}, rep.Suites())

	// A second pass after flakes were removed finds nothing more either.
	rep.Add("cmake", res(result.Failure, "a.flaky", "cmake", device.NoExitStatusMessage))
	require.Len(t, rep.RemoveAllFailingFlaky(ff.IsFlaky), 1)
	assert.Empty(t, rep.RemoveAllFailingFlaky(ff.IsFlaky))
	assert.Equal(t, before, rep.All())
}

func TestFlakeFilterIgnoresUnexpectedSuccess(t *testing.T) {
	ff, err := report.NewFlakeFilter(report.DefaultFlakeMarkers, report.DefaultFlakeNames)
	require.NoError(t, err)

	r := res(result.UnexpectedSuccess, "libc++.libcxx/thread/x.pass", "libc++", device.NoExitStatusMessage)
	assert.False(t, ff.IsFlaky(r))
	assert.True(t, ff.IsFlaky(res(result.Failure, "libc++.libcxx/thread/x.pass", "libc++", "")))
	assert.False(t, ff.IsFlaky(res(result.Failure, "libc++.std/strings/x.pass", "libc++", "")))
}

func TestNewFlakeFilterBadPattern(t *testing.T) {
	_, err := report.NewFlakeFilter(nil, []string{"[unterminated"})
	assert.Error(t, err)
}

func TestPrintSummary(t *testing.T) {
	rep := report.New()
	rep.Add("cmake", res(result.Success, "a.pass", "cmake", ""))
	rep.Add("cmake", res(result.Failure, "a.fail", "cmake", "boom"))

	var buf bytes.Buffer
	p := &report.Printer{W: &buf}
	require.NoError(t, p.PrintSummary(rep))
	out := buf.String()
	assert.Contains(t, out, "FAIL a.fail [arm64-v8a-21]: boom")
	assert.NotContains(t, out, "PASS a.pass")
	assert.Contains(t, out, "BUILD SYSTEM")

	buf.Reset()
	p.ShowAll = true
	require.NoError(t, p.PrintSummary(rep))
	assert.Contains(t, buf.String(), "PASS a.pass [arm64-v8a-21]")
}

func TestPrintSummaryEmpty(t *testing.T) {
	var buf bytes.Buffer
	p := &report.Printer{W: &buf}
	require.NoError(t, p.PrintSummary(report.New()))
	assert.Equal(t, "No tests were run.\n", buf.String())
}

func writeRun(t *testing.T) string {
	t.Helper()
	rep := report.New()
	rep.Add("cmake", res(result.Success, "a.pass", "cmake", ""))
	rep.Add("cmake", res(result.Failure, "a.fail", "cmake", "boom\nmore"))
	rep.Add("ndk-build", res(result.Skipped, "b.skip", "ndk-build", "test unsupported for x86"))

	dir := t.TempDir()
	require.NoError(t, result.WriteSummary(dir, &result.Summary{
		RunID:   "run-1",
		Success: false,
		Times:   []result.Timing{{Label: "run", Duration: 0}},
		Results: rep.Records(),
	}))
	return dir
}

func TestGenerateTable(t *testing.T) {
	dir := writeRun(t)
	var buf bytes.Buffer
	require.NoError(t, report.Generate(dir, "table", &buf))
	out := buf.String()
	assert.Contains(t, out, "FAIL a.fail [arm64-v8a-21]: boom\n")
	assert.Contains(t, out, "cmake")
	assert.Contains(t, out, "ndk-build")
}

func TestGenerateMarkdown(t *testing.T) {
	dir := writeRun(t)
	var buf bytes.Buffer
	require.NoError(t, report.Generate(dir, "markdown", &buf))
	out := buf.String()
	assert.Contains(t, out, "## Run run-1 (failed)")
	assert.Contains(t, out, "| cmake | 2 | 1 | 1 | 0 | 0 | 0 |")
	assert.Contains(t, out, "| ndk-build | 1 | 0 | 0 | 1 | 0 | 0 |")
}

func TestGenerateJSON(t *testing.T) {
	dir := writeRun(t)
	var buf bytes.Buffer
	require.NoError(t, report.Generate(dir, "json", &buf))
	assert.True(t, strings.HasPrefix(buf.String(), "[\n"))
	assert.Contains(t, buf.String(), `"build_system": "cmake"`)
}

func TestGenerateJUnit(t *testing.T) {
	dir := writeRun(t)
	var buf bytes.Buffer
	require.NoError(t, report.Generate(dir, "junit", &buf))

	var parsed struct {
		Suites []struct {
			Name     string `xml:"name,attr"`
			Tests    int    `xml:"tests,attr"`
			Failures int    `xml:"failures,attr"`
			Skipped  int    `xml:"skipped,attr"`
		} `xml:"testsuite"`
	}
	require.NoError(t, xml.Unmarshal(buf.Bytes(), &parsed))
	require.Len(t, parsed.Suites, 2)
	assert.Equal(t, "cmake", parsed.Suites[0].Name)
	assert.Equal(t, 2, parsed.Suites[0].Tests)
	assert.Equal(t, 1, parsed.Suites[0].Failures)
	assert.Equal(t, 1, parsed.Suites[1].Skipped)
}

func TestGenerateUnknownFormat(t *testing.T) {
	dir := writeRun(t)
	assert.Error(t, report.Generate(dir, "yaml", &bytes.Buffer{}))
}

func TestGenerateMissingRun(t *testing.T) {
	assert.Error(t, report.Generate(t.TempDir(), "table", &bytes.Buffer{}))
}
