// Package driver sequences a test run: build, discover tests and devices,
// match them, push artifacts, run every test on every eligible device group,
// retry flaky failures once and summarize.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"

	"github.com/signalnine/shardrun/internal/adbserver"
	"github.com/signalnine/shardrun/internal/build"
	"github.com/signalnine/shardrun/internal/buildcfg"
	"github.com/signalnine/shardrun/internal/config"
	"github.com/signalnine/shardrun/internal/device"
	"github.com/signalnine/shardrun/internal/filter"
	"github.com/signalnine/shardrun/internal/metrics"
	"github.com/signalnine/shardrun/internal/report"
	"github.com/signalnine/shardrun/internal/result"
	"github.com/signalnine/shardrun/internal/testcase"
	"github.com/signalnine/shardrun/internal/testconfig"
	"github.com/signalnine/shardrun/internal/ui"
)

// ErrMissingDevices fails a strict run when requested devices or configs
// have no device.
var ErrMissingDevices = errors.New("some requested devices were not available")

type Options struct {
	// TestDir holds dist/ and build outputs.
	TestDir string
	// TestSrc holds test sources and their test_config.yaml files.
	TestSrc string
	NDK     string
	Filter  string
	// ABIs overrides the configured ABIs when non-empty.
	ABIs []string

	Rebuild   bool
	BuildOnly bool
	// Clean removes TestDir before building.
	Clean             bool
	CleanDevice       bool
	RequireAllDevices bool
	ShowTestStats     bool
	DisableVerity     bool
	// Verbose prints every result as it arrives, not just failures.
	Verbose bool

	// RunDir receives results.json and, when set, the JUnit and metrics
	// files named below.
	RunDir      string
	JUnitPath   string
	MetricsPath string
}

// Results is the outcome of a run.
type Results struct {
	RunID          string
	StartedAt      time.Time
	State          State
	Success        bool
	FailureMessage string
	Times          []result.Timing
	Build          *report.Report
	Report         *report.Report
}

func (r *Results) pass() {
	r.State = Done
	r.Success = true
}

func (r *Results) fail(msg string) {
	r.State = Failed
	r.Success = false
	r.FailureMessage = msg
}

type Driver struct {
	Config *config.Config
	Opts   Options
	Logger *slog.Logger
	// Out receives plain progress messages such as test stats.
	Out     io.Writer
	Display ui.Display
	Printer *report.Printer
	Metrics *metrics.Metrics
	Clock   clock.Clock
	Rand    *rand.Rand

	// Sources replaces adb and container discovery when set.
	Sources []device.Source
	// Features returns adb host features; defaults to asking adb.
	Features func(ctx context.Context) ([]string, error)
	// BuildExec runs build commands; defaults to the host.
	BuildExec build.Exec

	state     State
	adbServer *adbserver.Server
	adbEnv    []string
	configs   *testconfig.Cache
	flaky     *report.FlakeFilter
}

func (d *Driver) setDefaults() error {
	if d.Config == nil {
		d.Config = config.Default()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Out == nil {
		d.Out = io.Discard
	}
	if d.Display == nil {
		d.Display = ui.NewPlain(d.Out)
	}
	if d.Printer == nil {
		d.Printer = &report.Printer{W: d.Out}
	}
	if d.Clock == nil {
		d.Clock = clock.NewClock()
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	d.configs = testconfig.NewCache()
	ff, err := report.NewFlakeFilter(d.Config.Flaky.Markers, d.Config.Flaky.NamePatterns)
	if err != nil {
		return err
	}
	d.flaky = ff
	return nil
}

func (d *Driver) transition(s State) {
	d.Logger.Debug("state", "from", d.state.String(), "to", s.String())
	d.state = s
}

func (d *Driver) abis() []string {
	if len(d.Opts.ABIs) > 0 {
		return d.Opts.ABIs
	}
	return d.Config.ABIs
}

// timed runs fn and records its duration under label.
func (d *Driver) timed(res *Results, label string, fn func() error) error {
	start := d.Clock.Now()
	err := fn()
	elapsed := d.Clock.Since(start)
	res.Times = append(res.Times, result.Timing{Label: label, Duration: elapsed})
	d.Metrics.ObservePhase(label, elapsed)
	return err
}

// Run executes the whole run. Test failures are reported through Results;
// the error is for runs that could not be carried out.
func (d *Driver) Run(ctx context.Context) (*Results, error) {
	if err := d.setDefaults(); err != nil {
		return nil, err
	}
	res := &Results{RunID: uuid.NewString(), StartedAt: d.Clock.Now().UTC(), State: Init}
	d.state = Init
	defer d.stopADBServer()
	err := d.run(ctx, res)
	if err != nil {
		res.fail(err.Error())
	}
	d.transition(res.State)
	if perr := d.persist(res); perr != nil && err == nil {
		err = perr
	}
	return res, err
}

func (d *Driver) run(ctx context.Context, res *Results) error {
	o := &d.Opts
	if _, err := os.Stat(o.TestDir); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if !o.Rebuild && !o.BuildOnly {
			return fmt.Errorf("test output directory does not exist: %s", o.TestDir)
		}
		if err := os.MkdirAll(o.TestDir, 0o755); err != nil {
			return err
		}
	}

	f, err := filter.Parse(o.Filter)
	if err != nil {
		return err
	}
	configs := d.requestedConfigs()

	if o.Rebuild || o.BuildOnly {
		d.transition(Build)
		ok, err := d.build(ctx, res, configs, f)
		if err != nil || !ok {
			return err
		}
		if o.BuildOnly {
			res.pass()
			return nil
		}
	}

	d.transition(DiscoverTests)
	distDir := build.DistDir(o.TestDir)
	var tests map[buildcfg.Config][]testcase.Case
	err = d.timed(res, "Test discovery", func() error {
		var err error
		tests, err = testcase.Enumerate(&testcase.EnumerateOpts{
			DistDir: distDir,
			SrcDir:  o.TestSrc,
			Filter:  f,
			ABIs:    d.abis(),
			Configs: d.configs,
			Logger:  d.Logger,
		})
		return err
	})
	if err != nil {
		return err
	}
	if testcase.Count(tests) == 0 {
		if o.Rebuild {
			res.pass()
		} else {
			res.fail(fmt.Sprintf("Found no tests in %s for filter %s.", distDir, o.Filter))
		}
		return nil
	}
	if o.ShowTestStats {
		d.printTestStats(tests)
	}

	d.transition(DiscoverDevices)
	var fleet *device.Fleet
	err = d.timed(res, "Device discovery", func() error {
		var err error
		fleet, err = d.discover(ctx)
		return err
	})
	if err != nil {
		return err
	}
	d.Metrics.SetDeviceGroups(len(fleet.Groups()))
	missing := fleet.Missing()
	if len(missing) > 0 {
		d.Logger.Warn("Missing device configurations: " + strings.Join(missing, ", "))
	}
	if o.RequireAllDevices && len(missing) > 0 {
		res.fail(ErrMissingDevices.Error())
		return nil
	}

	d.transition(MatchConfigs)
	matched := device.MatchConfigs(fleet.Groups(), testcase.SortedConfigs(tests))
	unmatched := device.Unmatched(matched)
	for _, cfg := range unmatched {
		d.Logger.Warn(fmt.Sprintf("No device found for %s.", cfg))
	}
	if o.RequireAllDevices && len(unmatched) > 0 {
		res.fail(ErrMissingDevices.Error())
		return nil
	}

	if o.CleanDevice {
		d.transition(CleanDevice)
		if err := d.timed(res, "Clean device", func() error { return d.cleanDevices(ctx, fleet) }); err != nil {
			return err
		}
	}

	d.transition(Push)
	if err := d.timed(res, "Push", func() error { return d.push(ctx, distDir, matched) }); err != nil {
		return err
	}

	d.transition(Run)
	rep := report.New()
	res.Report = rep
	if err := d.timed(res, "Run", func() error { return d.runTests(ctx, fleet, tests, matched, rep) }); err != nil {
		return err
	}

	d.transition(Summarize)
	if err := d.Printer.PrintSummary(rep); err != nil {
		return err
	}
	if rep.Successful() {
		res.pass()
	} else {
		res.fail("")
	}
	return nil
}

// requestedConfigs are the build configs a rebuild produces: every requested
// ABI at its minimum API level.
func (d *Driver) requestedConfigs() []buildcfg.Config {
	var out []buildcfg.Config
	for _, abi := range d.abis() {
		out = append(out, buildcfg.Config{ABI: abi, API: buildcfg.MinAPI(abi)})
	}
	return out
}

func (d *Driver) build(ctx context.Context, res *Results, configs []buildcfg.Config, f *filter.Filter) (bool, error) {
	var rep *report.Report
	err := d.timed(res, "Build", func() error {
		var err error
		rep, err = build.Build(ctx, &build.Opts{
			Systems:     d.Config.BuildSystems(),
			Configs:     configs,
			SrcDir:      d.Opts.TestSrc,
			OutDir:      d.Opts.TestDir,
			NDK:         d.Opts.NDK,
			Filter:      d.Opts.Filter,
			Jobs:        d.Config.Build.Jobs,
			Clean:       d.Opts.Clean,
			TestConfigs: d.configs,
			Logger:      d.Logger,
			Exec:        d.BuildExec,
			Progress:    d.Display.Watch,
		})
		return err
	})
	d.Display.Stop()
	if err != nil {
		return false, err
	}
	res.Build = rep
	if rep.Successful() {
		n, err := d.builtTests(rep, f)
		if err != nil {
			return false, err
		}
		if n == 0 {
			res.fail(fmt.Sprintf("Found no tests for filter %s.", d.Opts.Filter))
			return false, nil
		}
	}
	if err := d.Printer.PrintSummary(rep); err != nil {
		return false, err
	}
	if !rep.Successful() {
		res.fail("")
		return false, nil
	}
	return true, nil
}

// builtTests counts the tests a build produced: LIT results plus the
// artifacts installed in dist that pass the filter.
func (d *Driver) builtTests(rep *report.Report, f *filter.Filter) (int, error) {
	tests, err := testcase.Enumerate(&testcase.EnumerateOpts{
		DistDir: build.DistDir(d.Opts.TestDir),
		SrcDir:  d.Opts.TestSrc,
		Filter:  f,
		ABIs:    d.abis(),
		Configs: d.configs,
		Logger:  d.Logger,
	})
	if errors.Is(err, os.ErrNotExist) {
		return build.CountTests(rep), nil
	}
	if err != nil {
		return 0, err
	}
	return build.CountTests(rep) + testcase.Count(tests), nil
}

func (d *Driver) printTestStats(tests map[buildcfg.Config][]testcase.Case) {
	stats := testcase.Stats(tests)
	for _, cfg := range testcase.SortedConfigs(stats) {
		fmt.Fprintf(d.Out, "Config %s:\n", cfg)
		bss := make([]string, 0, len(stats[cfg]))
		for bs := range stats[cfg] {
			bss = append(bss, bs)
		}
		sort.Strings(bss)
		for _, bs := range bss {
			fmt.Fprintf(d.Out, "\t%s: %d tests\n", bs, stats[cfg][bs])
		}
	}
}

// discover finds devices from the configured sources, starting a private
// adb server first when asked to.
func (d *Driver) discover(ctx context.Context) (*device.Fleet, error) {
	sources := d.Sources
	if sources == nil {
		if d.Config.ADB.PrivateServer {
			srv, err := adbserver.Start(ctx, &adbserver.StartOpts{
				ADB:    d.Config.ADB.Path,
				Port:   d.Config.ADB.Port,
				LogDir: d.Opts.RunDir,
			})
			if err != nil {
				return nil, err
			}
			d.adbServer = srv
			d.adbEnv = append(d.adbEnv, srv.Env())
		}
		sources = append(sources, &device.ADBSource{Path: d.Config.ADB.Path, Env: d.adbEnv, Logger: d.Logger})
		if specs := d.Config.ContainerSpecs(); len(specs) > 0 {
			sources = append(sources, &device.ContainerSource{Specs: specs})
		}
	}
	req, err := d.Config.DeviceRequest()
	if err != nil {
		return nil, err
	}
	fleet, err := device.FindDevices(ctx, d.Logger, req, sources...)
	if err != nil {
		return nil, err
	}
	if d.Opts.DisableVerity {
		if err := d.disableVerity(ctx, fleet); err != nil {
			return nil, err
		}
	}
	return fleet, nil
}

func (d *Driver) stopADBServer() {
	if d.adbServer == nil {
		return
	}
	if err := d.adbServer.Stop(); err != nil {
		d.Logger.Warn("stopping adb server", "error", err)
	}
	d.adbServer = nil
}

func (d *Driver) persist(res *Results) error {
	if d.Opts.RunDir == "" {
		return nil
	}
	s := &result.Summary{
		RunID:          res.RunID,
		StartedAt:      res.StartedAt,
		Success:        res.Success,
		FailureMessage: res.FailureMessage,
		Times:          res.Times,
	}
	if res.Build != nil {
		s.Build = res.Build.Records()
	}
	if res.Report != nil {
		s.Results = res.Report.Records()
	}
	if err := result.WriteSummary(d.Opts.RunDir, s); err != nil {
		return err
	}
	if d.Opts.JUnitPath != "" {
		if err := writeJUnit(d.Opts.JUnitPath, append(s.Build, s.Results...)); err != nil {
			return err
		}
	}
	if d.Opts.MetricsPath != "" {
		if err := os.MkdirAll(filepath.Dir(d.Opts.MetricsPath), 0o755); err != nil {
			return err
		}
		return d.Metrics.WriteFile(d.Opts.MetricsPath)
	}
	return nil
}

func writeJUnit(path string, records []result.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating junit report: %w", err)
	}
	if err := report.WriteJUnit(records, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
