package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalnine/shardrun/internal/buildcfg"
	"github.com/signalnine/shardrun/internal/config"
	"github.com/signalnine/shardrun/internal/driver"
	"github.com/signalnine/shardrun/internal/logging"
	"github.com/signalnine/shardrun/internal/metrics"
	"github.com/signalnine/shardrun/internal/report"
	"github.com/signalnine/shardrun/internal/result"
	"github.com/signalnine/shardrun/internal/ui"
)

const defaultTestDir = "out/tests"

var errRunFailed = errors.New("test run failed")

var (
	flagFilter            string
	flagABIs              []string
	flagRebuild           bool
	flagBuildOnly         bool
	flagClean             bool
	flagCleanDevice       bool
	flagRequireAllDevices bool
	flagShowAll           bool
	flagShowTestStats     bool
	flagTestSrc           string
	flagNDK               string
	flagDisableVerity     bool
	flagJUnit             string
	flagMetricsFile       string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [TEST_DIR]",
		Short: "Push built tests to devices and run them",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTests,
	}
	f := cmd.Flags()
	f.StringVar(&flagFilter, "filter", "", "comma-separated test name globs, e.g. 'math.*,libc++.std/thread*'")
	f.StringSliceVar(&flagABIs, "abi", nil, "test only this ABI (repeatable)")
	f.BoolVar(&flagRebuild, "rebuild", false, "build the tests before running them")
	f.BoolVar(&flagBuildOnly, "build-only", false, "build the tests and exit")
	f.BoolVar(&flagClean, "clean", false, "remove the test output directory before building")
	f.BoolVar(&flagCleanDevice, "clean-device", false, "remove old tests from devices before pushing")
	f.BoolVar(&flagRequireAllDevices, "require-all-devices", false, "fail if any requested device or config has no device")
	f.BoolVar(&flagShowAll, "show-all", false, "print every result, not just failures")
	f.BoolVar(&flagShowTestStats, "show-test-stats", false, "print test counts per config and build system")
	f.StringVar(&flagTestSrc, "test-src", "", "test source directory (default ./tests)")
	f.StringVar(&flagNDK, "ndk", "", "NDK to build with (default build.ndk or $ANDROID_NDK_ROOT)")
	f.BoolVar(&flagDisableVerity, "disable-verity", false, "disable dm-verity on adb devices before pushing")
	f.StringVar(&flagJUnit, "junit", "", "also write results as JUnit XML to this path")
	f.StringVar(&flagMetricsFile, "metrics-file", "", "write Prometheus metrics in textfile format to this path")
	cmd.MarkFlagsMutuallyExclusive("rebuild", "build-only")
	return cmd
}

func runTests(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFlag(cmd)
	if err != nil {
		return err
	}
	if err := checkABIs(flagABIs); err != nil {
		return err
	}
	testDir := defaultTestDir
	if len(args) > 0 {
		testDir = args[0]
	}
	testSrc, err := resolveTestSrc(flagTestSrc)
	if err != nil {
		return err
	}

	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, verbosity, runDir)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.Info("run directory", "dir", runDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	display := ui.New(os.Stdout)
	d := &driver.Driver{
		Config: cfg,
		Opts: driver.Options{
			TestDir:           testDir,
			TestSrc:           testSrc,
			NDK:               resolveNDK(flagNDK, cfg),
			Filter:            flagFilter,
			ABIs:              flagABIs,
			Rebuild:           flagRebuild,
			BuildOnly:         flagBuildOnly,
			Clean:             flagClean,
			CleanDevice:       flagCleanDevice,
			RequireAllDevices: flagRequireAllDevices,
			ShowTestStats:     flagShowTestStats,
			DisableVerity:     flagDisableVerity,
			Verbose:           verbosity > 0,
			RunDir:            runDir,
			JUnitPath:         flagJUnit,
			MetricsPath:       flagMetricsFile,
		},
		Logger:  logger.Logger,
		Out:     display,
		Display: display,
		Printer: &report.Printer{W: display, ShowAll: flagShowAll, Color: stdoutIsTerminal()},
		Metrics: metrics.New(),
	}

	start := time.Now()
	res, runErr := d.Run(ctx)
	display.Close()

	printOutcome(cmd, res, time.Since(start))
	if runErr != nil {
		return runErr
	}
	if !res.Success {
		return errRunFailed
	}
	return nil
}

func checkABIs(abis []string) error {
	for _, abi := range abis {
		if !buildcfg.IsKnownABI(abi) {
			return fmt.Errorf("unknown ABI %q (want one of %v)", abi, buildcfg.ABIs)
		}
	}
	return nil
}

// resolveTestSrc defaults to ./tests, which must then exist.
func resolveTestSrc(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	src, err := filepath.Abs("tests")
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("test source directory does not exist: %s", src)
	}
	return src, nil
}

func resolveNDK(flag string, cfg *config.Config) string {
	for _, v := range []string{flag, cfg.Build.NDK, os.Getenv("ANDROID_NDK_ROOT")} {
		if v != "" {
			return v
		}
	}
	return ""
}

func printOutcome(cmd *cobra.Command, res *driver.Results, total time.Duration) {
	w := cmd.OutOrStdout()
	if res == nil {
		return
	}
	if res.Success {
		fmt.Fprintln(w, "Finished successfully")
	} else {
		fmt.Fprintln(w, "Finished unsuccessfully")
	}
	if res.FailureMessage != "" {
		fmt.Fprintln(w, res.FailureMessage)
	}
	for _, t := range orderedTimes(res.Times) {
		fmt.Fprintf(w, "%s: %s\n", t.Label, t.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(w, "Total: %s\n", total.Round(time.Millisecond))
}

var phaseOrder = []string{"Build", "Test discovery", "Device discovery", "Clean device", "Push", "Run"}

func orderedTimes(times []result.Timing) []result.Timing {
	out := slices.Clone(times)
	slices.SortStableFunc(out, func(a, b result.Timing) int {
		return phaseIndex(a.Label) - phaseIndex(b.Label)
	})
	return out
}

func phaseIndex(label string) int {
	if i := slices.Index(phaseOrder, label); i >= 0 {
		return i
	}
	return len(phaseOrder)
}
