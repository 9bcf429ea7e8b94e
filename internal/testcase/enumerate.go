package testcase

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/signalnine/shardrun/internal/buildcfg"
	"github.com/signalnine/shardrun/internal/device"
	"github.com/signalnine/shardrun/internal/filter"
	"github.com/signalnine/shardrun/internal/testconfig"
)

// Build system directories under each config in the dist tree. build.sh and
// test.py tests are build-only and are not listed.
const (
	CMakeBuildSystem    = "cmake"
	NdkBuildBuildSystem = "ndk-build"
	LibcxxDir           = "libcxx"
	// LibcxxBuildSystem is the report name for libc++ tests.
	LibcxxBuildSystem = "libc++"
)

var ErrNoTests = errors.New("no tests found")

type EnumerateOpts struct {
	// DistDir is <test dir>/dist, containing one directory per config.
	DistDir string
	// SrcDir is the test source tree holding test_config.yaml files.
	SrcDir string
	Filter *filter.Filter
	// ABIs restricts the configs considered; empty means all.
	ABIs    []string
	Configs *testconfig.Cache
	Logger  *slog.Logger
}

type enumerator func(opts *EnumerateOpts, cfg buildcfg.Config, buildSystem string) ([]Case, error)

var enumerators = map[string]enumerator{
	CMakeBuildSystem:    enumerateBasic,
	LibcxxDir:           enumerateLibcxx,
	NdkBuildBuildSystem: enumerateBasic,
}

// Enumerate scans DistDir for test artifacts. Missing build system or ABI
// directories are skipped.
func Enumerate(opts *EnumerateOpts) (map[buildcfg.Config][]Case, error) {
	if opts.Filter == nil {
		opts.Filter = &filter.Filter{}
	}
	if opts.Configs == nil {
		opts.Configs = testconfig.NewCache()
	}
	entries, err := os.ReadDir(opts.DistDir)
	if err != nil {
		return nil, fmt.Errorf("reading test dir: %w", err)
	}

	tests := map[buildcfg.Config][]Case{}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cfg, err := buildcfg.Parse(e.Name())
		if err != nil {
			return nil, err
		}
		if len(opts.ABIs) > 0 && !slices.Contains(opts.ABIs, cfg.ABI) {
			continue
		}
		if _, ok := tests[cfg]; !ok {
			tests[cfg] = nil
		}
		for _, bs := range sortedKeys(enumerators) {
			cases, err := enumerators[bs](opts, cfg, bs)
			if err != nil {
				return nil, err
			}
			tests[cfg] = append(tests[cfg], cases...)
		}
	}
	return tests, nil
}

func sortedKeys(m map[string]enumerator) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func deviceDirFor(distDir, dir string) (string, error) {
	rel, err := filepath.Rel(distDir, dir)
	if err != nil {
		return "", err
	}
	return path.Join(device.TestBaseDir, filepath.ToSlash(rel)), nil
}

func enumerateBasic(opts *EnumerateOpts, cfg buildcfg.Config, buildSystem string) ([]Case, error) {
	testsDir := filepath.Join(opts.DistDir, cfg.String(), buildSystem)
	suites, err := os.ReadDir(testsDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", testsDir, err)
	}

	var cases []Case
	for _, suite := range suites {
		if !suite.IsDir() || !opts.Filter.MatchSuite(suite.Name()) {
			continue
		}
		outDir := filepath.Join(testsDir, suite.Name(), cfg.ABI)
		files, err := os.ReadDir(outDir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", outDir, err)
		}
		deviceDir, err := deviceDirFor(opts.DistDir, outDir)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			name := f.Name()
			if f.IsDir() || strings.HasSuffix(name, ".so") || strings.HasSuffix(name, ".sh") {
				continue
			}
			if !opts.Filter.Match(suite.Name() + "." + name) {
				continue
			}
			c := NewBasic(suite.Name(), name, opts.SrcDir, cfg, buildSystem, deviceDir, opts.Configs)
			c.Logger = opts.Logger
			cases = append(cases, c)
		}
	}
	return cases, nil
}

func enumerateLibcxx(opts *EnumerateOpts, cfg buildcfg.Config, buildSystem string) ([]Case, error) {
	testsDir := filepath.Join(opts.DistDir, cfg.String(), buildSystem)
	if _, err := os.Stat(testsDir); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var cases []Case
	err := filepath.WalkDir(testsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".exe") {
			return nil
		}
		dir := filepath.Dir(p)
		rel, err := filepath.Rel(testsDir, dir)
		if err != nil {
			return err
		}
		suite := filepath.ToSlash(rel)
		if suite != "libc++" && !strings.HasPrefix(suite, "libc++/") {
			return fmt.Errorf("unexpected libc++ test directory %s", suite)
		}
		deviceDir, err := deviceDirFor(opts.DistDir, dir)
		if err != nil {
			return err
		}
		c := NewLibcxx(suite, d.Name(), opts.SrcDir, cfg, deviceDir, opts.Configs)
		if !opts.Filter.Match(c.Name()) {
			return nil
		}
		c.Logger = opts.Logger
		cases = append(cases, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning libc++ tests: %w", err)
	}
	return cases, nil
}

// SortedConfigs returns the configs of tests in string order.
func SortedConfigs[T any](tests map[buildcfg.Config]T) []buildcfg.Config {
	cfgs := make([]buildcfg.Config, 0, len(tests))
	for cfg := range tests {
		cfgs = append(cfgs, cfg)
	}
	sort.Slice(cfgs, func(i, j int) bool { return cfgs[i].String() < cfgs[j].String() })
	return cfgs
}

func Count(tests map[buildcfg.Config][]Case) int {
	n := 0
	for _, cases := range tests {
		n += len(cases)
	}
	return n
}

// Stats counts cases per config and build system.
func Stats(tests map[buildcfg.Config][]Case) map[buildcfg.Config]map[string]int {
	stats := map[buildcfg.Config]map[string]int{}
	for cfg, cases := range tests {
		stats[cfg] = map[string]int{}
		for _, c := range cases {
			stats[cfg][c.BuildSystem()]++
		}
	}
	return stats
}
