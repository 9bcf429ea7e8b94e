package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/signalnine/shardrun/internal/buildcfg"
	"github.com/signalnine/shardrun/internal/report"
	"github.com/signalnine/shardrun/internal/result"
	"github.com/signalnine/shardrun/internal/runner"
	"github.com/signalnine/shardrun/internal/testcase"
	"github.com/signalnine/shardrun/internal/testconfig"
)

const XunitFile = "xunit.xml"

// DistDir is where builds install test artifacts under out.
func DistDir(out string) string {
	return filepath.Join(out, "dist")
}

// XunitPath is where the libc++ build leaves LIT's report for cfg.
func XunitPath(out string, cfg buildcfg.Config) string {
	return filepath.Join(out, cfg.String(), testcase.LibcxxDir, XunitFile)
}

type Opts struct {
	Systems []System
	Configs []buildcfg.Config
	SrcDir  string
	OutDir  string
	NDK     string
	Filter  string
	// Jobs bounds concurrent builds and is passed to each build as {jobs}.
	Jobs int
	// Clean removes OutDir before building.
	Clean       bool
	TestConfigs *testconfig.Cache
	Logger      *slog.Logger
	// Exec defaults to running the command on the host.
	Exec Exec
	// Progress, if set, is called with the queue so callers can watch it.
	Progress func(runner.Snapshotter)
}

// target identifies one build in the report.
type target struct {
	system string
	config buildcfg.Config
}

func (t target) Name() string            { return "build." + t.system }
func (t target) BuildSystem() string     { return t.system }
func (t target) Config() buildcfg.Config { return t.config }

type outcome struct {
	target  target
	results []result.Result
	failed  bool
}

// Build runs every system for every config, respecting DependsOn within a
// config. A build whose dependency failed is reported as skipped. The
// returned error is for problems outside the builds themselves.
func Build(ctx context.Context, opts *Opts) (*report.Report, error) {
	if err := CheckDependencies(opts.Systems); err != nil {
		return nil, err
	}
	if opts.Exec == nil {
		opts.Exec = execCommand
	}
	if opts.TestConfigs == nil {
		opts.TestConfigs = testconfig.NewCache()
	}
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if opts.Clean {
		if err := os.RemoveAll(opts.OutDir); err != nil {
			return nil, fmt.Errorf("cleaning %s: %w", opts.OutDir, err)
		}
	}
	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", opts.OutDir, err)
	}

	q := runner.NewWorkQueue(ctx, opts.Jobs, nil)
	defer func() {
		q.Terminate()
		q.Join()
	}()
	if opts.Progress != nil {
		opts.Progress(q)
	}

	rep := report.New()
	failed := map[target]bool{}
	for _, wave := range waves(opts.Systems) {
		for _, cfg := range opts.Configs {
			for _, sys := range wave {
				t := target{system: sys.Name, config: cfg}
				if dep, ok := failedDependency(sys, cfg, failed); ok {
					failed[t] = true
					rep.Add(sys.Name, result.Result{Status: result.Skipped, Test: t, Message: "dependency " + dep + " failed"})
					continue
				}
				q.AddTask(opts.task(sys, t))
			}
		}
		for !q.Finished() {
			v, err := q.GetResult()
			if err != nil {
				return nil, err
			}
			o := v.(outcome)
			if o.failed {
				failed[o.target] = true
			}
			for _, r := range o.results {
				rep.Add(r.Test.BuildSystem(), r)
			}
		}
	}
	return rep, nil
}

// CountTests counts the test-level results in a build report, leaving out
// the per-target build results.
func CountTests(rep *report.Report) int {
	n := 0
	for _, r := range rep.All() {
		if _, ok := r.Test.(target); !ok {
			n++
		}
	}
	return n
}

func failedDependency(sys System, cfg buildcfg.Config, failed map[target]bool) (string, bool) {
	for _, dep := range sys.DependsOn {
		if failed[target{system: dep, config: cfg}] {
			return dep, true
		}
	}
	return "", false
}

func (opts *Opts) task(sys System, t target) runner.Task {
	return func(ctx context.Context, w *runner.Worker) (any, error) {
		w.SetStatus(fmt.Sprintf("Building %s [%s]", sys.Name, t.config))
		argv := sys.Command(Vars{
			Config: t.config,
			SrcDir: opts.SrcDir,
			OutDir: opts.OutDir,
			NDK:    opts.NDK,
			Filter: opts.Filter,
			Jobs:   opts.Jobs,
		})
		opts.logger().Debug("building", "system", sys.Name, "config", t.config.String(), "argv", strings.Join(argv, " "))
		out, status, err := opts.Exec(ctx, opts.SrcDir, argv)
		if err != nil {
			return nil, err
		}
		r := result.FromRaw(t, result.Raw{Status: status, Output: out}, strings.Join(argv, " "))
		o := outcome{target: t, results: []result.Result{r}, failed: r.Failed()}
		if r.Failed() || sys.Name != testcase.LibcxxDir {
			return o, nil
		}

		xs, err := testcase.ParseXunitFile(XunitPath(opts.OutDir, t.config), t.config, opts.SrcDir, opts.TestConfigs)
		if errors.Is(err, fs.ErrNotExist) {
			return o, nil
		}
		if err != nil {
			return nil, err
		}
		for _, x := range xs {
			xr, err := x.Result()
			if err != nil {
				return nil, err
			}
			o.results = append(o.results, xr)
		}
		return o, nil
	}
}

func (opts *Opts) logger() *slog.Logger {
	if opts.Logger == nil {
		return slog.Default()
	}
	return opts.Logger
}
