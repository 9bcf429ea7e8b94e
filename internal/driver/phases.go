package driver

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/signalnine/shardrun/internal/buildcfg"
	"github.com/signalnine/shardrun/internal/device"
	"github.com/signalnine/shardrun/internal/report"
	"github.com/signalnine/shardrun/internal/result"
	"github.com/signalnine/shardrun/internal/runner"
	"github.com/signalnine/shardrun/internal/testcase"
)

func (d *Driver) disableVerity(ctx context.Context, fleet *device.Fleet) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, dev := range fleet.Devices() {
		g.Go(func() error {
			return device.DisableVerity(ctx, d.Logger, dev)
		})
	}
	return g.Wait()
}

// deviceQueue runs tasks one at a time per device, with devices in
// parallel.
func deviceQueue(ctx context.Context, devices []*device.Device) (*runner.ShardingWorkQueue, map[*device.Device]*device.Group, error) {
	byDevice := map[*device.Device]*device.Group{}
	var groups []*device.Group
	for _, dev := range devices {
		g, err := device.NewGroup(dev)
		if err != nil {
			return nil, nil, err
		}
		byDevice[dev] = g
		groups = append(groups, g)
	}
	return runner.NewShardingWorkQueue(ctx, groups, 1), byDevice, nil
}

// drain collects every outstanding result. The first fatal error terminates
// the queue and is returned.
func drain(q interface {
	Finished() bool
	GetResult() (any, error)
}, each func(any)) error {
	for !q.Finished() {
		v, err := q.GetResult()
		if err != nil {
			return err
		}
		if each != nil {
			each(v)
		}
	}
	return nil
}

func (d *Driver) cleanDevices(ctx context.Context, fleet *device.Fleet) error {
	q, groups, err := deviceQueue(ctx, fleet.Devices())
	if err != nil {
		return err
	}
	defer func() {
		q.Terminate()
		q.Join()
	}()
	for dev, g := range groups {
		fmt.Fprintf(d.Out, "Clearing test directory on %s.\n", dev)
		err := q.AddTask(g, func(ctx context.Context, w *runner.Worker) (any, error) {
			cmd := []string{"rm", "-r", device.TestBaseDir}
			d.Logger.Info("shell_nocheck", "device", w.Device.Serial, "cmd", cmd)
			w.Device.ShellNoCheck(ctx, cmd)
			return nil, nil
		})
		if err != nil {
			return err
		}
	}
	return drain(q, nil)
}

func (d *Driver) useSync(ctx context.Context) bool {
	features := d.Features
	if features == nil {
		features = func(ctx context.Context) ([]string, error) {
			return device.HostFeatures(ctx, d.Config.ADB.Path, d.adbEnv)
		}
	}
	fs, err := features(ctx)
	if err != nil {
		d.Logger.Warn("could not read adb host features", "error", err)
		return false
	}
	return slices.Contains(fs, "push_sync")
}

// push copies each config's dist directory to every device of every group
// matched to it. A device receives its pushes one at a time.
func (d *Driver) push(ctx context.Context, distDir string, matched map[buildcfg.Config][]*device.Group) error {
	var devices []*device.Device
	for _, groups := range matched {
		for _, g := range groups {
			for _, dev := range g.Devices {
				if !slices.Contains(devices, dev) {
					devices = append(devices, dev)
				}
			}
		}
	}
	if len(devices) == 0 {
		return nil
	}
	sync := d.useSync(ctx)

	q, queues, err := deviceQueue(ctx, devices)
	if err != nil {
		return err
	}
	defer func() {
		d.Display.Stop()
		q.Terminate()
		q.Join()
	}()
	for _, cfg := range testcase.SortedConfigs(matched) {
		src := filepath.Join(distDir, cfg.String())
		for _, g := range matched[cfg] {
			for _, dev := range g.Devices {
				if err := q.AddTask(queues[dev], pushTask(d, cfg, src, sync)); err != nil {
					return err
				}
			}
		}
	}
	d.Display.Watch(q)
	if err := drain(q, nil); err != nil {
		return err
	}
	d.Display.Println("Finished pushing tests")
	return nil
}

func pushTask(d *Driver, cfg buildcfg.Config, src string, sync bool) runner.Task {
	return func(ctx context.Context, w *runner.Worker) (any, error) {
		dev := w.Device
		w.SetStatus(fmt.Sprintf("Pushing %s tests to %s.", cfg, dev))
		d.Logger.Info("mkdir", "device", dev.Serial, "dir", device.TestBaseDir)
		dev.ShellNoCheck(ctx, []string{"mkdir", device.TestBaseDir})
		d.Logger.Info("push", "device", dev.Serial, "src", src, "dst", device.TestBaseDir, "sync", sync)
		if err := dev.Push(ctx, src, device.TestBaseDir, sync); err != nil {
			return nil, fmt.Errorf("pushing %s tests to %s: %w", cfg, dev.Serial, err)
		}
		return nil, nil
	}
}

func runTask(run *testcase.Run) runner.Task {
	return func(ctx context.Context, w *runner.Worker) (any, error) {
		w.SetStatus("Running " + run.Name())
		res, err := run.Execute(ctx, w.Device)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", run, err)
		}
		return res, nil
	}
}

func (d *Driver) runTests(ctx context.Context, fleet *device.Fleet, tests map[buildcfg.Config][]testcase.Case, matched map[buildcfg.Config][]*device.Group, rep *report.Report) error {
	q := runner.NewShardingWorkQueue(ctx, fleet.Groups(), d.Config.WorkersPerDevice)
	defer func() {
		d.Display.Stop()
		q.Terminate()
		q.Join()
	}()

	// Pairs come out ordered by config and group, so without shuffling most
	// running tests would target the same device.
	runs := testcase.Pair(tests, matched)
	d.Rand.Shuffle(len(runs), func(i, j int) { runs[i], runs[j] = runs[j], runs[i] })
	for _, r := range runs {
		if err := q.AddTask(r.Group, runTask(r)); err != nil {
			return err
		}
	}
	d.Display.Watch(q)
	d.Metrics.SetOutstanding(len(runs))

	collect := func(v any) {
		r := v.(result.Result)
		rep.Add(r.Test.BuildSystem(), r)
		d.Metrics.SetOutstanding(q.Snapshot().Remaining)
		if d.Opts.Verbose || d.Printer.ShowAll || r.Failed() {
			d.Display.Println(d.Printer.Format(r))
		}
	}
	if err := drain(q, collect); err != nil {
		return err
	}

	d.transition(FlakyRetry)
	if err := d.retryFlaky(ctx, q, rep); err != nil {
		return err
	}
	if err := drain(q, collect); err != nil {
		return err
	}
	// Counted once the retries are in, so replaced flaky failures are not.
	for _, r := range rep.All() {
		d.Metrics.ObserveResult(r.Status.String(), r.Test.BuildSystem())
	}
	return nil
}

// retryFlaky requeues every flaky failure once on the group it ran on,
// after letting the devices cool down.
func (d *Driver) retryFlaky(ctx context.Context, q *runner.ShardingWorkQueue, rep *report.Report) error {
	rerun := rep.RemoveAllFailingFlaky(d.flaky.IsFlaky)
	if len(rerun) == 0 {
		return nil
	}
	cooldown := d.Config.Flaky.Cooldown
	d.Logger.Warn(fmt.Sprintf("Found %d flaky failures. Sleeping for %s to let devices recover.", len(rerun), cooldown))
	d.Metrics.ObserveRetries(len(rerun))
	select {
	case <-d.Clock.After(cooldown):
	case <-ctx.Done():
		return ctx.Err()
	}

	for _, r := range rerun {
		d.Logger.Warn("Flaky test failure: " + r.String())
		run, ok := r.Test.(*testcase.Run)
		if !ok {
			return errors.New("flaky result is not a scheduled test run: " + result.Label(r.Test))
		}
		if err := q.AddTask(run.Group, runTask(run)); err != nil {
			return err
		}
	}
	return nil
}
