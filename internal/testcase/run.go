package testcase

import (
	"context"
	"fmt"

	"github.com/signalnine/shardrun/internal/buildcfg"
	"github.com/signalnine/shardrun/internal/device"
	"github.com/signalnine/shardrun/internal/result"
)

// Run binds a case to the device group it is scheduled on. Retries go back to
// the same group.
type Run struct {
	Case  Case
	Group *device.Group
}

func (r *Run) Name() string            { return r.Case.Name() }
func (r *Run) BuildSystem() string     { return r.Case.BuildSystem() }
func (r *Run) Config() buildcfg.Config { return r.Case.Config() }
func (r *Run) GroupName() string       { return r.Group.String() }
func (r *Run) String() string          { return fmt.Sprintf("%s [%s %s]", r.Name(), r.Config(), r.Group) }

// Execute runs the case on d, which must be a member of r.Group. Unsupported
// cases are skipped without touching the device. Errors are reserved for
// problems outside the test itself, such as an unreadable test config.
func (r *Run) Execute(ctx context.Context, d *device.Device) (result.Result, error) {
	reason, unsupported, err := r.Case.CheckUnsupported(d)
	if err != nil {
		return result.Result{}, err
	}
	if unsupported {
		return result.Skip(r, reason), nil
	}
	res := result.FromRaw(r, r.Case.Run(ctx, d), d.String())
	broken, err := r.Case.CheckBroken(d)
	if err != nil {
		return result.Result{}, err
	}
	return result.Reconcile(res, broken), nil
}

// Pair builds a Run for every case on every group its config matched.
func Pair(cases map[buildcfg.Config][]Case, groups map[buildcfg.Config][]*device.Group) []*Run {
	var runs []*Run
	for _, cfg := range SortedConfigs(cases) {
		for _, g := range groups[cfg] {
			for _, c := range cases[cfg] {
				runs = append(runs, &Run{Case: c, Group: g})
			}
		}
	}
	return runs
}
