package report

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/signalnine/shardrun/internal/device"
	"github.com/signalnine/shardrun/internal/result"
)

var (
	// adb can return no text at all under heavy load.
	DefaultFlakeMarkers = []string{device.NoExitStatusMessage}
	// These libc++ tests expect to finish within a fixed time and commonly
	// fail when devices are busy.
	DefaultFlakeNames = []string{"*libc++.libcxx/thread*", "*libc++.std/thread*"}
)

// FlakeFilter recognizes failures worth one retry.
type FlakeFilter struct {
	markers []string
	names   []glob.Glob
}

func NewFlakeFilter(markers, namePatterns []string) (*FlakeFilter, error) {
	f := &FlakeFilter{markers: markers}
	for _, p := range namePatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid flaky test pattern %q: %w", p, err)
		}
		f.names = append(f.names, g)
	}
	return f, nil
}

// IsFlaky never matches an unexpected success; a test that passes when it
// should fail is not a flake.
func (f *FlakeFilter) IsFlaky(r result.Result) bool {
	if r.Status != result.Failure {
		return false
	}
	for _, m := range f.markers {
		if strings.Contains(r.Message, m) {
			return true
		}
	}
	name := r.Test.Name()
	for _, g := range f.names {
		if g.Match(name) {
			return true
		}
	}
	return false
}
