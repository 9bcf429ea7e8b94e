package device

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/signalnine/shardrun/internal/buildcfg"
)

// Group is a set of interchangeable devices: every member has the same API
// level and the same ABI set, so any member can run any task routed to the
// group. Groups are immutable once built.
type Group struct {
	Devices []*Device
	version int
	abis    []string
}

func NewGroup(devices ...*Device) (*Group, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("device group must not be empty")
	}
	first := devices[0]
	abis := sortedABIs(first.ABIs)
	for _, d := range devices[1:] {
		if d.Version != first.Version || !slices.Equal(sortedABIs(d.ABIs), abis) {
			return nil, fmt.Errorf("device %s does not match group %s", d, groupKey(first.Version, abis))
		}
	}
	return &Group{
		Devices: append([]*Device(nil), devices...),
		version: first.Version,
		abis:    abis,
	}, nil
}

func (g *Group) Version() int   { return g.version }
func (g *Group) ABIs() []string { return g.abis }
func (g *Group) Key() string    { return groupKey(g.version, g.abis) }
func (g *Group) String() string {
	return fmt.Sprintf("%d devices android-%d %s", len(g.Devices), g.version, strings.Join(g.abis, ", "))
}

// CanRun holds when every member can run cfg.
func (g *Group) CanRun(cfg buildcfg.Config) bool {
	for _, d := range g.Devices {
		if !d.CanRun(cfg) {
			return false
		}
	}
	return true
}

func groupKey(version int, abis []string) string {
	return fmt.Sprintf("android-%d %s", version, strings.Join(abis, ","))
}

func sortedABIs(abis []string) []string {
	s := append([]string(nil), abis...)
	sort.Strings(s)
	return s
}

// GroupDevices partitions devices by (API level, ABI set). Groups are ordered
// by key and members keep their input order.
func GroupDevices(devices []*Device) []*Group {
	byKey := map[string][]*Device{}
	var keys []string
	for _, d := range devices {
		k := groupKey(d.Version, sortedABIs(d.ABIs))
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], d)
	}
	sort.Strings(keys)
	groups := make([]*Group, 0, len(keys))
	for _, k := range keys {
		// Members share a key, so NewGroup cannot fail here.
		g, _ := NewGroup(byKey[k]...)
		groups = append(groups, g)
	}
	return groups
}
