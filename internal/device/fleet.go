package device

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
)

// Request lists the device configurations a run wants: API level to ABIs.
type Request map[int][]string

type slot struct {
	version int
	abi     string
}

// Fleet holds the device groups chosen to satisfy a Request. Each requested
// (API level, ABI) slot is filled by at most one group; extra groups that
// duplicate an already filled slot are not used.
type Fleet struct {
	requested Request
	slots     map[slot]*Group
}

func NewFleet(req Request) *Fleet {
	f := &Fleet{requested: req, slots: map[slot]*Group{}}
	for version, abis := range req {
		for _, abi := range abis {
			f.slots[slot{version, abi}] = nil
		}
	}
	return f
}

// AddGroup assigns g to every empty requested slot it can fill.
func (f *Fleet) AddGroup(g *Group) {
	for _, abi := range f.requested[g.Version()] {
		s := slot{g.Version(), abi}
		if f.slots[s] != nil {
			continue
		}
		if !slices.Contains(g.ABIs(), abi) {
			continue
		}
		f.slots[s] = g
	}
}

// Groups returns the distinct groups filling at least one slot, ordered by key.
func (f *Fleet) Groups() []*Group {
	seen := map[*Group]bool{}
	var groups []*Group
	for _, g := range f.slots {
		if g == nil || seen[g] {
			continue
		}
		seen[g] = true
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key() < groups[j].Key() })
	return groups
}

func (f *Fleet) Devices() []*Device {
	var devices []*Device
	for _, g := range f.Groups() {
		devices = append(devices, g.Devices...)
	}
	return devices
}

// Missing lists requested slots no device could fill, as "android-<api> <abi>".
func (f *Fleet) Missing() []string {
	var missing []slot
	for s, g := range f.slots {
		if g == nil {
			missing = append(missing, s)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		if missing[i].version != missing[j].version {
			return missing[i].version < missing[j].version
		}
		return missing[i].abi < missing[j].abi
	})
	out := make([]string, len(missing))
	for i, s := range missing {
		out[i] = fmt.Sprintf("android-%d %s", s.version, s.abi)
	}
	return out
}

// Source enumerates reachable devices.
type Source interface {
	Devices(ctx context.Context) ([]*Device, error)
}

// FindDevices collects devices from every source, groups identical devices,
// and fills req from those groups. An empty req asks for every discovered
// (API level, ABI) pair.
func FindDevices(ctx context.Context, logger *slog.Logger, req Request, sources ...Source) (*Fleet, error) {
	var all []*Device
	for _, src := range sources {
		devices, err := src.Devices(ctx)
		if err != nil {
			return nil, fmt.Errorf("discovering devices: %w", err)
		}
		all = append(all, devices...)
	}
	groups := GroupDevices(all)
	if len(req) == 0 {
		req = Request{}
		for _, g := range groups {
			for _, abi := range g.ABIs() {
				if !slices.Contains(req[g.Version()], abi) {
					req[g.Version()] = append(req[g.Version()], abi)
				}
			}
		}
	}
	fleet := NewFleet(req)
	for _, g := range groups {
		logger.Debug("found device group", "group", g.String())
		fleet.AddGroup(g)
	}
	return fleet, nil
}
