package device

import (
	"sort"

	"github.com/signalnine/shardrun/internal/buildcfg"
)

// MatchConfigs maps each config to the groups whose every member can run it.
// Configs with no eligible group map to an empty slice.
func MatchConfigs(groups []*Group, configs []buildcfg.Config) map[buildcfg.Config][]*Group {
	matched := make(map[buildcfg.Config][]*Group, len(configs))
	for _, cfg := range configs {
		matched[cfg] = []*Group{}
		for _, g := range groups {
			if g.CanRun(cfg) {
				matched[cfg] = append(matched[cfg], g)
			}
		}
	}
	return matched
}

// Unmatched returns the configs with no eligible group, sorted by name.
func Unmatched(matched map[buildcfg.Config][]*Group) []buildcfg.Config {
	var out []buildcfg.Config
	for cfg, groups := range matched {
		if len(groups) == 0 {
			out = append(out, cfg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
