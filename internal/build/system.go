// Package build runs the configured build systems for every build
// configuration and collects their outcomes into a report.
package build

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/signalnine/shardrun/internal/buildcfg"
	"github.com/signalnine/shardrun/internal/graph"
)

// System is one build system. Argv may use the placeholders {abi}, {api},
// {config}, {src}, {out}, {dist}, {ndk}, {filter} and {jobs}.
type System struct {
	Name      string
	Argv      []string
	DependsOn []string
}

// Vars are the values substituted into a System's argv.
type Vars struct {
	Config buildcfg.Config
	SrcDir string
	OutDir string
	NDK    string
	Filter string
	Jobs   int
}

func (s System) Command(v Vars) []string {
	r := strings.NewReplacer(
		"{abi}", v.Config.ABI,
		"{api}", strconv.Itoa(v.Config.API),
		"{config}", v.Config.String(),
		"{src}", v.SrcDir,
		"{out}", v.OutDir,
		"{dist}", DistDir(v.OutDir),
		"{ndk}", v.NDK,
		"{filter}", v.Filter,
		"{jobs}", strconv.Itoa(v.Jobs),
	)
	argv := make([]string, len(s.Argv))
	for i, a := range s.Argv {
		argv[i] = r.Replace(a)
	}
	return argv
}

// CheckDependencies rejects unknown dependencies and dependency cycles.
func CheckDependencies(systems []System) error {
	nodes := map[string]*graph.Node{}
	var all []*graph.Node
	for _, s := range systems {
		if _, ok := nodes[s.Name]; ok {
			return fmt.Errorf("build system %q defined twice", s.Name)
		}
		n := &graph.Node{Name: s.Name}
		nodes[s.Name] = n
		all = append(all, n)
	}
	for _, s := range systems {
		for _, dep := range s.DependsOn {
			d, ok := nodes[dep]
			if !ok {
				return fmt.Errorf("build system %q depends on unknown build system %q", s.Name, dep)
			}
			nodes[s.Name].Outs = append(nodes[s.Name].Outs, d)
		}
	}
	if cycle := graph.New(all).FindCycle(); cycle != nil {
		return fmt.Errorf("build system dependency cycle: %s", strings.Join(graph.Names(cycle), " -> "))
	}
	return nil
}

// waves orders systems so that each one comes after its dependencies.
// Systems in the same wave are independent. The dependencies must be valid.
func waves(systems []System) [][]System {
	done := map[string]bool{}
	remaining := append([]System(nil), systems...)
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].Name < remaining[j].Name })

	var out [][]System
	for len(remaining) > 0 {
		var wave, rest []System
		for _, s := range remaining {
			ready := true
			for _, dep := range s.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, s)
			} else {
				rest = append(rest, s)
			}
		}
		if len(wave) == 0 {
			panic("build: dependency cycle among " + fmt.Sprint(rest))
		}
		for _, s := range wave {
			done[s.Name] = true
		}
		out = append(out, wave)
		remaining = rest
	}
	return out
}
