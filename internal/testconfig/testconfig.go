// Package testconfig loads the per-test declarations that mark tests as
// unsupported or known-broken for some configurations.
//
// Declarations live in a test_config.yaml file next to the test sources:
//
//	unsupported:
//	  - abis: [armeabi-v7a]
//	broken:
//	  - api_below: 24
//	    subtests: ["thread_*"]
//	    bug: https://github.com/android/ndk/issues/1
package testconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"
)

const FileName = "test_config.yaml"

type Rule struct {
	ABIs       []string `yaml:"abis"`
	APIBelow   int      `yaml:"api_below"`
	APIAtLeast int      `yaml:"api_at_least"`
	Subtests   []string `yaml:"subtests"`
	Reason     string   `yaml:"reason"`
	Bug        string   `yaml:"bug"`

	subtests []glob.Glob
}

type Config struct {
	Unsupported           []Rule `yaml:"unsupported"`
	Broken                []Rule `yaml:"broken"`
	BuildUnsupportedRules []Rule `yaml:"build_unsupported"`
	BuildBrokenRules      []Rule `yaml:"build_broken"`
}

// Load reads the declarations in dir. A directory without a declaration file
// yields an empty Config.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading test config %s: %w", path, err)
	}
	return Parse(data, path)
}

func Parse(data []byte, source string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing test config %s: %w", source, err)
	}
	for _, rules := range [][]Rule{cfg.Unsupported, cfg.Broken, cfg.BuildUnsupportedRules, cfg.BuildBrokenRules} {
		for i := range rules {
			if err := rules[i].compile(); err != nil {
				return nil, fmt.Errorf("test config %s: %w", source, err)
			}
		}
	}
	return &cfg, nil
}

func (r *Rule) compile() error {
	for _, s := range r.Subtests {
		g, err := glob.Compile(s)
		if err != nil {
			return fmt.Errorf("invalid subtest pattern %q: %w", s, err)
		}
		r.subtests = append(r.subtests, g)
	}
	return nil
}

func (r *Rule) matches(abi string, api int, subtest string) bool {
	if len(r.ABIs) > 0 && !contains(r.ABIs, abi) {
		return false
	}
	if r.APIBelow > 0 && api >= r.APIBelow {
		return false
	}
	if r.APIAtLeast > 0 && api < r.APIAtLeast {
		return false
	}
	if len(r.subtests) > 0 {
		matched := false
		for _, g := range r.subtests {
			if g.Match(subtest) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// describe names the configuration a rule matched, for messages such as
// "test unsupported for x86".
func (r *Rule) describe(abi string, api int, subtest string) string {
	switch {
	case r.Reason != "":
		return r.Reason
	case len(r.ABIs) > 0:
		return abi
	case r.APIBelow > 0 || r.APIAtLeast > 0:
		return fmt.Sprintf("android-%d", api)
	default:
		return subtest
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func firstMatch(rules []Rule, abi string, api int, subtest string) (*Rule, bool) {
	for i := range rules {
		if rules[i].matches(abi, api, subtest) {
			return &rules[i], true
		}
	}
	return nil, false
}

// RunUnsupported returns the configuration that makes subtest unrunnable on
// a device of the given ABI and API level.
func (c *Config) RunUnsupported(abi string, api int, subtest string) (string, bool) {
	r, ok := firstMatch(c.Unsupported, abi, api, subtest)
	if !ok {
		return "", false
	}
	return r.describe(abi, api, subtest), true
}

// RunBroken returns the configuration and bug for a known runtime failure.
func (c *Config) RunBroken(abi string, api int, subtest string) (string, string, bool) {
	r, ok := firstMatch(c.Broken, abi, api, subtest)
	if !ok {
		return "", "", false
	}
	return r.describe(abi, api, subtest), r.Bug, true
}

func (c *Config) BuildUnsupported(abi string, api int, subtest string) (string, bool) {
	r, ok := firstMatch(c.BuildUnsupportedRules, abi, api, subtest)
	if !ok {
		return "", false
	}
	return r.describe(abi, api, subtest), true
}

func (c *Config) BuildBroken(abi string, api int, subtest string) (string, string, bool) {
	r, ok := firstMatch(c.BuildBrokenRules, abi, api, subtest)
	if !ok {
		return "", "", false
	}
	return r.describe(abi, api, subtest), r.Bug, true
}

// Cache memoizes Load by directory. It is safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	configs map[string]*Config
}

func NewCache() *Cache {
	return &Cache{configs: map[string]*Config{}}
}

func (c *Cache) Get(dir string) (*Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cfg, ok := c.configs[dir]; ok {
		return cfg, nil
	}
	cfg, err := Load(dir)
	if err != nil {
		return nil, err
	}
	c.configs[dir] = cfg
	return cfg, nil
}
