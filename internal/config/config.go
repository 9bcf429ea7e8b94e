package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalnine/shardrun/internal/build"
	"github.com/signalnine/shardrun/internal/buildcfg"
	"github.com/signalnine/shardrun/internal/device"
	"github.com/signalnine/shardrun/internal/report"
)

const (
	DefaultWorkersPerDevice = 1
	DefaultFlakyCooldown    = 10 * time.Second
	DefaultResultsDir       = "results"
	DefaultADB              = "adb"
)

type Config struct {
	ABIs []string `yaml:"abis"`
	// Devices maps an API level to the ABIs wanted at that level. Keys are
	// strings so JSON device lists parse as well.
	Devices          map[string][]string `yaml:"devices"`
	WorkersPerDevice int                 `yaml:"workers_per_device"`
	Flaky            Flaky               `yaml:"flaky"`
	Results          Results             `yaml:"results"`
	ADB              ADB                 `yaml:"adb"`
	Containers       []Container         `yaml:"containers"`
	Build            Build               `yaml:"build"`
}

type Flaky struct {
	Cooldown     time.Duration `yaml:"cooldown"`
	Markers      []string      `yaml:"markers"`
	NamePatterns []string      `yaml:"name_patterns"`
}

type Results struct {
	Dir string `yaml:"dir"`
}

type ADB struct {
	Path          string `yaml:"path"`
	PrivateServer bool   `yaml:"private_server"`
	// Port for the private server; zero picks a free port.
	Port int `yaml:"port"`
}

type Container struct {
	Name       string            `yaml:"name"`
	Image      string            `yaml:"image"`
	API        int               `yaml:"api"`
	ABIs       []string          `yaml:"abis"`
	StagingDir string            `yaml:"staging_dir"`
	Props      map[string]string `yaml:"props"`
	Timeout    time.Duration     `yaml:"timeout"`
}

type Build struct {
	NDK     string        `yaml:"ndk"`
	Jobs    int           `yaml:"jobs"`
	Systems []BuildSystem `yaml:"systems"`
}

type BuildSystem struct {
	Name      string   `yaml:"name"`
	Argv      []string `yaml:"argv"`
	DependsOn []string `yaml:"depends_on"`
}

// Default is used when no config file exists: every ABI, the default flake
// rules and no device requirements.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if len(cfg.ABIs) == 0 {
		cfg.ABIs = append([]string(nil), buildcfg.ABIs...)
	}
	if cfg.WorkersPerDevice == 0 {
		cfg.WorkersPerDevice = DefaultWorkersPerDevice
	}
	if cfg.Flaky.Cooldown == 0 {
		cfg.Flaky.Cooldown = DefaultFlakyCooldown
	}
	if cfg.Flaky.Markers == nil {
		cfg.Flaky.Markers = report.DefaultFlakeMarkers
	}
	if cfg.Flaky.NamePatterns == nil {
		cfg.Flaky.NamePatterns = report.DefaultFlakeNames
	}
	if cfg.Results.Dir == "" {
		cfg.Results.Dir = DefaultResultsDir
	}
	if cfg.ADB.Path == "" {
		cfg.ADB.Path = DefaultADB
	}
	if cfg.Build.Jobs == 0 {
		cfg.Build.Jobs = 1
	}
}

func validate(cfg *Config) error {
	for _, abi := range cfg.ABIs {
		if !buildcfg.IsKnownABI(abi) {
			return fmt.Errorf("unknown ABI %q", abi)
		}
	}
	if cfg.WorkersPerDevice < 1 {
		return fmt.Errorf("workers_per_device must be at least 1")
	}
	if cfg.Flaky.Cooldown < 0 {
		return fmt.Errorf("flaky.cooldown must not be negative")
	}
	if _, err := report.NewFlakeFilter(cfg.Flaky.Markers, cfg.Flaky.NamePatterns); err != nil {
		return err
	}
	if _, err := cfg.DeviceRequest(); err != nil {
		return err
	}
	names := map[string]bool{}
	for i, c := range cfg.Containers {
		if c.Name == "" {
			return fmt.Errorf("container %d: name is required", i)
		}
		if names[c.Name] {
			return fmt.Errorf("container %q defined twice", c.Name)
		}
		names[c.Name] = true
		if c.Image == "" {
			return fmt.Errorf("container %q: image is required", c.Name)
		}
		if c.StagingDir == "" {
			return fmt.Errorf("container %q: staging_dir is required", c.Name)
		}
		if c.API < 1 || len(c.ABIs) == 0 {
			return fmt.Errorf("container %q: api and abis are required", c.Name)
		}
	}
	for i, s := range cfg.Build.Systems {
		if s.Name == "" {
			return fmt.Errorf("build system %d: name is required", i)
		}
		if len(s.Argv) == 0 {
			return fmt.Errorf("build system %q: argv is required", s.Name)
		}
	}
	if cfg.Build.Jobs < 1 {
		return fmt.Errorf("build.jobs must be at least 1")
	}
	return build.CheckDependencies(cfg.BuildSystems())
}

// DeviceRequest converts the devices section, checking every API level
// and ABI.
func (cfg *Config) DeviceRequest() (device.Request, error) {
	req := device.Request{}
	for key, abis := range cfg.Devices {
		api, err := strconv.Atoi(key)
		if err != nil || api < 1 {
			return nil, fmt.Errorf("devices: invalid API level %q", key)
		}
		for _, abi := range abis {
			if !buildcfg.IsKnownABI(abi) {
				return nil, fmt.Errorf("devices: unknown ABI %q for API %d", abi, api)
			}
		}
		req[api] = append(req[api], abis...)
	}
	return req, nil
}

func (cfg *Config) BuildSystems() []build.System {
	var out []build.System
	for _, s := range cfg.Build.Systems {
		out = append(out, build.System{Name: s.Name, Argv: s.Argv, DependsOn: s.DependsOn})
	}
	return out
}

func (cfg *Config) ContainerSpecs() []device.ContainerSpec {
	var out []device.ContainerSpec
	for _, c := range cfg.Containers {
		out = append(out, device.ContainerSpec{
			Name:       c.Name,
			Image:      c.Image,
			API:        c.API,
			ABIs:       c.ABIs,
			StagingDir: c.StagingDir,
			Props:      c.Props,
			Timeout:    c.Timeout,
		})
	}
	return out
}
