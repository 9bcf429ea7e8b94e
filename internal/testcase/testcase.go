// Package testcase discovers built tests and runs them on devices.
//
// A Case is one test artifact for one build configuration. The set of case
// kinds is closed: Basic (tests built by ndk-build or CMake), Libcxx (tests
// built by the libc++ LIT runner) and Xunit (results LIT already produced,
// reported without running anything).
package testcase

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/signalnine/shardrun/internal/buildcfg"
	"github.com/signalnine/shardrun/internal/device"
	"github.com/signalnine/shardrun/internal/result"
	"github.com/signalnine/shardrun/internal/testconfig"
)

type Case interface {
	Name() string
	Config() buildcfg.Config
	BuildSystem() string
	DeviceDir() string
	// CheckUnsupported returns the configuration that prevents the case from
	// running on d.
	CheckUnsupported(d *device.Device) (string, bool, error)
	// CheckBroken returns the known-failure declaration that applies on d,
	// or nil.
	CheckBroken(d *device.Device) (*result.Broken, error)
	Run(ctx context.Context, d *device.Device) result.Raw

	isCase()
}

type base struct {
	name        string
	config      buildcfg.Config
	buildSystem string
	deviceDir   string
	configDir   string
	configs     *testconfig.Cache
}

func (b *base) Name() string            { return b.name }
func (b *base) Config() buildcfg.Config { return b.config }
func (b *base) BuildSystem() string     { return b.buildSystem }
func (b *base) DeviceDir() string       { return b.deviceDir }
func (b *base) String() string          { return fmt.Sprintf("%s [%s]", b.name, b.config) }
func (b *base) isCase()                 {}

func (b *base) testConfig() (*testconfig.Config, error) {
	return b.configs.Get(b.configDir)
}

func runShell(ctx context.Context, d *device.Device, logger *slog.Logger, cmd string) result.Raw {
	if logger != nil {
		logger.Info("shell_nocheck", "device", d.Serial, "cmd", cmd)
	}
	res := d.ShellNoCheck(ctx, []string{cmd})
	return result.Raw{Status: res.Status, Output: res.Stdout}
}

// Basic is a test executable laid out as <suite>/<abi>/<executable>, with
// its shared libraries next to it.
type Basic struct {
	base
	Suite      string
	Executable string
	Logger     *slog.Logger
}

func NewBasic(suite, executable, srcDir string, cfg buildcfg.Config, buildSystem, deviceDir string, configs *testconfig.Cache) *Basic {
	return &Basic{
		base: base{
			name:        suite + "." + executable,
			config:      cfg,
			buildSystem: buildSystem,
			deviceDir:   deviceDir,
			configDir:   filepath.Join(srcDir, "device", suite),
			configs:     configs,
		},
		Suite:      suite,
		Executable: executable,
	}
}

func (c *Basic) CheckUnsupported(d *device.Device) (string, bool, error) {
	tc, err := c.testConfig()
	if err != nil {
		return "", false, err
	}
	reason, ok := tc.RunUnsupported(c.config.ABI, d.Version, c.Executable)
	return reason, ok, nil
}

func (c *Basic) CheckBroken(d *device.Device) (*result.Broken, error) {
	tc, err := c.testConfig()
	if err != nil {
		return nil, err
	}
	return brokenOrNil(tc.RunBroken(c.config.ABI, d.Version, c.Executable)), nil
}

func (c *Basic) Run(ctx context.Context, d *device.Device) result.Raw {
	cmd := fmt.Sprintf("cd %s && LD_LIBRARY_PATH=%s ./%s 2>&1", c.deviceDir, c.deviceDir, c.Executable)
	return runShell(ctx, d, c.Logger, cmd)
}

// Libcxx is a LIT-built libc++ test. The suite is the directory path under
// the libcxx build output, starting with "libc++".
type Libcxx struct {
	base
	Suite      string
	Executable string
	Logger     *slog.Logger
}

func NewLibcxx(suite, executable, srcDir string, cfg buildcfg.Config, deviceDir string, configs *testconfig.Cache) *Libcxx {
	// Top level tests need no mangling to match the build filters.
	filterName := executable
	if suite != "libc++" {
		filterName = strings.TrimPrefix(suite, "libc++/") + "/" + executable
	}
	_, subdir, _ := strings.Cut(suite, "/")
	return &Libcxx{
		base: base{
			name:        "libc++." + strings.TrimSuffix(filterName, ".exe"),
			config:      cfg,
			buildSystem: LibcxxBuildSystem,
			deviceDir:   deviceDir,
			configDir:   filepath.Join(srcDir, "libc++", "test", filepath.FromSlash(subdir)),
			configs:     configs,
		},
		Suite:      suite,
		Executable: executable,
	}
}

// subtest strips the source and .exe extensions: foo.pass.cpp.exe is foo.pass.
func (c *Libcxx) subtest() string {
	name := strings.TrimSuffix(c.Executable, path.Ext(c.Executable))
	return strings.TrimSuffix(name, path.Ext(name))
}

func (c *Libcxx) CheckUnsupported(d *device.Device) (string, bool, error) {
	tc, err := c.testConfig()
	if err != nil {
		return "", false, err
	}
	reason, ok := tc.RunUnsupported(c.config.ABI, d.Version, c.subtest())
	return reason, ok, nil
}

func (c *Libcxx) CheckBroken(d *device.Device) (*result.Broken, error) {
	tc, err := c.testConfig()
	if err != nil {
		return nil, err
	}
	return brokenOrNil(tc.RunBroken(c.config.ABI, d.Version, c.subtest())), nil
}

func (c *Libcxx) Run(ctx context.Context, d *device.Device) result.Raw {
	soDir := path.Join(device.TestBaseDir, c.config.String(), "libcxx", "libc++")
	cmd := fmt.Sprintf("cd %s && LD_LIBRARY_PATH=%s ./%s 2>&1", c.deviceDir, soDir, c.Executable)
	return runShell(ctx, d, c.Logger, cmd)
}

func brokenOrNil(reason, bug string, ok bool) *result.Broken {
	if !ok {
		return nil
	}
	return &result.Broken{Reason: reason, Bug: bug}
}
