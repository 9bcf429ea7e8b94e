package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// NoExitStatusMessage is reported when adb returns without the exit status
// marker, which happens when adbd drops output under load.
const NoExitStatusMessage = "Could not find exit status in shell output."

var errNoExitStatus = errors.New(NoExitStatusMessage)

var exitStatusRE = regexp.MustCompile(`x(\d+)$`)

// ADB reaches a device through the adb client binary.
type ADB struct {
	Path   string
	Serial string
	// Env is appended to the environment of every adb invocation, e.g. to
	// select a private adb server.
	Env []string
}

func (a *ADB) command(ctx context.Context, args ...string) *exec.Cmd {
	path := a.Path
	if path == "" {
		path = "adb"
	}
	if a.Serial != "" {
		args = append([]string{"-s", a.Serial}, args...)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	if len(a.Env) > 0 {
		cmd.Env = append(os.Environ(), a.Env...)
	}
	return cmd
}

func (a *ADB) run(ctx context.Context, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := a.command(ctx, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("adb %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// Shell runs cmd on the device. adb shell does not forward the remote exit
// status on older devices, so the command echoes it as a trailing marker.
func (a *ADB) Shell(ctx context.Context, cmd []string) (ShellResult, error) {
	remote := strings.Join(cmd, " ") + "; echo -n x$?"
	var stdout, stderr bytes.Buffer
	c := a.command(ctx, "shell", remote)
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return ShellResult{}, fmt.Errorf("adb shell: %w", err)
		}
	}
	out, status, err := parseExitStatus(stdout.String())
	if err != nil {
		return ShellResult{Stdout: out, Stderr: stderr.String()}, err
	}
	return ShellResult{Status: status, Stdout: out, Stderr: stderr.String()}, nil
}

func parseExitStatus(out string) (string, int, error) {
	m := exitStatusRE.FindStringSubmatchIndex(out)
	if m == nil {
		return out, 0, errNoExitStatus
	}
	status, err := strconv.Atoi(out[m[2]:m[3]])
	if err != nil {
		return out, 0, errNoExitStatus
	}
	return out[:m[0]], status, nil
}

func (a *ADB) Push(ctx context.Context, src, dst string, sync bool) error {
	args := []string{"push"}
	if sync {
		args = append(args, "--sync")
	}
	args = append(args, src, dst)
	_, err := a.run(ctx, args...)
	return err
}

func (a *ADB) GetProp(ctx context.Context, name string) (string, error) {
	res, err := a.Shell(ctx, []string{"getprop", name})
	if err != nil {
		return "", err
	}
	if res.Status != 0 {
		return "", fmt.Errorf("getprop %s exited with status %d", name, res.Status)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (a *ADB) Root(ctx context.Context) error {
	if _, err := a.run(ctx, "root"); err != nil {
		return err
	}
	return a.WaitUntilReady(ctx)
}

func (a *ADB) Reboot(ctx context.Context) error {
	_, err := a.run(ctx, "reboot")
	return err
}

func (a *ADB) WaitUntilReady(ctx context.Context) error {
	_, err := a.run(ctx, "wait-for-device")
	return err
}

// DisableVerity runs adb disable-verity and returns its output. The command
// does not set a meaningful exit status, so only the output is reliable.
func (a *ADB) DisableVerity(ctx context.Context) (string, error) {
	out, err := a.command(ctx, "disable-verity").CombinedOutput()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return string(out), fmt.Errorf("adb disable-verity: %w", err)
	}
	return string(out), nil
}

// HostFeatures returns the features supported by the adb host.
func HostFeatures(ctx context.Context, adbPath string, env []string) ([]string, error) {
	out, err := (&ADB{Path: adbPath, Env: env}).run(ctx, "host-features")
	if err != nil {
		return nil, err
	}
	return parseFeatures(out), nil
}

func parseFeatures(out string) []string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return nil
	}
	return strings.Split(last, ",")
}

func parseDevices(out string) []string {
	var serials []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[1] != "device" {
			continue
		}
		serials = append(serials, fields[0])
	}
	sort.Strings(serials)
	return serials
}

// Probe reads the identity of the device behind t.
func Probe(ctx context.Context, serial string, t Transport) (*Device, error) {
	sdk, err := t.GetProp(ctx, "ro.build.version.sdk")
	if err != nil {
		return nil, fmt.Errorf("%s: reading API level: %w", serial, err)
	}
	version, err := strconv.Atoi(sdk)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid API level %q: %w", serial, sdk, err)
	}
	abiList, err := t.GetProp(ctx, "ro.product.cpu.abilist")
	if err != nil {
		return nil, fmt.Errorf("%s: reading ABIs: %w", serial, err)
	}
	if abiList == "" {
		// Pre-L devices only report a primary and secondary ABI.
		primary, _ := t.GetProp(ctx, "ro.product.cpu.abi")
		secondary, _ := t.GetProp(ctx, "ro.product.cpu.abi2")
		abiList = strings.Trim(primary+","+secondary, ",")
	}
	name, err := t.GetProp(ctx, "ro.product.name")
	if err != nil {
		return nil, fmt.Errorf("%s: reading product name: %w", serial, err)
	}
	var abis []string
	for _, abi := range strings.Split(abiList, ",") {
		if abi = strings.TrimSpace(abi); abi != "" {
			abis = append(abis, abi)
		}
	}
	return &Device{
		Serial:    serial,
		Name:      name,
		Version:   version,
		ABIs:      abis,
		Transport: t,
	}, nil
}

// ADBSource discovers devices attached to the adb server.
type ADBSource struct {
	Path   string
	Env    []string
	Logger *slog.Logger
	// Probers bounds concurrent device probes; zero means unbounded.
	Probers int
}

func (s *ADBSource) Devices(ctx context.Context) ([]*Device, error) {
	out, err := (&ADB{Path: s.Path, Env: s.Env}).run(ctx, "devices")
	if err != nil {
		return nil, err
	}
	serials := parseDevices(out)
	devices := make([]*Device, len(serials))

	g, ctx := errgroup.WithContext(ctx)
	if s.Probers > 0 {
		g.SetLimit(s.Probers)
	}
	for i, serial := range serials {
		g.Go(func() error {
			d, err := Probe(ctx, serial, &ADB{Path: s.Path, Serial: serial, Env: s.Env})
			if err != nil {
				return err
			}
			if s.Logger != nil {
				s.Logger.Debug("probed device", "device", d.String())
			}
			devices[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return devices, nil
}
