// Package device models test devices, the transports used to reach them,
// and the grouping of identical devices into shards.
package device

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/signalnine/shardrun/internal/buildcfg"
)

// TestBaseDir is where test artifacts are pushed on every device.
const TestBaseDir = "/data/local/tmp/tests"

type ShellResult struct {
	Status int
	Stdout string
	Stderr string
}

// Transport is the command and file channel to one device.
type Transport interface {
	Shell(ctx context.Context, cmd []string) (ShellResult, error)
	Push(ctx context.Context, src, dst string, sync bool) error
	GetProp(ctx context.Context, name string) (string, error)
	Root(ctx context.Context) error
	Reboot(ctx context.Context) error
	WaitUntilReady(ctx context.Context) error
}

type Device struct {
	Serial    string
	Name      string
	Version   int
	ABIs      []string
	Transport Transport
}

// CanRun reports whether cfg's binaries can execute on d.
func (d *Device) CanRun(cfg buildcfg.Config) bool {
	return d.Version >= cfg.API && slices.Contains(d.ABIs, cfg.ABI)
}

func (d *Device) String() string {
	return fmt.Sprintf("android-%d %s %s %s", d.Version, strings.Join(d.ABIs, ","), d.Name, d.Serial)
}

// ShellNoCheck runs cmd and folds transport errors into a failed result, so
// a broken connection reads as a failing command rather than aborting the
// caller.
func (d *Device) ShellNoCheck(ctx context.Context, cmd []string) ShellResult {
	res, err := d.Transport.Shell(ctx, cmd)
	if err != nil {
		return ShellResult{Status: 1, Stdout: fmt.Sprintf("%s: %v", d.Serial, err)}
	}
	return res
}

// Shell runs cmd and fails on a non-zero exit status.
func (d *Device) Shell(ctx context.Context, cmd []string) (string, error) {
	res, err := d.Transport.Shell(ctx, cmd)
	if err != nil {
		return "", fmt.Errorf("%s: shell %q: %w", d.Serial, strings.Join(cmd, " "), err)
	}
	if res.Status != 0 {
		return res.Stdout, fmt.Errorf("%s: shell %q exited with status %d: %s", d.Serial, strings.Join(cmd, " "), res.Status, res.Stdout+res.Stderr)
	}
	return res.Stdout, nil
}

func (d *Device) Push(ctx context.Context, src, dst string, sync bool) error {
	if err := d.Transport.Push(ctx, src, dst, sync); err != nil {
		return fmt.Errorf("%s: push %s %s: %w", d.Serial, src, dst, err)
	}
	return nil
}
