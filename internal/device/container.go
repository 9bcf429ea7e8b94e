package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/signalnine/shardrun/internal/docker"
)

// StorageRoot is the device path backed by a container's staging directory.
const StorageRoot = "/data/local/tmp"

// ContainerSpec describes a virtual device: a container image that can run
// binaries for the listed ABIs, reporting itself as the given API level.
type ContainerSpec struct {
	Name       string
	Image      string
	API        int
	ABIs       []string
	StagingDir string
	Props      map[string]string
	Timeout    time.Duration
}

// Container runs each shell command in a fresh container with StagingDir
// mounted at StorageRoot. Pushes copy into the staging directory, so commands
// run as the host user to keep it writable.
type Container struct {
	Image      string
	StagingDir string
	Props      map[string]string
	Timeout    time.Duration

	// Run defaults to docker.RunContainer.
	Run func(ctx context.Context, opts *docker.RunOpts) (*docker.RunResult, error)
}

func (c *Container) Shell(ctx context.Context, cmd []string) (ShellResult, error) {
	run := c.Run
	if run == nil {
		run = docker.RunContainer
	}
	res, err := run(ctx, &docker.RunOpts{
		Image:   c.Image,
		Command: []string{"sh", "-c", strings.Join(cmd, " ")},
		Mounts:  []docker.Mount{{Source: c.StagingDir, Target: StorageRoot}},
		Timeout: c.Timeout,
		UserID:  fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
	})
	if err != nil {
		return ShellResult{}, err
	}
	if res.TimedOut {
		return ShellResult{Status: res.ExitCode, Stdout: res.Output}, fmt.Errorf("command timed out after %s", c.Timeout)
	}
	return ShellResult{Status: res.ExitCode, Stdout: res.Output}, nil
}

// hostPath maps a device path under StorageRoot into the staging directory.
func (c *Container) hostPath(devicePath string) (string, error) {
	clean := path.Clean(devicePath)
	if clean != StorageRoot && !strings.HasPrefix(clean, StorageRoot+"/") {
		return "", fmt.Errorf("path %s is outside %s", devicePath, StorageRoot)
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(clean, StorageRoot), "/")
	return filepath.Join(c.StagingDir, filepath.FromSlash(rel)), nil
}

// Push follows adb semantics: pushing into an existing directory creates
// dst/<base of src>, otherwise src is copied to dst.
func (c *Container) Push(ctx context.Context, src, dst string, _ bool) error {
	target, err := c.hostPath(dst)
	if err != nil {
		return err
	}
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		target = filepath.Join(target, filepath.Base(src))
	}
	return copyTree(ctx, src, target)
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		out := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(out, 0o755)
		}
		return copyFile(p, out)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (c *Container) GetProp(_ context.Context, name string) (string, error) {
	return c.Props[name], nil
}

func (c *Container) Root(context.Context) error           { return nil }
func (c *Container) Reboot(context.Context) error         { return nil }
func (c *Container) WaitUntilReady(context.Context) error { return nil }

// ContainerSource yields one device per configured container.
type ContainerSource struct {
	Specs []ContainerSpec
}

func (s *ContainerSource) Devices(context.Context) ([]*Device, error) {
	devices := make([]*Device, 0, len(s.Specs))
	for _, spec := range s.Specs {
		if spec.StagingDir == "" {
			return nil, errors.New("container device " + spec.Name + ": staging_dir is required")
		}
		if err := os.MkdirAll(spec.StagingDir, 0o755); err != nil {
			return nil, fmt.Errorf("container device %s: %w", spec.Name, err)
		}
		devices = append(devices, &Device{
			Serial:  "container:" + spec.Name,
			Name:    spec.Name,
			Version: spec.API,
			ABIs:    append([]string(nil), spec.ABIs...),
			Transport: &Container{
				Image:      spec.Image,
				StagingDir: spec.StagingDir,
				Props:      spec.Props,
				Timeout:    spec.Timeout,
			},
		})
	}
	return devices, nil
}
