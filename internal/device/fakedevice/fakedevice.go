// Package fakedevice provides an in-memory device transport for tests.
package fakedevice

import (
	"context"
	"strings"
	"sync"

	"github.com/signalnine/shardrun/internal/device"
)

// ShellFunc answers a shell command. Returning an error simulates a
// transport failure.
type ShellFunc func(cmd string) (device.ShellResult, error)

type Push struct {
	Src, Dst string
	Sync     bool
}

// Transport records every call and answers shell commands with Handler, or
// with a successful empty result when Handler is nil.
type Transport struct {
	Handler ShellFunc
	Props   map[string]string

	mu       sync.Mutex
	commands []string
	pushes   []Push
	reboots  int
	roots    int
}

func (t *Transport) Shell(_ context.Context, cmd []string) (device.ShellResult, error) {
	joined := strings.Join(cmd, " ")
	t.mu.Lock()
	t.commands = append(t.commands, joined)
	handler := t.Handler
	t.mu.Unlock()
	if handler == nil {
		return device.ShellResult{}, nil
	}
	return handler(joined)
}

func (t *Transport) Push(_ context.Context, src, dst string, sync bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pushes = append(t.pushes, Push{Src: src, Dst: dst, Sync: sync})
	return nil
}

func (t *Transport) GetProp(_ context.Context, name string) (string, error) {
	return t.Props[name], nil
}

func (t *Transport) Root(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roots++
	return nil
}

func (t *Transport) Reboot(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reboots++
	return nil
}

func (t *Transport) WaitUntilReady(context.Context) error { return nil }

func (t *Transport) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.commands...)
}

func (t *Transport) Pushes() []Push {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Push(nil), t.pushes...)
}

func (t *Transport) Reboots() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reboots
}

// New returns a device backed by a fresh Transport.
func New(serial string, version int, abis ...string) (*device.Device, *Transport) {
	t := &Transport{Props: map[string]string{}}
	return &device.Device{
		Serial:    serial,
		Name:      "fake",
		Version:   version,
		ABIs:      abis,
		Transport: t,
	}, t
}

// Source serves a fixed device list.
type Source []*device.Device

func (s Source) Devices(context.Context) ([]*device.Device, error) {
	return s, nil
}
