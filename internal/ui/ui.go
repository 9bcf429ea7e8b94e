// Package ui shows queue progress while tests run. Terminals get a live
// bubbletea view; anything else gets plain line output.
package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/signalnine/shardrun/internal/runner"
)

// Display prints result lines and optionally tracks a queue's progress.
// Writes are split into lines and printed above the progress block.
type Display interface {
	io.Writer
	Println(line string)
	// Watch shows progress of q until Stop. Only one queue is watched at a
	// time; a new Watch replaces the previous one.
	Watch(q runner.Snapshotter)
	Stop()
	// Close releases the terminal. Output after Close is dropped.
	Close()
}

// Render produces the progress block for a snapshot.
func Render(s runner.Snapshot, showWorkers bool) []string {
	var lines []string
	if showWorkers {
		for _, w := range s.Workers {
			lines = append(lines, fmt.Sprintf("%s: %s", w.Worker, w.Status))
		}
	}
	lines = append(lines, fmt.Sprintf("%6d tests remaining", s.Remaining))
	for _, sh := range s.Shards {
		lines = append(lines, fmt.Sprintf("%6d %s", sh.Pending, sh.Group))
	}
	return lines
}

// New picks the live display when f is a terminal.
func New(f *os.File) Display {
	if term.IsTerminal(int(f.Fd())) {
		return NewLive(f)
	}
	return NewPlain(f)
}

// Plain writes result lines only.
type Plain struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPlain(w io.Writer) *Plain {
	return &Plain{w: w}
}

func (p *Plain) Println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, line)
}

func (p *Plain) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.w.Write(b)
}

func (p *Plain) Watch(runner.Snapshotter) {}
func (p *Plain) Stop()                    {}
func (p *Plain) Close()                   {}
