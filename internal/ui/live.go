package ui

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/signalnine/shardrun/internal/runner"
)

const refreshInterval = 100 * time.Millisecond

var progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))

type tickMsg time.Time

type watchMsg struct{ q runner.Snapshotter }

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type model struct {
	q     runner.Snapshotter
	lines []string
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case watchMsg:
		m.q = msg.q
		m.lines = m.render()
	case tickMsg:
		m.lines = m.render()
		return m, tick()
	}
	return m, nil
}

func (m model) render() []string {
	if m.q == nil {
		return nil
	}
	return Render(m.q.Snapshot(), true)
}

func (m model) View() string {
	if len(m.lines) == 0 {
		return ""
	}
	return progressStyle.Render(strings.Join(m.lines, "\n"))
}

// Live redraws the progress block below scrolling result lines.
type Live struct {
	program *tea.Program
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	partial []byte
}

func NewLive(w io.Writer) *Live {
	l := &Live{done: make(chan struct{})}
	l.program = tea.NewProgram(model{}, tea.WithOutput(w), tea.WithInput(nil), tea.WithoutSignalHandler())
	go func() {
		defer close(l.done)
		l.program.Run()
	}()
	return l
}

func (l *Live) Println(line string) {
	l.program.Println(line)
}

// Write prints complete lines; a trailing partial line is held until the
// next write completes it.
func (l *Live) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partial = append(l.partial, b...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		l.program.Println(string(l.partial[:i]))
		l.partial = l.partial[i+1:]
	}
	return len(b), nil
}

func (l *Live) Watch(q runner.Snapshotter) {
	l.program.Send(watchMsg{q: q})
}

// Stop clears the progress block.
func (l *Live) Stop() {
	l.program.Send(watchMsg{q: nil})
}

// Close flushes any partial line and waits for the program to exit.
func (l *Live) Close() {
	l.once.Do(func() {
		l.mu.Lock()
		if len(l.partial) > 0 {
			l.program.Println(string(l.partial))
			l.partial = nil
		}
		l.mu.Unlock()
		l.program.Send(watchMsg{q: nil})
		l.program.Quit()
		<-l.done
	})
}
