package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"

	"github.com/signalnine/shardrun/internal/result"
)

var (
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	skipStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	knownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
)

func statusStyle(s result.Status) lipgloss.Style {
	switch s {
	case result.Success:
		return passStyle
	case result.Failure, result.UnexpectedSuccess:
		return failStyle
	case result.Skipped:
		return skipStyle
	default:
		return knownStyle
	}
}

// Printer writes results as they resolve and the final summary.
type Printer struct {
	W       io.Writer
	ShowAll bool
	Color   bool
}

func (p *Printer) status(s result.Status) string {
	if !p.Color {
		return s.String()
	}
	return statusStyle(s).Render(s.String())
}

// Format renders one result line, colored when Color is set.
func (p *Printer) Format(r result.Result) string {
	line := r.String()
	return p.status(r.Status) + strings.TrimPrefix(line, r.Status.String())
}

func (p *Printer) PrintResult(r result.Result) {
	fmt.Fprintln(p.W, p.Format(r))
}

// PrintSummary lists the results worth attention (everything with ShowAll)
// followed by a table of counts per build system.
func (p *Printer) PrintSummary(rep *Report) error {
	for _, suite := range rep.Suites() {
		for _, r := range rep.Results(suite) {
			if p.ShowAll || r.Failed() {
				p.PrintResult(r)
			}
		}
	}
	if rep.NumTests() == 0 {
		fmt.Fprintln(p.W, "No tests were run.")
		return nil
	}
	fmt.Fprintln(p.W)
	return writeTable(Summarize(rep.Records()), p.W)
}

// Counts tallies results of one build system by status.
type Counts struct {
	BuildSystem       string `json:"build_system"`
	Total             int    `json:"total"`
	Passed            int    `json:"passed"`
	Failed            int    `json:"failed"`
	Skipped           int    `json:"skipped"`
	ExpectedFailure   int    `json:"expected_failures"`
	UnexpectedSuccess int    `json:"unexpected_successes"`
}

func Summarize(records []result.Record) []Counts {
	byBS := map[string]*Counts{}
	for _, rec := range records {
		c, ok := byBS[rec.BuildSystem]
		if !ok {
			c = &Counts{BuildSystem: rec.BuildSystem}
			byBS[rec.BuildSystem] = c
		}
		c.Total++
		switch rec.Status {
		case result.Success:
			c.Passed++
		case result.Failure:
			c.Failed++
		case result.Skipped:
			c.Skipped++
		case result.ExpectedFailure:
			c.ExpectedFailure++
		case result.UnexpectedSuccess:
			c.UnexpectedSuccess++
		}
	}
	var out []Counts
	for _, c := range byBS {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BuildSystem < out[j].BuildSystem })
	return out
}

func writeTable(counts []Counts, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUILD SYSTEM\tTOTAL\tPASS\tFAIL\tSKIP\tKNOWN FAIL\tSHOULD FAIL")
	fmt.Fprintln(tw, strings.Repeat("-", 72))
	for _, c := range counts {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			c.BuildSystem, c.Total, c.Passed, c.Failed, c.Skipped, c.ExpectedFailure, c.UnexpectedSuccess)
	}
	return tw.Flush()
}
