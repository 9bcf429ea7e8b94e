package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"

	"github.com/signalnine/shardrun/internal/result"
)

// Generate reads the stored summary of a run and renders it.
func Generate(runDir, format string, w io.Writer) error {
	s, err := result.ReadSummary(filepath.Join(runDir, result.SummaryFile))
	if err != nil {
		return err
	}

	switch format {
	case "markdown":
		return writeMarkdown(s, w)
	case "json":
		return writeJSON(Summarize(s.Results), w)
	case "junit":
		return WriteJUnit(s.Results, w)
	case "table", "":
		if err := writeFailures(s.Results, w); err != nil {
			return err
		}
		return writeTable(Summarize(s.Results), w)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func writeFailures(records []result.Record, w io.Writer) error {
	for _, rec := range records {
		if rec.Status != result.Failure && rec.Status != result.UnexpectedSuccess {
			continue
		}
		if _, err := fmt.Fprintf(w, "%s %s [%s]: %s\n", rec.Status, rec.Name, rec.Config, firstLine(rec.Message)); err != nil {
			return err
		}
	}
	return nil
}

func writeMarkdown(s *result.Summary, w io.Writer) error {
	verdict := "passed"
	if !s.Success {
		verdict = "failed"
	}
	fmt.Fprintf(w, "## Run %s (%s)\n\n", s.RunID, verdict)
	if s.FailureMessage != "" {
		fmt.Fprintf(w, "> %s\n\n", s.FailureMessage)
	}
	fmt.Fprintln(w, "| Build System | Total | Pass | Fail | Skip | Known Fail | Should Fail |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|")
	for _, c := range Summarize(s.Results) {
		fmt.Fprintf(w, "| %s | %d | %d | %d | %d | %d | %d |\n",
			c.BuildSystem, c.Total, c.Passed, c.Failed, c.Skipped, c.ExpectedFailure, c.UnexpectedSuccess)
	}
	if len(s.Times) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Phase | Duration |")
		fmt.Fprintln(w, "|---|---|")
		for _, t := range s.Times {
			fmt.Fprintf(w, "| %s | %s |\n", t.Label, t.Duration)
		}
	}
	return nil
}

func writeJSON(counts []Counts, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(counts)
}
