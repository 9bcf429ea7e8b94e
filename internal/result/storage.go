package result

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const SummaryFile = "results.json"

func CreateRunDir(baseDir string) (string, error) {
	runsDir := filepath.Join(baseDir, "runs")
	stamp := time.Now().UTC().Format("2006-01-02T15-04-05")
	runDir := filepath.Join(runsDir, stamp)
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, "latest")
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

// Record is the stored form of a Result.
type Record struct {
	Name        string `json:"name"`
	BuildSystem string `json:"build_system"`
	Config      string `json:"config"`
	Group       string `json:"group,omitempty"`
	Status      Status `json:"status"`
	Message     string `json:"message,omitempty"`
	Reason      string `json:"reason,omitempty"`
	Bug         string `json:"bug,omitempty"`
}

type grouped interface {
	GroupName() string
}

func NewRecord(r Result) Record {
	rec := Record{
		Name:        r.Test.Name(),
		BuildSystem: r.Test.BuildSystem(),
		Config:      r.Test.Config().String(),
		Status:      r.Status,
		Message:     r.Message,
		Reason:      r.Reason,
		Bug:         r.Bug,
	}
	if g, ok := r.Test.(grouped); ok {
		rec.Group = g.GroupName()
	}
	return rec
}

type Timing struct {
	Label    string        `json:"label"`
	Duration time.Duration `json:"duration_ns"`
}

// Summary is everything persisted about one run.
type Summary struct {
	RunID          string    `json:"run_id"`
	StartedAt      time.Time `json:"started_at"`
	Success        bool      `json:"success"`
	FailureMessage string    `json:"failure_message,omitempty"`
	Times          []Timing  `json:"times"`
	Build          []Record  `json:"build,omitempty"`
	Results        []Record  `json:"results"`
}

func WriteSummary(runDir string, s *Summary) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}
	return os.WriteFile(filepath.Join(runDir, SummaryFile), data, 0o644)
}

func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading summary: %w", err)
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing summary: %w", err)
	}
	return &s, nil
}
