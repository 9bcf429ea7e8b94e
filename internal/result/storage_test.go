package result_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/signalnine/shardrun/internal/result"
)

func TestWriteAndReadSummary(t *testing.T) {
	dir := t.TempDir()
	summary := &result.Summary{
		RunID:     "run-1",
		StartedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Success:   false,
		Times:     []result.Timing{{Label: "Push", Duration: 3 * time.Second}},
		Results: []result.Record{
			result.NewRecord(result.Result{Status: result.Failure, Test: fakeTest("suite.test"), Message: "boom"}),
		},
	}
	if err := result.WriteSummary(dir, summary); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	got, err := result.ReadSummary(filepath.Join(dir, result.SummaryFile))
	if err != nil {
		t.Fatalf("ReadSummary: %v", err)
	}
	if got.RunID != "run-1" {
		t.Errorf("run_id: got %q, want %q", got.RunID, "run-1")
	}
	if len(got.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got.Results))
	}
	rec := got.Results[0]
	if rec.Status != result.Failure || rec.Name != "suite.test" || rec.Config != "x86-21" || rec.Message != "boom" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if got.Times[0].Duration != 3*time.Second {
		t.Errorf("duration: got %s, want 3s", got.Times[0].Duration)
	}
}

func TestCreateRunDir(t *testing.T) {
	base := t.TempDir()
	runDir, err := result.CreateRunDir(base)
	if err != nil {
		t.Fatalf("CreateRunDir: %v", err)
	}
	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		t.Errorf("run directory not created: %s", runDir)
	}
	latest := filepath.Join(base, "latest")
	target, err := os.Readlink(latest)
	if err != nil {
		t.Fatalf("reading latest symlink: %v", err)
	}
	if target != runDir {
		t.Errorf("latest: got %q, want %q", target, runDir)
	}
}
