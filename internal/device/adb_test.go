package device

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseExitStatus(t *testing.T) {
	tests := []struct {
		in       string
		out      string
		status   int
		noStatus bool
	}{
		{in: "hello\nx0", out: "hello\n", status: 0},
		{in: "x1", out: "", status: 1},
		{in: "Segmentation fault\nx139", out: "Segmentation fault\n", status: 139},
		{in: "", noStatus: true},
		{in: "truncated output", noStatus: true},
	}
	for _, tt := range tests {
		out, status, err := parseExitStatus(tt.in)
		if tt.noStatus {
			if !errors.Is(err, errNoExitStatus) {
				t.Errorf("parseExitStatus(%q): got err %v, want %v", tt.in, err, errNoExitStatus)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseExitStatus(%q): %v", tt.in, err)
			continue
		}
		if out != tt.out || status != tt.status {
			t.Errorf("parseExitStatus(%q) = %q, %d; want %q, %d", tt.in, out, status, tt.out, tt.status)
		}
	}
}

func TestParseDevices(t *testing.T) {
	out := "List of devices attached\nZX1\tdevice\nemulator-5554\tdevice\nABC\toffline\nDEF\tunauthorized\n\n"
	want := []string{"ZX1", "emulator-5554"}
	if diff := cmp.Diff(want, parseDevices(out)); diff != "" {
		t.Errorf("devices mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFeatures(t *testing.T) {
	got := parseFeatures("* daemon started\nshell_v2,cmd,push_sync,stat_v2\n")
	want := []string{"shell_v2", "cmd", "push_sync", "stat_v2"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("features mismatch (-want +got):\n%s", diff)
	}
	if parseFeatures("") != nil {
		t.Error("expected no features for empty output")
	}
}
