package buildcfg_test

import (
	"testing"

	"github.com/signalnine/shardrun/internal/buildcfg"
)

func TestParseRoundTrip(t *testing.T) {
	tests := []buildcfg.Config{
		{ABI: "armeabi-v7a", API: 16},
		{ABI: "arm64-v8a", API: 21},
		{ABI: "x86", API: 28},
		{ABI: "x86_64", API: 30},
	}
	for _, want := range tests {
		got, err := buildcfg.Parse(want.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", want.String(), err)
		}
		if got != want {
			t.Errorf("got %+v, want %+v", got, want)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "x86", "-21", "arm64-v8a-", "arm64-v8a-latest"} {
		if _, err := buildcfg.Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestString(t *testing.T) {
	c := buildcfg.Config{ABI: "arm64-v8a", API: 21}
	if c.String() != "arm64-v8a-21" {
		t.Errorf("got %q, want %q", c.String(), "arm64-v8a-21")
	}
}

func TestMinAPI(t *testing.T) {
	tests := map[string]int{
		"armeabi-v7a": 16,
		"x86":         16,
		"arm64-v8a":   21,
		"x86_64":      21,
	}
	for abi, want := range tests {
		if got := buildcfg.MinAPI(abi); got != want {
			t.Errorf("MinAPI(%q): got %d, want %d", abi, got, want)
		}
	}
}

func TestIsKnownABI(t *testing.T) {
	if !buildcfg.IsKnownABI("arm64-v8a") {
		t.Error("arm64-v8a should be known")
	}
	if buildcfg.IsKnownABI("mips") {
		t.Error("mips should not be known")
	}
}
