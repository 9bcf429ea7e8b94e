package driver

import "fmt"

// State is a step of a test run. Runs move through the states in order,
// skipping CleanDevice unless requested, and end in Done or Failed.
type State int

const (
	Init State = iota
	Build
	DiscoverTests
	DiscoverDevices
	MatchConfigs
	CleanDevice
	Push
	Run
	FlakyRetry
	Summarize
	Done
	Failed
)

var stateNames = [...]string{
	Init:            "INIT",
	Build:           "BUILD",
	DiscoverTests:   "DISCOVER_TESTS",
	DiscoverDevices: "DISCOVER_DEVICES",
	MatchConfigs:    "MATCH_CONFIGS",
	CleanDevice:     "CLEAN_DEVICE_DIRS",
	Push:            "PUSH",
	Run:             "RUN",
	FlakyRetry:      "FLAKY_RETRY",
	Summarize:       "SUMMARIZE",
	Done:            "DONE",
	Failed:          "FAILED",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}
