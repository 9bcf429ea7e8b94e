package result

import (
	"fmt"

	"github.com/signalnine/shardrun/internal/buildcfg"
)

type Status int

const (
	Success Status = iota
	Failure
	Skipped
	ExpectedFailure
	UnexpectedSuccess
)

var statusNames = map[Status]string{
	Success:           "PASS",
	Failure:           "FAIL",
	Skipped:           "SKIP",
	ExpectedFailure:   "KNOWN FAIL",
	UnexpectedSuccess: "SHOULD FAIL",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("unknown status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for st, name := range statusNames {
		if name == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Test is the identity a result is reported under.
type Test interface {
	Name() string
	BuildSystem() string
	Config() buildcfg.Config
}

// Result is the outcome of one test. Message carries failure output or the
// skip reason; Reason and Bug are set for the two broken-test statuses.
type Result struct {
	Status  Status
	Test    Test
	Message string
	Reason  string
	Bug     string
}

// Passed holds for Success and ExpectedFailure.
func (r Result) Passed() bool {
	return r.Status == Success || r.Status == ExpectedFailure
}

// Failed holds for Failure and UnexpectedSuccess. Skipped results are
// neither passed nor failed.
func (r Result) Failed() bool {
	return r.Status == Failure || r.Status == UnexpectedSuccess
}

func Label(t Test) string {
	return fmt.Sprintf("%s [%s]", t.Name(), t.Config())
}

func (r Result) String() string {
	switch r.Status {
	case Success:
		return fmt.Sprintf("%s %s", r.Status, Label(r.Test))
	case ExpectedFailure:
		return fmt.Sprintf("%s %s: known failure for %s (%s)", r.Status, Label(r.Test), r.Reason, r.Bug)
	case UnexpectedSuccess:
		return fmt.Sprintf("%s %s: unexpected success for %s (%s)", r.Status, Label(r.Test), r.Reason, r.Bug)
	default:
		return fmt.Sprintf("%s %s: %s", r.Status, Label(r.Test), r.Message)
	}
}
