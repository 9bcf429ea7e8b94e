package report

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/signalnine/shardrun/internal/result"
)

type junitSuites struct {
	XMLName xml.Name      `xml:"testsuites"`
	Suites  []*junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Cases    []*junitCase `xml:"testcase"`
}

type junitCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Status    string        `xml:"status,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Details string `xml:",cdata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr"`
}

// WriteJUnit renders records as JUnit XML, one suite per build system.
// Expected failures are reported as passing cases.
func WriteJUnit(records []result.Record, w io.Writer) error {
	var suites junitSuites
	bySuite := map[string]*junitSuite{}
	for _, rec := range records {
		s, ok := bySuite[rec.BuildSystem]
		if !ok {
			s = &junitSuite{Name: rec.BuildSystem}
			bySuite[rec.BuildSystem] = s
			suites.Suites = append(suites.Suites, s)
		}
		c := &junitCase{
			Name:      rec.Name,
			ClassName: rec.BuildSystem + "." + rec.Config,
			Status:    "run",
		}
		switch rec.Status {
		case result.Failure:
			c.Failure = &junitFailure{Message: firstLine(rec.Message), Type: rec.Status.String(), Details: rec.Message}
			s.Failures++
		case result.UnexpectedSuccess:
			msg := "unexpected success for " + rec.Reason + " (" + rec.Bug + ")"
			c.Failure = &junitFailure{Message: msg, Type: rec.Status.String(), Details: msg}
			s.Failures++
		case result.Skipped:
			c.Status = "notrun"
			c.Skipped = &junitSkipped{Message: rec.Message}
			s.Skipped++
		}
		s.Tests++
		s.Cases = append(s.Cases, c)
	}

	out, err := xml.MarshalIndent(suites, "", "  ")
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	if _, err := w.Write(out); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
