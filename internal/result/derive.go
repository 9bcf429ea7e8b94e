package result

import "fmt"

// Raw is what executing a test produced: an exit status and its output.
type Raw struct {
	Status int
	Output string
}

// Broken marks a test known to fail in some configuration.
type Broken struct {
	Reason string
	Bug    string
}

func Skip(t Test, reason string) Result {
	return Result{Status: Skipped, Test: t, Message: "test unsupported for " + reason}
}

// FromRaw classifies an execution by its exit status. Failures are prefixed
// with the device description so the report shows where the test ran.
func FromRaw(t Test, raw Raw, where string) Result {
	if raw.Status == 0 {
		return Result{Status: Success, Test: t}
	}
	msg := raw.Output
	if where != "" {
		msg = where + "\n" + raw.Output
	}
	return Result{Status: Failure, Test: t, Message: msg}
}

// Reconcile applies a broken declaration: failures become expected and
// passes become unexpected. A result that neither passed nor failed cannot
// be reconciled and panics.
func Reconcile(r Result, broken *Broken) Result {
	if broken == nil {
		return r
	}
	switch {
	case r.Failed():
		return Result{Status: ExpectedFailure, Test: r.Test, Reason: broken.Reason, Bug: broken.Bug}
	case r.Passed():
		return Result{Status: UnexpectedSuccess, Test: r.Test, Reason: broken.Reason, Bug: broken.Bug}
	}
	panic(fmt.Sprintf("result %s for %s neither passed nor failed", r.Status, Label(r.Test)))
}
