// Package report accumulates test results and renders them.
package report

import (
	"github.com/signalnine/shardrun/internal/result"
)

// Report groups results by build system in arrival order. It is not safe for
// concurrent use; a single consumer owns it.
type Report struct {
	suites  []string
	results map[string][]result.Result
}

func New() *Report {
	return &Report{results: map[string][]result.Result{}}
}

func (r *Report) Add(suite string, res result.Result) {
	if _, ok := r.results[suite]; !ok {
		r.suites = append(r.suites, suite)
	}
	r.results[suite] = append(r.results[suite], res)
}

// Suites returns build systems in the order their first result arrived.
func (r *Report) Suites() []string {
	return append([]string(nil), r.suites...)
}

func (r *Report) Results(suite string) []result.Result {
	return r.results[suite]
}

func (r *Report) All() []result.Result {
	var all []result.Result
	for _, s := range r.suites {
		all = append(all, r.results[s]...)
	}
	return all
}

func (r *Report) NumTests() int {
	n := 0
	for _, rs := range r.results {
		n += len(rs)
	}
	return n
}

// Successful holds when no result is a Failure or UnexpectedSuccess.
func (r *Report) Successful() bool {
	for _, rs := range r.results {
		for _, res := range rs {
			if res.Failed() {
				return false
			}
		}
	}
	return true
}

// RemoveAllFailingFlaky removes every failed result matching isFlaky and
// returns the removed results in report order.
func (r *Report) RemoveAllFailingFlaky(isFlaky func(result.Result) bool) []result.Result {
	var removed []result.Result
	for _, s := range r.suites {
		kept := r.results[s][:0]
		for _, res := range r.results[s] {
			if res.Failed() && isFlaky(res) {
				removed = append(removed, res)
				continue
			}
			kept = append(kept, res)
		}
		r.results[s] = kept
	}
	return removed
}

// Records converts every result to its stored form.
func (r *Report) Records() []result.Record {
	var recs []result.Record
	for _, res := range r.All() {
		recs = append(recs, result.NewRecord(res))
	}
	return recs
}
