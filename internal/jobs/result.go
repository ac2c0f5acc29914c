// Package jobs provides the recurring maintenance job runner and the job
// catalog: nightly builds, timeout sweeps, log archival, repository
// verification, and membership audits. All jobs share one aggregation
// contract: per-item outcomes are collected, never thrown mid-batch, and a
// job run fails if and only if at least one item failed.
package jobs

import (
	"fmt"
	"strings"
)

// Failure records one failed item and the reason.
type Failure struct {
	Item   string
	Reason string
}

// Result aggregates per-item outcomes of one job run.
type Result struct {
	Successes []string
	Failures  []Failure
}

// Add records the outcome for one item.
func (r *Result) Add(item string, err error) {
	if err != nil {
		r.Failures = append(r.Failures, Failure{Item: item, Reason: err.Error()})
		return
	}
	r.Successes = append(r.Successes, item)
}

// Merge appends another result's outcomes.
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Successes = append(r.Successes, other.Successes...)
	r.Failures = append(r.Failures, other.Failures...)
}

// Summary formats the aggregate counts.
func (r *Result) Summary() string {
	return fmt.Sprintf("%d successes and %d failures", len(r.Successes), len(r.Failures))
}

// Err returns a PartialError when any item failed, nil otherwise.
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	return &PartialError{Result: r}
}

// PartialError reports that some fraction of a batch failed. The batch ran
// to completion; this error only summarizes it.
type PartialError struct {
	Result *Result
}

// Error enumerates each failed item and reason after the aggregate counts.
func (e *PartialError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Result.Summary())
	for i, f := range e.Result.Failures {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		sb.WriteString(f.Item)
		sb.WriteString(": ")
		sb.WriteString(f.Reason)
	}
	return sb.String()
}
