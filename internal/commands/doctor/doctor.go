// Package doctor runs diagnostic checks for the sublet command.
package doctor

import (
	"context"
	"time"
)

// CheckTimeout bounds a single check so a hung API cannot stall the report.
const CheckTimeout = 15 * time.Second

// Status represents the result status of a check item.
type Status int

const (
	StatusPass Status = iota
	StatusWarn
	StatusFail
	StatusSkip
)

func (s Status) String() string {
	switch s {
	case StatusPass:
		return "pass"
	case StatusWarn:
		return "warn"
	case StatusFail:
		return "fail"
	case StatusSkip:
		return "skip"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckItem is a single line in a check result.
type CheckItem struct {
	Label  string `json:"label"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Result groups the items reported by one check.
type Result struct {
	Name  string      `json:"name"`
	Items []CheckItem `json:"items"`
}

func (r *Result) add(status Status, label, detail string) {
	r.Items = append(r.Items, CheckItem{Label: label, Status: status, Detail: detail})
}

// Check is one diagnostic.
type Check interface {
	Name() string
	Run(ctx context.Context) Result
}

// RunAll runs checks in order, each bounded by CheckTimeout.
func RunAll(ctx context.Context, checks []Check) []Result {
	results := make([]Result, 0, len(checks))
	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, CheckTimeout)
		results = append(results, check.Run(checkCtx))
		cancel()
	}
	return results
}

// Tally counts items by status across results.
type Tally struct {
	Passed  int `json:"passed"`
	Warned  int `json:"warned"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped,omitempty"`
}

// Count tallies the items in results.
func Count(results []Result) Tally {
	var t Tally
	for _, r := range results {
		for _, item := range r.Items {
			switch item.Status {
			case StatusPass:
				t.Passed++
			case StatusWarn:
				t.Warned++
			case StatusFail:
				t.Failed++
			case StatusSkip:
				t.Skipped++
			}
		}
	}
	return t
}

// Healthy reports whether no item in results failed.
func Healthy(results []Result) bool {
	return Count(results).Failed == 0
}

// SkipCheck stands in for a check that cannot run.
type SkipCheck struct {
	name   string
	reason string
}

// Skipped returns a check named name that reports reason without running.
func Skipped(name, reason string) *SkipCheck {
	return &SkipCheck{name: name, reason: reason}
}

func (c *SkipCheck) Name() string {
	return c.name
}

func (c *SkipCheck) Run(context.Context) Result {
	r := Result{Name: c.name}
	r.add(StatusSkip, "skipped", c.reason)
	return r
}
