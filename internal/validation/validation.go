package validation

import (
	"context"
	"fmt"
	"time"
)

// Counter runs a query that returns a single count.
type Counter interface {
	Count(ctx context.Context, query string) (int64, error)
}

// Result holds the outcome of running pre-flight checks.
type Result struct {
	Status      string        `json:"status"` // PASS, FAIL, PARTIAL
	Checks      []CheckResult `json:"checks"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// CheckResult holds the outcome of a single check.
type CheckResult struct {
	Check      Check  `json:"check"`
	Violations int64  `json:"violations"`
	Status     string `json:"status"` // PASS, FAIL
	Message    string `json:"message,omitempty"`
}

// Runner executes checks against a live database.
type Runner struct {
	Counter  Counter
	Callback func(check Check, passed bool)
}

// Run executes every check in order. A query error aborts the run.
func (r *Runner) Run(ctx context.Context, checks []Check) (*Result, error) {
	result := &Result{StartedAt: time.Now()}

	for _, c := range checks {
		n, err := r.Counter.Count(ctx, c.Query)
		if err != nil {
			return nil, fmt.Errorf("running check %q: %w", c.Description, err)
		}

		cr := CheckResult{Check: c, Violations: n, Status: "PASS"}
		if n > 0 {
			cr.Status = "FAIL"
			cr.Message = fmt.Sprintf("%d violating rows: %s", n, c.Description)
		}
		r.notify(c, n == 0)
		result.Checks = append(result.Checks, cr)
	}

	result.CompletedAt = time.Now()
	result.Status = computeOverallStatus(result.Checks)
	return result, nil
}

func (r *Runner) notify(c Check, passed bool) {
	if r.Callback != nil {
		r.Callback(c, passed)
	}
}

func computeOverallStatus(checks []CheckResult) string {
	if len(checks) == 0 {
		return "PASS"
	}
	failCount := 0
	for _, c := range checks {
		if c.Status == "FAIL" {
			failCount++
		}
	}
	if failCount == 0 {
		return "PASS"
	}
	if failCount == len(checks) {
		return "FAIL"
	}
	return "PARTIAL"
}
