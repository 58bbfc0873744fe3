package sizing

import "fmt"

// Explanation provides a plain-language note on the estimate.
type Explanation struct {
	Category string `yaml:"category" json:"category"` // "overview", "slowest", "step"
	Summary  string `yaml:"summary" json:"summary"`
	Detail   string `yaml:"detail" json:"detail"`
}

func generateExplanations(e *Estimate) []Explanation {
	if len(e.Operations) == 0 {
		return nil
	}

	explanations := []Explanation{{
		Category: "overview",
		Summary:  fmt.Sprintf("%d operations, about %s of lock time", len(e.Operations), FormatDuration(e.Total)),
		Detail: "Estimates assume a table is locked while each statement runs. Row-dependent operations " +
			"scale with the table size; tables without a known row count are treated as empty, so the " +
			"real time can be longer.",
	}}

	slowest := e.Operations[0]
	for _, op := range e.Operations[1:] {
		if op.Duration > slowest.Duration {
			slowest = op
		}
	}
	explanations = append(explanations, Explanation{
		Category: "slowest",
		Summary:  fmt.Sprintf("%s takes about %s", slowest.Operation, FormatDuration(slowest.Duration)),
		Detail:   fmt.Sprintf("This operation touches %d rows and dominates the migration window.", slowest.Rows),
	})

	if len(e.Steps) > 1 {
		for _, s := range e.Steps {
			explanations = append(explanations, Explanation{
				Category: "step",
				Summary:  fmt.Sprintf("step %d (%s): %s", s.Index, s.Kind, FormatDuration(s.Duration)),
				Detail:   "Steps are applied separately, so each one is its own maintenance window.",
			})
		}
	}
	return explanations
}
