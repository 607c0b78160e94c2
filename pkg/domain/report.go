package domain

import "time"

// SkipReason explains why a planned rule did not execute.
type SkipReason string

const (
	SkipNotApplicable SkipReason = "not_applicable"
	SkipHalted        SkipReason = "halted"
	SkipDeadline      SkipReason = "deadline"
)

// RuleOutcome records what happened to one planned rule.
type RuleOutcome struct {
	Rule     string        `json:"rule"`
	Priority int           `json:"priority"`
	Applied  bool          `json:"applied"`
	Skipped  SkipReason    `json:"skipped,omitempty"`
	Result   Result        `json:"result"`
	Duration time.Duration `json:"duration_ns"`
}

// Failed reports whether the outcome counts as a failure: an applied rule
// that failed, or an applicability check that panicked.
func (o RuleOutcome) Failed() bool {
	if o.Applied {
		return !o.Result.Success
	}
	return o.Skipped == "" && o.Result.Code != ""
}

// Report lists the outcome of every planned rule in execution order.
type Report struct {
	Policy   FailurePolicy `json:"policy"`
	Outcomes []RuleOutcome `json:"outcomes"`
}

// Applied returns the outcomes of rules that executed.
func (r Report) Applied() []RuleOutcome {
	var out []RuleOutcome
	for _, o := range r.Outcomes {
		if o.Applied {
			out = append(out, o)
		}
	}
	return out
}

// Failures returns the failed outcomes.
func (r Report) Failures() []RuleOutcome {
	var out []RuleOutcome
	for _, o := range r.Outcomes {
		if o.Failed() {
			out = append(out, o)
		}
	}
	return out
}

// Outcome returns the outcome recorded for the named rule.
func (r Report) Outcome(name string) (RuleOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Rule == name {
			return o, true
		}
	}
	return RuleOutcome{}, false
}

// LastApplied returns the outcome of the last rule that executed.
func (r Report) LastApplied() (RuleOutcome, bool) {
	for i := len(r.Outcomes) - 1; i >= 0; i-- {
		if r.Outcomes[i].Applied {
			return r.Outcomes[i], true
		}
	}
	return RuleOutcome{}, false
}

// Interrupted reports whether a deadline or cancellation cut the chain.
func (r Report) Interrupted() bool {
	for _, o := range r.Outcomes {
		if o.Skipped == SkipDeadline {
			return true
		}
	}
	return false
}

// Fold strategies. Each command documents which one it uses.

// FoldLast takes the result of the last applied rule. With no applied rule
// the command fails with CodeNoApplicableRules.
func FoldLast(report Report) Result {
	last, ok := report.LastApplied()
	if !ok {
		return Fail(CodeNoApplicableRules, "no applicable rules")
	}
	return last.Result
}

// FoldPrimary makes the named rule decide success. Data from every
// successful applied rule is merged in execution order.
func FoldPrimary(name string) func(Report) Result {
	return func(report Report) Result {
		primary, ok := report.Outcome(name)
		if !ok || !primary.Applied {
			return Failf(CodePrimaryNotApplied, "%s did not apply", name)
		}
		if !primary.Result.Success {
			return primary.Result
		}
		return Succeed(primary.Result.Message, mergeData(report))
	}
}

// FoldAllSucceeded fails with the first failed applied rule; otherwise it
// succeeds with the last message and merged data.
func FoldAllSucceeded(report Report) Result {
	applied := report.Applied()
	if len(applied) == 0 {
		return Fail(CodeNoApplicableRules, "no applicable rules")
	}
	for _, o := range applied {
		if !o.Result.Success {
			return o.Result
		}
	}
	return Succeed(applied[len(applied)-1].Result.Message, mergeData(report))
}

func mergeData(report Report) map[string]any {
	var out map[string]any
	for _, o := range report.Outcomes {
		if !o.Applied || !o.Result.Success {
			continue
		}
		for k, v := range o.Result.Data {
			if out == nil {
				out = make(map[string]any)
			}
			out[k] = v
		}
	}
	return out
}
