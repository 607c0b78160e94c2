package domain

import "fmt"

// Failure codes attached by the engine. Rules and commands may use their own.
const (
	CodeRuleError         = "rule_error"
	CodeRulePanic         = "rule_panic"
	CodeCommandPanic      = "command_panic"
	CodeSeedFailed        = "seed_failed"
	CodePrecondition      = "precondition_failed"
	CodeNoApplicableRules = "no_applicable_rules"
	CodeDeadline          = "deadline_exceeded"
	CodePrimaryNotApplied = "primary_not_applied"
)

// Result is the outcome shared by rules and commands. Message is narrative
// text for people; Data is the only structured payload.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Code    string         `json:"code,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Succeed builds a successful result.
func Succeed(message string, data map[string]any) Result {
	return Result{Success: true, Message: message, Data: cloneData(data)}
}

// Fail builds a failed result.
func Fail(code, message string) Result {
	return Result{Success: false, Code: code, Message: message}
}

// Failf builds a failed result with a formatted message.
func Failf(code, format string, args ...any) Result {
	return Fail(code, fmt.Sprintf(format, args...))
}

// WithData returns a copy of r with key set in Data.
func (r Result) WithData(key string, value any) Result {
	data := cloneData(r.Data)
	if data == nil {
		data = make(map[string]any, 1)
	}
	data[key] = value
	r.Data = data
	return r
}

// Value returns a Data entry.
func (r Result) Value(key string) (any, bool) {
	if r.Data == nil {
		return nil, false
	}
	v, ok := r.Data[key]
	return v, ok
}

func cloneData(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
