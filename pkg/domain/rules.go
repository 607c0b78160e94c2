package domain

import (
	"context"
	"errors"
)

// Rule is a named, priority-ordered unit of logic. Rules are stateless; all
// per-invocation data lives in the ExecutionContext.
type Rule interface {
	Name() string
	// Priority orders execution ascending; ties keep registration order.
	Priority() int
	// CanApply reports whether the rule understands the command and finds
	// the keys it needs. It must not mutate anything.
	CanApply(ctx context.Context, view View, cmd Command) bool
	// Execute performs the rule. A returned error or a panic is recorded as
	// a failed result by the engine.
	Execute(ctx context.Context, ec *ExecutionContext, cmd Command) (Result, error)
}

// KeyDeclarer is implemented by rules that declare the context keys they
// read and write, enabling the plan-time ordering check.
type KeyDeclarer interface {
	Reads() []KeyRef
	Writes() []KeyRef
}

// OptionalReader is implemented by rules that consult keys which may
// legitimately have no producer in a plan.
type OptionalReader interface {
	OptionalReads() []KeyRef
}

// FuncRuleSpec configures a FuncRule.
type FuncRuleSpec struct {
	Name     string
	Priority int
	// Kinds restricts the rule to these command kinds; empty accepts all.
	Kinds []CommandKind
	// Reads must all be present for the rule to apply.
	Reads []KeyRef
	// Optional keys are consulted when present.
	Optional []KeyRef
	Writes   []KeyRef
	// Applies adds a further applicability predicate.
	Applies func(ctx context.Context, view View, cmd Command) bool
	Run     func(ctx context.Context, ec *ExecutionContext, cmd Command) (Result, error)
}

// FuncRule is a Rule assembled from functions and key declarations.
type FuncRule struct {
	spec FuncRuleSpec
}

var errNoRuleBody = errors.New("rule has no body")

// NewFuncRule builds a rule from spec.
func NewFuncRule(spec FuncRuleSpec) *FuncRule {
	spec.Kinds = append([]CommandKind(nil), spec.Kinds...)
	spec.Reads = append([]KeyRef(nil), spec.Reads...)
	spec.Optional = append([]KeyRef(nil), spec.Optional...)
	spec.Writes = append([]KeyRef(nil), spec.Writes...)
	return &FuncRule{spec: spec}
}

func (r *FuncRule) Name() string { return r.spec.Name }

func (r *FuncRule) Priority() int { return r.spec.Priority }

func (r *FuncRule) Reads() []KeyRef { return append([]KeyRef(nil), r.spec.Reads...) }

func (r *FuncRule) OptionalReads() []KeyRef { return append([]KeyRef(nil), r.spec.Optional...) }

func (r *FuncRule) Writes() []KeyRef { return append([]KeyRef(nil), r.spec.Writes...) }

// CanApply checks the kind filter, the presence of every read key and the
// Applies predicate, in that order.
func (r *FuncRule) CanApply(ctx context.Context, view View, cmd Command) bool {
	if cmd == nil {
		return false
	}
	if len(r.spec.Kinds) > 0 && !IsKind(cmd, r.spec.Kinds...) {
		return false
	}
	for _, ref := range r.spec.Reads {
		if !view.Has(ref) {
			return false
		}
	}
	if r.spec.Applies != nil {
		return r.spec.Applies(ctx, view, cmd)
	}
	return true
}

func (r *FuncRule) Execute(ctx context.Context, ec *ExecutionContext, cmd Command) (Result, error) {
	if r.spec.Run == nil {
		return Result{}, errNoRuleBody
	}
	return r.spec.Run(ctx, ec, cmd)
}
