package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// FailurePolicy decides what happens to the rest of a chain after a rule
// fails.
type FailurePolicy int

const (
	// ContinueOnFailure records the failure and keeps running later rules.
	ContinueOnFailure FailurePolicy = iota
	// HaltOnFailure skips every rule after the first failure.
	HaltOnFailure
)

func (p FailurePolicy) String() string {
	if p == HaltOnFailure {
		return "halt"
	}
	return "continue"
}

// MarshalText encodes the policy by name.
func (p FailurePolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes a policy name.
func (p *FailurePolicy) UnmarshalText(b []byte) error {
	parsed, err := ParseFailurePolicy(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseFailurePolicy accepts "continue" (or "") and "halt".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue":
		return ContinueOnFailure, nil
	case "halt":
		return HaltOnFailure, nil
	default:
		return ContinueOnFailure, fmt.Errorf("unknown failure policy %q", s)
	}
}

// RuleHook observes every rule outcome as it is recorded.
type RuleHook func(ctx context.Context, executionID string, cmd Command, outcome RuleOutcome)

// EngineOption configures a RulesEngine.
type EngineOption func(*RulesEngine)

// WithFailurePolicy sets the default failure policy.
func WithFailurePolicy(p FailurePolicy) EngineOption {
	return func(e *RulesEngine) { e.policy = p }
}

// WithRuleHook registers an outcome observer.
func WithRuleHook(h RuleHook) EngineOption {
	return func(e *RulesEngine) {
		if h != nil {
			e.hooks = append(e.hooks, h)
		}
	}
}

type registeredRule struct {
	rule Rule
	seq  int
}

// RulesEngine resolves rule names, orders rules by priority and runs the
// applicable ones sequentially.
type RulesEngine struct {
	mu     sync.RWMutex
	rules  map[string]registeredRule
	seq    int
	policy FailurePolicy
	hooks  []RuleHook
}

// NewRulesEngine constructs an empty engine.
func NewRulesEngine(opts ...EngineOption) *RulesEngine {
	e := &RulesEngine{rules: make(map[string]registeredRule)}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Register adds a rule. Nil rules, blank names and duplicate names are
// configuration errors.
func (e *RulesEngine) Register(rule Rule) error {
	return e.RegisterAll(rule)
}

// RegisterAll adds rules in order, all or none: when any rule is rejected
// the engine is left unchanged.
func (e *RulesEngine) RegisterAll(rules ...Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	batch := make(map[string]struct{}, len(rules))
	for _, rule := range rules {
		if rule == nil {
			return &ConfigError{Kind: ConfigInvalidRule, Detail: "rule is nil"}
		}
		name := rule.Name()
		if strings.TrimSpace(name) == "" {
			return &ConfigError{Kind: ConfigInvalidRule, Detail: "rule name is blank"}
		}
		_, exists := e.rules[name]
		_, repeated := batch[name]
		if exists || repeated {
			return &ConfigError{Kind: ConfigDuplicateRule, Rule: name, Detail: "already registered"}
		}
		batch[name] = struct{}{}
	}
	for _, rule := range rules {
		e.seq++
		e.rules[rule.Name()] = registeredRule{rule: rule, seq: e.seq}
	}
	return nil
}

// MustRegister registers rules and panics on the first error.
func (e *RulesEngine) MustRegister(rules ...Rule) {
	for _, r := range rules {
		if err := e.Register(r); err != nil {
			panic(err)
		}
	}
}

// AddHook registers an outcome observer after construction.
func (e *RulesEngine) AddHook(h RuleHook) {
	if h == nil {
		return
	}
	e.mu.Lock()
	e.hooks = append(e.hooks, h)
	e.mu.Unlock()
}

// SetFailurePolicy replaces the default failure policy.
func (e *RulesEngine) SetFailurePolicy(p FailurePolicy) {
	e.mu.Lock()
	e.policy = p
	e.mu.Unlock()
}

// FailurePolicy returns the default failure policy.
func (e *RulesEngine) FailurePolicy() FailurePolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy
}

// Rule looks up a registered rule.
func (e *RulesEngine) Rule(name string) (Rule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reg, ok := e.rules[name]
	return reg.rule, ok
}

// Rules returns every registered rule in execution order.
func (e *RulesEngine) Rules() []Rule {
	e.mu.RLock()
	regs := make([]registeredRule, 0, len(e.rules))
	for _, reg := range e.rules {
		regs = append(regs, reg)
	}
	e.mu.RUnlock()
	sortRegistered(regs)
	out := make([]Rule, 0, len(regs))
	for _, reg := range regs {
		out = append(out, reg.rule)
	}
	return out
}

func sortRegistered(regs []registeredRule) {
	sort.SliceStable(regs, func(i, j int) bool {
		pi, pj := regs[i].rule.Priority(), regs[j].rule.Priority()
		if pi != pj {
			return pi < pj
		}
		return regs[i].seq < regs[j].seq
	})
}

// Plan is the ordered, dependency-checked rule chain for a command.
type Plan struct {
	Command CommandKind
	Rules   []Rule
	Seeds   []KeyRef
}

// Names returns the planned rule names in execution order.
func (p Plan) Names() []string {
	out := make([]string, 0, len(p.Rules))
	for _, r := range p.Rules {
		out = append(out, r.Name())
	}
	return out
}

// Plan resolves the command's required rules, orders them and checks that
// every declared read is produced by the command seed or an earlier rule.
func (e *RulesEngine) Plan(cmd Command) (Plan, error) {
	if cmd == nil {
		return Plan{}, &ConfigError{Kind: ConfigInvalidCommand, Detail: "command is nil"}
	}
	kind := cmd.Kind()
	names := cmd.RequiredRules()
	if len(names) == 0 {
		return Plan{}, &ConfigError{Kind: ConfigInvalidCommand, Command: kind, Detail: "command requires no rules"}
	}
	e.mu.RLock()
	regs := make([]registeredRule, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	var unknown []string
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		reg, ok := e.rules[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		regs = append(regs, reg)
	}
	e.mu.RUnlock()
	if len(unknown) > 0 {
		return Plan{}, &ConfigError{Kind: ConfigUnknownRule, Command: kind, Rule: unknown[0], Detail: "not registered: " + strings.Join(unknown, ", ")}
	}
	sortRegistered(regs)

	plan := Plan{Command: kind, Rules: make([]Rule, 0, len(regs))}
	if seeder, ok := cmd.(ContextSeeder); ok {
		plan.Seeds = seeder.Seeds()
	}
	for _, reg := range regs {
		plan.Rules = append(plan.Rules, reg.rule)
	}
	if err := checkDependencies(plan); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func checkDependencies(plan Plan) error {
	available := make(map[string]struct{}, len(plan.Seeds))
	for _, ref := range plan.Seeds {
		available[ref.Name] = struct{}{}
	}
	writers := make(map[string][]int)
	for i, rule := range plan.Rules {
		decl, ok := rule.(KeyDeclarer)
		if !ok {
			continue
		}
		for _, ref := range decl.Writes() {
			writers[ref.Name] = append(writers[ref.Name], i)
		}
	}
	for i, rule := range plan.Rules {
		decl, ok := rule.(KeyDeclarer)
		if !ok {
			continue
		}
		reads := decl.Reads()
		required := len(reads)
		if opt, ok := rule.(OptionalReader); ok {
			reads = append(reads, opt.OptionalReads()...)
		}
		for j, ref := range reads {
			if _, ok := available[ref.Name]; ok {
				continue
			}
			if w := writerAfter(writers[ref.Name], i); w >= 0 {
				writer := plan.Rules[w]
				return &ConfigError{
					Kind:    ConfigOrderingViolation,
					Command: plan.Command,
					Rule:    rule.Name(),
					Key:     ref.Name,
					Detail: fmt.Sprintf("read at priority %d but written by %s at priority %d",
						rule.Priority(), writer.Name(), writer.Priority()),
				}
			}
			if j < required {
				return &ConfigError{
					Kind:    ConfigMissingDependency,
					Command: plan.Command,
					Rule:    rule.Name(),
					Key:     ref.Name,
					Detail:  "no seed or earlier rule writes it",
				}
			}
		}
		for _, ref := range decl.Writes() {
			available[ref.Name] = struct{}{}
		}
	}
	return nil
}

func writerAfter(indexes []int, i int) int {
	for _, w := range indexes {
		if w > i {
			return w
		}
	}
	return -1
}

func (e *RulesEngine) policyFor(cmd Command) FailurePolicy {
	if o, ok := cmd.(FailurePolicyOverride); ok {
		return o.FailurePolicy()
	}
	return e.FailurePolicy()
}

func (e *RulesEngine) notify(ctx context.Context, ec *ExecutionContext, cmd Command, outcome RuleOutcome) {
	e.mu.RLock()
	hooks := append([]RuleHook(nil), e.hooks...)
	e.mu.RUnlock()
	for _, h := range hooks {
		h(ctx, ec.ID(), cmd, outcome)
	}
}

// Run executes the plan sequentially. A rule whose CanApply is false is
// skipped; a failing or panicking rule is recorded and, under
// ContinueOnFailure, later rules still run. Cancellation of ctx skips the
// remaining rules. The only error returned is a *ConfigError surfaced by a
// rule.
func (e *RulesEngine) Run(ctx context.Context, ec *ExecutionContext, cmd Command, plan Plan) (Report, error) {
	policy := e.policyFor(cmd)
	report := Report{Policy: policy, Outcomes: make([]RuleOutcome, 0, len(plan.Rules))}
	var stop SkipReason
	for _, rule := range plan.Rules {
		outcome := RuleOutcome{Rule: rule.Name(), Priority: rule.Priority()}
		if stop == "" && ctx.Err() != nil {
			stop = SkipDeadline
		}
		if stop != "" {
			outcome.Skipped = stop
			report.Outcomes = append(report.Outcomes, outcome)
			e.notify(ctx, ec, cmd, outcome)
			continue
		}
		started := time.Now()
		applies, failure := safeCanApply(ctx, ec.View(), cmd, rule)
		if !applies {
			if failure != nil {
				outcome.Result = *failure
			} else {
				outcome.Skipped = SkipNotApplicable
			}
			outcome.Duration = time.Since(started)
			report.Outcomes = append(report.Outcomes, outcome)
			e.notify(ctx, ec, cmd, outcome)
			if failure != nil && policy == HaltOnFailure {
				stop = SkipHalted
			}
			continue
		}
		ec.enter(rule.Name())
		res, err := safeExecute(ctx, ec, cmd, rule)
		ec.leave()
		outcome.Applied = true
		outcome.Result = res
		outcome.Duration = time.Since(started)
		report.Outcomes = append(report.Outcomes, outcome)
		e.notify(ctx, ec, cmd, outcome)
		if err != nil {
			return report, err
		}
		if !res.Success && policy == HaltOnFailure {
			stop = SkipHalted
		}
	}
	return report, nil
}

func safeCanApply(ctx context.Context, view View, cmd Command, rule Rule) (applies bool, failure *Result) {
	defer func() {
		if r := recover(); r != nil {
			res := Failf(CodeRulePanic, "%s: applicability check panicked: %v", rule.Name(), r)
			applies, failure = false, &res
		}
	}()
	return rule.CanApply(ctx, view, cmd), nil
}

// safeExecute contains rule errors and panics. A *ConfigError from the rule
// is returned as an error so wiring defects stay loud.
func safeExecute(ctx context.Context, ec *ExecutionContext, cmd Command, rule Rule) (res Result, cfgErr error) {
	defer func() {
		if r := recover(); r != nil {
			res = Failf(CodeRulePanic, "%s: panic: %v", rule.Name(), r)
			cfgErr = nil
		}
	}()
	res, err := rule.Execute(ctx, ec, cmd)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			if ce.Rule == "" {
				ce.Rule = rule.Name()
			}
			return Failf(CodeRuleError, "%s: %v", rule.Name(), err), ce
		}
		return Failf(CodeRuleError, "%s: %v", rule.Name(), err), nil
	}
	if !res.Success && res.Message == "" {
		res.Message = rule.Name() + " failed"
	}
	return res, nil
}

// Resolution is everything known about one command execution.
type Resolution struct {
	ExecutionID string         `json:"execution_id"`
	Command     CommandKind    `json:"command"`
	ActorID     string         `json:"actor_id"`
	TargetIDs   []string       `json:"target_ids,omitempty"`
	Plan        []string       `json:"plan"`
	Report      Report         `json:"report"`
	Result      Result         `json:"result"`
	Scratch     []ScratchEntry `json:"scratch,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration_ns"`
}

// Resolve plans and executes cmd against env with a fresh execution
// context. Failures of the command or its rules are reported in the
// returned Result; the error is non-nil only for configuration defects.
func (e *RulesEngine) Resolve(ctx context.Context, cmd Command, env Env) (Resolution, error) {
	plan, err := e.Plan(cmd)
	if err != nil {
		return Resolution{}, err
	}
	if env.Store == nil {
		return Resolution{}, &ConfigError{Kind: ConfigInvalidCommand, Command: cmd.Kind(), Detail: "entity store not configured"}
	}
	ec := NewExecutionContext(env)
	res := Resolution{
		ExecutionID: ec.ID(),
		Command:     cmd.Kind(),
		ActorID:     cmd.ActorID(),
		TargetIDs:   cmd.TargetIDs(),
		Plan:        plan.Names(),
		StartedAt:   ec.StartedAt(),
	}
	started := time.Now()

	if !safeCanExecute(ctx, cmd, ec.View().Entities()) {
		res.Result = Failf(CodePrecondition, "%s preconditions not met", cmd.Kind())
		res.Duration = time.Since(started)
		return res, nil
	}
	if failure := safeSeed(ctx, ec, cmd); failure != nil {
		res.Result = *failure
		res.Scratch = ec.Scratch().Entries()
		res.Duration = time.Since(started)
		return res, nil
	}
	report, err := e.Run(ctx, ec, cmd, plan)
	res.Report = report
	res.Scratch = ec.Scratch().Entries()
	if err != nil {
		res.Result = Fail(CodeRuleError, err.Error())
		res.Duration = time.Since(started)
		return res, err
	}
	if report.Interrupted() {
		res.Result = Failf(CodeDeadline, "%s interrupted: %v", cmd.Kind(), ctx.Err())
	} else {
		res.Result = safeFold(cmd, report)
	}
	res.Duration = time.Since(started)
	return res, nil
}

// Execute runs cmd and returns its folded result.
func (e *RulesEngine) Execute(ctx context.Context, cmd Command, env Env) (Result, error) {
	res, err := e.Resolve(ctx, cmd, env)
	return res.Result, err
}

func safeCanExecute(ctx context.Context, cmd Command, entities EntityReader) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return cmd.CanExecute(ctx, entities)
}

func safeSeed(ctx context.Context, ec *ExecutionContext, cmd Command) (failure *Result) {
	defer func() {
		if r := recover(); r != nil {
			res := Failf(CodeCommandPanic, "%s seed panicked: %v", cmd.Kind(), r)
			failure = &res
		}
	}()
	if err := cmd.Seed(ctx, ec); err != nil {
		res := Failf(CodeSeedFailed, "%s seed: %v", cmd.Kind(), err)
		return &res
	}
	return nil
}

func safeFold(cmd Command, report Report) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Failf(CodeCommandPanic, "%s fold panicked: %v", cmd.Kind(), r)
		}
	}()
	res = cmd.Fold(report)
	if !res.Success && res.Message == "" {
		res.Message = string(cmd.Kind()) + " failed"
	}
	return res
}
