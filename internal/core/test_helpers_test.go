package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rpgkernel/pkg/dice"
	"rpgkernel/pkg/domain"
	"rpgkernel/pkg/pluginapi"
)

var testTally = domain.NewKey[int]("test:tally:count")

type stubClock struct{ t time.Time }

func (s stubClock) Now() time.Time { return s.t }

type captureLogger struct {
	mu    sync.Mutex
	calls []string
}

func (c *captureLogger) add(entry string) {
	c.mu.Lock()
	c.calls = append(c.calls, entry)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.add("d:" + msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.add("i:" + msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.add("w:" + msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.add("e:" + msg) }

func (c *captureLogger) has(entry string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, call := range c.calls {
		if call == entry {
			return true
		}
	}
	return false
}

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

// tallyPlugin rolls a d6 into test:tally:count and reports it. The refuse
// rule fails whenever the "refuse" parameter is set.
type tallyPlugin struct {
	name string
}

func (p tallyPlugin) Name() string {
	if p.name == "" {
		return "tally"
	}
	return p.name
}

func (tallyPlugin) Version() string { return "1.0.0" }

func (tallyPlugin) Register(reg pluginapi.Registry) error {
	reg.RegisterRule(domain.NewFuncRule(domain.FuncRuleSpec{
		Name:     "tally_roll",
		Priority: 10,
		Writes:   domain.Refs(testTally),
		Run: func(_ context.Context, ec *domain.ExecutionContext, _ domain.Command) (domain.Result, error) {
			roll, err := ec.Dice().Roll(dice.D(1, 6))
			if err != nil {
				return domain.Result{}, err
			}
			testTally.Set(ec, roll.Total)
			return domain.Succeed("rolled", nil), nil
		},
	}))
	reg.RegisterRule(domain.NewFuncRule(domain.FuncRuleSpec{
		Name:     "tally_refuse",
		Priority: 15,
		Applies: func(_ context.Context, _ domain.View, cmd domain.Command) bool {
			refuse, _ := cmd.Params().Bool("refuse")
			return refuse
		},
		Run: func(context.Context, *domain.ExecutionContext, domain.Command) (domain.Result, error) {
			return domain.Fail("refused", "the tally was refused"), nil
		},
	}))
	reg.RegisterRule(domain.NewFuncRule(domain.FuncRuleSpec{
		Name:     "tally_report",
		Priority: 20,
		Reads:    domain.Refs(testTally),
		Run: func(_ context.Context, ec *domain.ExecutionContext, _ domain.Command) (domain.Result, error) {
			count, err := testTally.Require(ec)
			if err != nil {
				return domain.Result{}, err
			}
			return domain.Succeed("tallied", map[string]any{"count": count}), nil
		},
	}))
	reg.RegisterSchema("character", map[string]any{"type": "object"})
	return reg.RegisterCommand(domain.KindAttack, buildTallyCommand)
}

var tallySchema = domain.MustParamSchema([]domain.FieldSpec{{Name: "refuse", Type: domain.ParamBool}})

type tallyCommand struct {
	domain.BaseCommand
}

func (tallyCommand) Fold(report domain.Report) domain.Result { return domain.FoldAllSucceeded(report) }

func buildTallyCommand(req CommandRequest) (domain.Command, error) {
	cmd, err := domain.NewBaseCommand(domain.CommandSpec{
		Kind:          req.Kind,
		ActorID:       req.ActorID,
		TargetIDs:     req.TargetIDs,
		Params:        req.Params,
		Schema:        tallySchema,
		RequiredRules: []string{"tally_report", "tally_refuse", "tally_roll"},
	})
	if err != nil {
		return nil, err
	}
	return tallyCommand{BaseCommand: cmd}, nil
}

type failingPlugin struct{}

func (failingPlugin) Name() string                      { return "broken" }
func (failingPlugin) Version() string                   { return "0.0.1" }
func (failingPlugin) Register(pluginapi.Registry) error { return errors.New("registration failed") }

func newTallyService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	svc := NewInMemoryService(domain.NewRulesEngine(), append([]Option{WithDice(dice.NewScripted(4, 4, 4, 4, 4, 4))}, opts...)...)
	if _, err := svc.InstallPlugin(tallyPlugin{}); err != nil {
		t.Fatalf("install plugin: %v", err)
	}
	seedCharacters(t, svc.Store(), "hero", "goblin")
	return svc
}

func seedCharacters(t *testing.T, store domain.EntityStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		e, err := domain.NewEntity(id, "character", map[string]int{"hp": 10})
		if err != nil {
			t.Fatalf("new entity: %v", err)
		}
		if err := store.SetEntity(context.Background(), e); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func tallyRequest(params domain.Params) CommandRequest {
	return CommandRequest{Kind: domain.KindAttack, ActorID: "hero", TargetIDs: []string{"goblin"}, Params: params}
}

// rulesPlugin contributes no-op rules with the given names and no commands.
type rulesPlugin struct {
	name  string
	rules []string
}

func (p rulesPlugin) Name() string  { return p.name }
func (rulesPlugin) Version() string { return "0.1.0" }

func (p rulesPlugin) Register(reg pluginapi.Registry) error {
	for i, name := range p.rules {
		reg.RegisterRule(domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     name,
			Priority: i,
			Run: func(context.Context, *domain.ExecutionContext, domain.Command) (domain.Result, error) {
				return domain.Succeed(name, nil), nil
			},
		}))
	}
	return nil
}
