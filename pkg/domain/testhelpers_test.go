package domain

import (
	"context"
	"sort"
	"sync"
	"testing"
)

// mustNoError simplifies tests that expect helper methods to succeed.
func mustNoError(t *testing.T, label string, err error) {
	t.Helper()
	if err != nil {
		if label == "" {
			t.Fatalf("unexpected error: %v", err)
		}
		t.Fatalf("%s: %v", label, err)
	}
}

// mapStore is a minimal EntityStore; the real backends live under
// internal/infra/persistence.
type mapStore struct {
	mu       sync.Mutex
	entities map[string]Entity
	writes   int
}

func newMapStore(ids ...string) *mapStore {
	s := &mapStore{entities: make(map[string]Entity)}
	for _, id := range ids {
		s.entities[id] = Entity{ID: id, Kind: "character", Payload: []byte(`{}`)}
	}
	return s
}

func (s *mapStore) GetEntity(_ context.Context, id string) (Entity, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	return CloneEntity(e), ok, nil
}

func (s *mapStore) SetEntity(_ context.Context, e Entity) error {
	if err := ValidateEntity(e); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	s.entities[e.ID] = CloneEntity(e)
	return nil
}

func (s *mapStore) DeleteEntity(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entities[id]
	delete(s.entities, id)
	return ok, nil
}

func (s *mapStore) ListEntities(_ context.Context, kind string) ([]Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entity
	for _, e := range s.entities {
		if kind == "" || e.Kind == kind {
			out = append(out, CloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type testCommand struct {
	BaseCommand
	seed  func(ctx context.Context, ec *ExecutionContext) error
	fold  func(Report) Result
	seeds []KeyRef
}

func (c testCommand) Seed(ctx context.Context, ec *ExecutionContext) error {
	if c.seed != nil {
		return c.seed(ctx, ec)
	}
	return c.BaseCommand.Seed(ctx, ec)
}

func (c testCommand) Fold(report Report) Result {
	if c.fold != nil {
		return c.fold(report)
	}
	return c.BaseCommand.Fold(report)
}

func (c testCommand) Seeds() []KeyRef { return c.seeds }

type haltingCommand struct {
	testCommand
}

func (haltingCommand) FailurePolicy() FailurePolicy { return HaltOnFailure }

func newTestCommand(t *testing.T, rules ...string) testCommand {
	t.Helper()
	base, err := NewBaseCommand(CommandSpec{
		Kind:          KindAttack,
		ActorID:       "hero",
		TargetIDs:     []string{"goblin"},
		RequiredRules: rules,
	})
	mustNoError(t, "new command", err)
	return testCommand{BaseCommand: base}
}

// probeRule counts calls and can be told to refuse, fail, error or panic.
type probeRule struct {
	name      string
	priority  int
	applies   bool
	result    Result
	err       error
	panicWith any
	run       func(ctx context.Context, ec *ExecutionContext) Result

	canApplyCalls int
	executeCalls  int
	order         *[]string
}

func newProbe(name string, priority int) *probeRule {
	return &probeRule{name: name, priority: priority, applies: true, result: Succeed(name+" ok", nil)}
}

func (r *probeRule) Name() string  { return r.name }
func (r *probeRule) Priority() int { return r.priority }

func (r *probeRule) CanApply(context.Context, View, Command) bool {
	r.canApplyCalls++
	return r.applies
}

func (r *probeRule) Execute(ctx context.Context, ec *ExecutionContext, _ Command) (Result, error) {
	r.executeCalls++
	if r.order != nil {
		*r.order = append(*r.order, r.name)
	}
	if r.panicWith != nil {
		panic(r.panicWith)
	}
	if r.err != nil {
		return Result{}, r.err
	}
	if r.run != nil {
		return r.run(ctx, ec), nil
	}
	return r.result, nil
}
