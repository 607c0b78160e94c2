package advancement

import (
	"context"
	"errors"
	"strings"
	"testing"

	"rpgkernel/internal/core"
	"rpgkernel/internal/infra/persistence/memory"
	"rpgkernel/pkg/dice"
	"rpgkernel/pkg/domain"
	"rpgkernel/plugins/sheet"
)

func resolve(t *testing.T, hero sheet.Character, params domain.Params, rolls ...int) (domain.Resolution, sheet.Character) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	if err := sheet.Save(ctx, store, "hero", hero); err != nil {
		t.Fatalf("seed: %v", err)
	}
	up, err := NewLevelUp("hero", params)
	if err != nil {
		t.Fatalf("new level up: %v", err)
	}
	engine := domain.NewRulesEngine()
	for _, rule := range Rules() {
		engine.MustRegister(rule)
	}
	res, err := engine.Resolve(ctx, up, domain.Env{Store: store, Dice: dice.NewScripted(rolls...)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	after, err := sheet.Load(ctx, store, "hero")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return res, after
}

func TestThresholds(t *testing.T) {
	cases := map[int]int{1: 0, 2: 300, 3: 900, 5: 6500, 10: 64000}
	for level, want := range cases {
		got, ok := Threshold(level)
		if !ok || got != want {
			t.Fatalf("level %d: expected %d, got %d (%v)", level, want, got, ok)
		}
	}
	if _, ok := Threshold(MaxLevel + 1); ok {
		t.Fatalf("no threshold past level %d", MaxLevel)
	}
	if HitDie("fighter") != 10 || HitDie("wizard") != 6 || HitDie("bard") != defaultHitDie {
		t.Fatalf("unexpected hit dice")
	}
}

func TestLevelUpRollsHitDie(t *testing.T) {
	hero := sheet.Character{Name: "Hero", Class: "fighter", Level: 2, XP: 1000, HP: 15, MaxHP: 20, AC: 16}
	res, after := resolve(t, hero, nil, 7)
	if !res.Result.Success || res.Result.Message != "Hero reaches level 3 (+7 hp)" {
		t.Fatalf("unexpected result %+v", res.Result)
	}
	if after.Level != 3 || after.MaxHP != 27 || after.HP != 22 {
		t.Fatalf("unexpected character %+v", after)
	}
}

func TestLevelUpTakeAverage(t *testing.T) {
	hero := sheet.Character{Name: "Hero", Class: "wizard", Level: 1, XP: 300, HP: 6, MaxHP: 6, AC: 10}
	res, after := resolve(t, hero, domain.Params{"take_average": true})
	if !res.Result.Success || after.MaxHP != 10 {
		t.Fatalf("expected 4 hp from a d6 average, got %+v / %+v", res.Result, after)
	}
}

func TestLevelUpInsufficientXP(t *testing.T) {
	hero := sheet.Character{Name: "Hero", Class: "cleric", Level: 2, XP: 899, HP: 12, MaxHP: 12, AC: 15}
	res, after := resolve(t, hero, nil, 8)
	if res.Result.Success || res.Result.Code != CodeInsufficientXP {
		t.Fatalf("unexpected result %+v", res.Result)
	}
	if res.Result.Message != "Hero needs 900 xp for level 3 (has 899)" {
		t.Fatalf("unexpected message %q", res.Result.Message)
	}
	for _, name := range []string{RuleRollHP, RuleApply} {
		if o, _ := res.Report.Outcome(name); o.Skipped != domain.SkipNotApplicable {
			t.Fatalf("%s should be skipped, got %+v", name, o)
		}
	}
	if after.Level != 2 || after.MaxHP != 12 {
		t.Fatalf("character must not change, got %+v", after)
	}
}

func TestLevelUpAtMaxLevel(t *testing.T) {
	hero := sheet.Character{Name: "Hero", Level: MaxLevel, XP: 1_000_000, HP: 80, MaxHP: 80, AC: 18}
	res, _ := resolve(t, hero, nil)
	if res.Result.Code != CodeMaxLevel {
		t.Fatalf("expected max_level, got %+v", res.Result)
	}
}

func TestLevelUpValidation(t *testing.T) {
	_, err := NewLevelUp("hero", domain.Params{"take_average": "yes"})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || strings.Join(verr.Fields(), "|") != "take_average" {
		t.Fatalf("expected take_average violation, got %v", err)
	}
	_, err = buildLevelUp(core.CommandRequest{Kind: domain.KindLevelUp, ActorID: "hero", TargetIDs: []string{"goblin"}})
	if !errors.As(err, &verr) || verr.Violations[0].Field != "target_ids" {
		t.Fatalf("expected target_ids violation, got %v", err)
	}
	_, err = buildLevelUp(core.CommandRequest{Kind: domain.KindLevelUp, ActorID: "hero", TargetIDs: []string{"goblin"}, Params: domain.Params{"take_average": "yes"}})
	if !errors.As(err, &verr) || strings.Join(verr.Fields(), "|") != "take_average|target_ids" {
		t.Fatalf("expected every violation reported, got %v", err)
	}
	up, err := NewLevelUp("hero", nil)
	if err != nil {
		t.Fatalf("new level up: %v", err)
	}
	if p, ok := domain.As[domain.ProgressionLike](up); !ok || p.CharacterID() != "hero" {
		t.Fatalf("expected ProgressionLike")
	}
}

func TestPluginInstall(t *testing.T) {
	svc := core.NewInMemoryService(nil, core.WithDice(dice.NewScripted(5)))
	if _, err := svc.InstallPlugin(New()); err != nil {
		t.Fatalf("install: %v", err)
	}
	hero := sheet.Character{Name: "Hero", Class: "rogue", Level: 1, XP: 450, HP: 8, MaxHP: 8, AC: 14}
	if err := sheet.Save(context.Background(), svc.Store(), "hero", hero); err != nil {
		t.Fatalf("seed: %v", err)
	}
	res, err := svc.Dispatch(context.Background(), core.CommandRequest{Kind: domain.KindLevelUp, ActorID: "hero"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Result.Data["level"] != 2 || res.Result.Data["max_hp"] != 13 {
		t.Fatalf("unexpected result %+v", res.Result)
	}
}
