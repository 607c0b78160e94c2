package combat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"rpgkernel/internal/core"
	"rpgkernel/internal/infra/persistence/memory"
	"rpgkernel/pkg/dice"
	"rpgkernel/pkg/domain"
	"rpgkernel/pkg/pluginapi"
	"rpgkernel/plugins/sheet"
)

func seedDuel(t *testing.T, store domain.EntityStore) {
	t.Helper()
	ctx := context.Background()
	hero := sheet.Character{Name: "Hero", Level: 1, HP: 12, MaxHP: 12, AC: 14, AttackBonus: 3, Damage: "1d8+2"}
	goblin := sheet.Character{Name: "Goblin", Level: 1, HP: 7, MaxHP: 7, AC: 13}
	if err := sheet.Save(ctx, store, "hero", hero); err != nil {
		t.Fatalf("seed hero: %v", err)
	}
	if err := sheet.Save(ctx, store, "goblin", goblin); err != nil {
		t.Fatalf("seed goblin: %v", err)
	}
}

func newEngine(t *testing.T) *domain.RulesEngine {
	t.Helper()
	engine := domain.NewRulesEngine()
	for _, rule := range Rules() {
		if err := engine.Register(rule); err != nil {
			t.Fatalf("register %s: %v", rule.Name(), err)
		}
	}
	return engine
}

func resolve(t *testing.T, params domain.Params, rolls ...int) (domain.Resolution, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	seedDuel(t, store)
	attack, err := NewAttack("hero", "goblin", params)
	if err != nil {
		t.Fatalf("new attack: %v", err)
	}
	res, err := newEngine(t).Resolve(context.Background(), attack, domain.Env{Store: store, Dice: dice.NewScripted(rolls...)})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return res, store
}

func loadGoblin(t *testing.T, store domain.EntityReader) sheet.Character {
	t.Helper()
	goblin, err := sheet.Load(context.Background(), store, "goblin")
	if err != nil {
		t.Fatalf("load goblin: %v", err)
	}
	return goblin
}

func TestAttackHitDefeatsDefender(t *testing.T) {
	res, store := resolve(t, nil, 12, 6)
	if !res.Result.Success || res.Result.Message != "Goblin is defeated" {
		t.Fatalf("unexpected result %+v", res.Result)
	}
	data := res.Result.Data
	if data["attack_roll"] != 15 || data["hit"] != true || data["damage"] != 8 || data["target_hp"] != 0 || data["defeated"] != true {
		t.Fatalf("unexpected data %v", data)
	}
	goblin := loadGoblin(t, store)
	if goblin.HP != 0 || !goblin.HasCondition(sheet.ConditionDefeated) {
		t.Fatalf("goblin should be defeated, got %+v", goblin)
	}
	if strings.Join(res.Plan, ",") != "combat_attack_roll,combat_to_hit,combat_damage,combat_apply_damage,combat_defeat" {
		t.Fatalf("unexpected plan %v", res.Plan)
	}
	if writer, ok := scratchWriter(res, "combat:attack:mode"); !ok || writer != domain.SeedWriter {
		t.Fatalf("attack mode should be seeded, got %q", writer)
	}
}

func scratchWriter(res domain.Resolution, key string) (string, bool) {
	for _, entry := range res.Scratch {
		if entry.Key == key {
			return entry.Writer, true
		}
	}
	return "", false
}

func TestAttackMissLeavesDefenderUntouched(t *testing.T) {
	res, store := resolve(t, nil, 5)
	if !res.Result.Success || res.Result.Message != "8 misses Goblin (AC 13)" {
		t.Fatalf("unexpected result %+v", res.Result)
	}
	if res.Result.Data["hit"] != false {
		t.Fatalf("expected a miss, got %v", res.Result.Data)
	}
	damage, _ := res.Report.Outcome(RuleDamage)
	if damage.Applied || damage.Skipped != domain.SkipNotApplicable {
		t.Fatalf("damage must be skipped on a miss, got %+v", damage)
	}
	if goblin := loadGoblin(t, store); goblin.HP != 7 {
		t.Fatalf("goblin hp changed on a miss: %d", goblin.HP)
	}
}

func TestNaturalOneAlwaysMisses(t *testing.T) {
	res, _ := resolve(t, domain.Params{"bonus": 10}, 1)
	if res.Result.Data["hit"] != false {
		t.Fatalf("natural 1 must miss, got %v", res.Result.Data)
	}
}

func TestCriticalHitDoublesDamageDice(t *testing.T) {
	res, store := resolve(t, domain.Params{"bonus": -5}, 20, 3, 4)
	if res.Result.Data["critical"] != true || res.Result.Data["damage"] != 9 {
		t.Fatalf("unexpected critical data %v", res.Result.Data)
	}
	if goblin := loadGoblin(t, store); !goblin.HasCondition(sheet.ConditionDefeated) {
		t.Fatalf("goblin should be defeated by the critical")
	}
}

func TestAdvantageKeepsHigherRoll(t *testing.T) {
	res, store := resolve(t, domain.Params{"advantage": true}, 4, 17, 1)
	if res.Result.Data["natural"] != 17 || res.Result.Data["damage"] != 3 {
		t.Fatalf("unexpected data %v", res.Result.Data)
	}
	if goblin := loadGoblin(t, store); goblin.HP != 4 || goblin.HasCondition(sheet.ConditionDefeated) {
		t.Fatalf("unexpected goblin %+v", goblin)
	}
	if _, ok := res.Report.Outcome(RuleDefeat); !ok {
		t.Fatalf("defeat should be planned")
	}

	res, _ = resolve(t, domain.Params{"disadvantage": true}, 18, 2)
	if res.Result.Data["natural"] != 2 || res.Result.Data["hit"] != false {
		t.Fatalf("disadvantage should keep the lower roll, got %v", res.Result.Data)
	}
}

func TestExhaustedDiceFailsTheRule(t *testing.T) {
	res, store := resolve(t, nil, 15)
	if res.Result.Success || res.Result.Code != domain.CodeRuleError {
		t.Fatalf("expected rule error from missing damage roll, got %+v", res.Result)
	}
	if !strings.Contains(res.Result.Message, dice.ErrScriptExhausted.Error()) {
		t.Fatalf("expected exhausted script diagnostic, got %q", res.Result.Message)
	}
	if goblin := loadGoblin(t, store); goblin.HP != 7 {
		t.Fatalf("goblin must be untouched, got %+v", goblin)
	}
}

func TestNewAttackValidation(t *testing.T) {
	_, err := NewAttack("hero", "", domain.Params{"bonus": 20, "advantage": true, "disadvantage": true})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := strings.Join(verr.Fields(), "|")
	if fields != "bonus|advantage,disadvantage|target_ids" {
		t.Fatalf("unexpected violated fields %q", fields)
	}

	_, err = buildAttack(pluginapi.CommandRequest{Kind: domain.KindAttack, ActorID: "hero", TargetIDs: []string{"a", "b"}})
	if !errors.As(err, &verr) || len(verr.Violations) != 1 || verr.Violations[0].Field != "target_ids" {
		t.Fatalf("expected single target violation, got %v", err)
	}
	cmd, err := buildAttack(pluginapi.CommandRequest{Kind: domain.KindAttack, ActorID: "hero", TargetIDs: []string{"goblin"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	attack, ok := domain.As[domain.AttackLike](cmd)
	if !ok || attack.AttackerID() != "hero" || attack.DefenderID() != "goblin" {
		t.Fatalf("expected AttackLike command, got %#v", cmd)
	}
}

func TestAttackRequiresLivingAttacker(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedDuel(t, store)
	attack, err := NewAttack("goblin", "hero", nil)
	if err != nil {
		t.Fatalf("new attack: %v", err)
	}
	if !attack.CanExecute(ctx, store) {
		t.Fatalf("living goblin can attack")
	}
	goblin := loadGoblin(t, store)
	goblin.HP = 0
	if err := sheet.Save(ctx, store, "goblin", goblin); err != nil {
		t.Fatalf("save: %v", err)
	}
	if attack.CanExecute(ctx, store) {
		t.Fatalf("a downed goblin cannot attack")
	}
	ghost, _ := NewAttack("ghost", "hero", nil)
	if ghost.CanExecute(ctx, store) {
		t.Fatalf("missing attacker cannot attack")
	}
}

func TestPluginRegistersThroughService(t *testing.T) {
	svc := core.NewInMemoryService(nil, core.WithDice(dice.NewScripted(12, 6)))
	meta, err := svc.InstallPlugin(New())
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if meta.Name != "combat" || len(meta.Rules) != 5 || meta.Schemas[sheet.Kind]["$id"] != "rpgkernel/character" {
		t.Fatalf("unexpected metadata %+v", meta)
	}
	seedDuel(t, svc.Store())
	res, err := svc.Dispatch(context.Background(), core.CommandRequest{
		Kind:      domain.KindAttack,
		ActorID:   "hero",
		TargetIDs: []string{"goblin"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.Result.Success || res.Result.Data["defeated"] != true {
		t.Fatalf("unexpected result %+v", res.Result)
	}
}
