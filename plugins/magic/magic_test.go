package magic

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"

	"rpgkernel/internal/core"
	"rpgkernel/internal/infra/persistence/memory"
	"rpgkernel/pkg/dice"
	"rpgkernel/pkg/domain"
	"rpgkernel/plugins/sheet"
)

func seedParty(t *testing.T, store domain.EntityStore) {
	t.Helper()
	ctx := context.Background()
	cast := map[string]sheet.Character{
		"wizard":   {Name: "Wizard", Class: "wizard", Level: 5, HP: 20, MaxHP: 20, AC: 12, SpellSlots: map[int]int{1: 2, 3: 1}},
		"cleric":   {Name: "Cleric", Class: "cleric", Level: 3, HP: 10, MaxHP: 18, AC: 16, SpellSlots: map[int]int{1: 1}},
		"goblin":   {Name: "Goblin", Level: 1, HP: 7, MaxHP: 7, AC: 13},
		"orc":      {Name: "Orc", Level: 2, HP: 15, MaxHP: 15, AC: 13},
		"skeleton": {Name: "Skeleton", Level: 1, HP: 13, MaxHP: 13, AC: 13, Undead: true},
		"zombie":   {Name: "Zombie", Level: 4, HP: 22, MaxHP: 22, AC: 8, Undead: true},
	}
	for id, c := range cast {
		if err := sheet.Save(ctx, store, id, c); err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func resolve(t *testing.T, cmd domain.Command, roller dice.Roller) (domain.Resolution, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	seedParty(t, store)
	engine := domain.NewRulesEngine()
	for _, rule := range Rules() {
		engine.MustRegister(rule)
	}
	res, err := engine.Resolve(context.Background(), cmd, domain.Env{Store: store, Dice: roller})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return res, store
}

func load(t *testing.T, store domain.EntityReader, id string) sheet.Character {
	t.Helper()
	c, err := sheet.Load(context.Background(), store, id)
	if err != nil {
		t.Fatalf("load %s: %v", id, err)
	}
	return c
}

func mustCast(t *testing.T, caster string, targets []string, params domain.Params) CastSpell {
	t.Helper()
	cast, err := NewCastSpell(caster, targets, params)
	if err != nil {
		t.Fatalf("new cast: %v", err)
	}
	return cast
}

func TestMagicMissileSpendsSlotAndDamages(t *testing.T) {
	cast := mustCast(t, "wizard", []string{"goblin"}, domain.Params{"spell": "magic_missile"})
	if cast.SpellName() != "magic_missile" || cast.SpellLevel() != 1 {
		t.Fatalf("unexpected spell %s at %d", cast.SpellName(), cast.SpellLevel())
	}
	res, store := resolve(t, cast, dice.NewScripted(1, 2, 3))
	if !res.Result.Success || res.Result.Message != "Magic Missile hits Goblin for 9" {
		t.Fatalf("unexpected result %+v", res.Result)
	}
	data := res.Result.Data
	if data["amount"] != 9 || data["slots_left"] != 1 || data["hp"].(map[string]int)["goblin"] != 0 {
		t.Fatalf("unexpected data %v", data)
	}
	if defeated, _ := data["defeated"].([]string); !slices.Equal(defeated, []string{"goblin"}) {
		t.Fatalf("goblin should be defeated, got %v", data["defeated"])
	}
	if wizard := load(t, store, "wizard"); wizard.SpellSlots[1] != 1 || wizard.SpellSlots[3] != 1 {
		t.Fatalf("unexpected slots %v", wizard.SpellSlots)
	}
	if goblin := load(t, store, "goblin"); goblin.Alive() {
		t.Fatalf("goblin survived %+v", goblin)
	}
}

func TestFireballRollsOnceForEveryTarget(t *testing.T) {
	cast := mustCast(t, "wizard", []string{"goblin", "orc"}, domain.Params{"spell": "fireball"})
	res, store := resolve(t, cast, dice.NewScripted(1, 1, 1, 1, 1, 1, 1, 1))
	if res.Result.Message != "Fireball hits Goblin, Orc for 8" {
		t.Fatalf("unexpected message %q", res.Result.Message)
	}
	if orc := load(t, store, "orc"); orc.HP != 7 || !orc.Alive() {
		t.Fatalf("unexpected orc %+v", orc)
	}
	if goblin := load(t, store, "goblin"); !goblin.HasCondition(sheet.ConditionDefeated) {
		t.Fatalf("goblin should be defeated")
	}
	if wizard := load(t, store, "wizard"); wizard.SpellSlots[3] != 0 {
		t.Fatalf("level 3 slot should be spent, got %v", wizard.SpellSlots)
	}
}

func TestUpcastAddsDice(t *testing.T) {
	cast := mustCast(t, "wizard", []string{"orc"}, domain.Params{"spell": "magic_missile", "slot_level": 3})
	if cast.SpellLevel() != 3 {
		t.Fatalf("spell level should follow the slot, got %d", cast.SpellLevel())
	}
	roller := dice.NewScripted(1, 1, 1, 1, 1)
	res, store := resolve(t, cast, roller)
	if res.Result.Data["amount"] != 8 || roller.Remaining() != 0 {
		t.Fatalf("expected five dice plus 3, got %v with %d left", res.Result.Data, roller.Remaining())
	}
	if wizard := load(t, store, "wizard"); wizard.SpellSlots[1] != 2 || wizard.SpellSlots[3] != 0 {
		t.Fatalf("unexpected slots %v", wizard.SpellSlots)
	}
	if expr := spells["fireball"].Expression(5); expr.String() != "8d6+2d6" {
		t.Fatalf("unexpected upcast expression %s", expr)
	}
}

func TestMissingSlotHaltsTheCast(t *testing.T) {
	cast := mustCast(t, "cleric", []string{"orc"}, domain.Params{"spell": "magic_missile", "slot_level": 3})
	roller := dice.NewScripted(4, 4, 4)
	res, store := resolve(t, cast, roller)
	if res.Result.Success || res.Result.Code != CodeNoSlot || res.Result.Message != "Cleric has no level 3 slots left" {
		t.Fatalf("unexpected result %+v", res.Result)
	}
	if res.Report.Policy != domain.HaltOnFailure {
		t.Fatalf("cast must halt on failure, got %v", res.Report.Policy)
	}
	for _, name := range []string{RuleSpellEffect, RuleApplyEffect} {
		if o, _ := res.Report.Outcome(name); o.Skipped != domain.SkipHalted {
			t.Fatalf("%s should be halted, got %+v", name, o)
		}
	}
	if roller.Remaining() != 3 {
		t.Fatalf("no dice should be rolled, %d left", roller.Remaining())
	}
	if orc := load(t, store, "orc"); orc.HP != 15 {
		t.Fatalf("orc must be untouched, got %+v", orc)
	}
}

func TestCureWoundsHealsCasterUpToMaximum(t *testing.T) {
	cast := mustCast(t, "cleric", nil, domain.Params{"spell": "cure_wounds"})
	res, store := resolve(t, cast, dice.NewScripted(8))
	if !res.Result.Success || res.Result.Message != "Cure Wounds restores 11 hp to Cleric" {
		t.Fatalf("unexpected result %+v", res.Result)
	}
	if cleric := load(t, store, "cleric"); cleric.HP != 18 || cleric.SpellSlots[1] != 0 {
		t.Fatalf("unexpected cleric %+v", cleric)
	}
}

func TestCastSpellValidation(t *testing.T) {
	cases := []struct {
		name    string
		targets []string
		params  domain.Params
		fields  string
	}{
		{"unknown spell", []string{"orc"}, domain.Params{"spell": "wish"}, "spell"},
		{"missing spell", []string{"orc"}, nil, "spell"},
		{"slot below spell level", []string{"orc"}, domain.Params{"spell": "fireball", "slot_level": 2}, "spell,slot_level"},
		{"damage without target", nil, domain.Params{"spell": "fireball"}, "target_ids"},
		{"too many missiles", []string{"orc", "goblin"}, domain.Params{"spell": "magic_missile"}, "target_ids"},
		{"unknown param", []string{"orc"}, domain.Params{"spell": "fireball", "quickened": true}, "quickened"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewCastSpell("wizard", tc.targets, tc.params)
			var verr *domain.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := strings.Join(verr.Fields(), "|"); got != tc.fields {
				t.Fatalf("expected fields %q, got %q", tc.fields, got)
			}
		})
	}
}

func TestCastFoldWithoutPrimary(t *testing.T) {
	report := domain.Report{Outcomes: []domain.RuleOutcome{
		{Rule: RuleSpendSlot, Applied: true, Result: domain.Succeed("spent", nil)},
		{Rule: RuleSpellEffect, Applied: true, Result: domain.Succeed("rolled", nil)},
		{Rule: RuleApplyEffect, Skipped: domain.SkipNotApplicable},
	}}
	if res := (CastSpell{}).Fold(report); res.Code != domain.CodePrimaryNotApplied {
		t.Fatalf("expected primary_not_applied, got %+v", res)
	}
}

func TestTurnUndead(t *testing.T) {
	turn, err := NewTurnUndead("cleric", []string{"skeleton", "zombie", "goblin"})
	if err != nil {
		t.Fatalf("new turn: %v", err)
	}
	res, store := resolve(t, turn, dice.NewScripted(10))
	if !res.Result.Success || res.Result.Message != "Skeleton is turned; Zombie resists" {
		t.Fatalf("unexpected result %+v", res.Result)
	}
	if turned, _ := res.Result.Data["turned"].([]string); !slices.Equal(turned, []string{"skeleton"}) {
		t.Fatalf("unexpected turned %v", res.Result.Data)
	}
	if !load(t, store, "skeleton").HasCondition(sheet.ConditionTurned) {
		t.Fatalf("skeleton should be turned")
	}
	if load(t, store, "zombie").HasCondition(sheet.ConditionTurned) {
		t.Fatalf("zombie resisted")
	}
}

func TestTurnUndeadWithoutUndead(t *testing.T) {
	turn, err := NewTurnUndead("cleric", []string{"goblin"})
	if err != nil {
		t.Fatalf("new turn: %v", err)
	}
	res, _ := resolve(t, turn, dice.NewScripted(20))
	if res.Result.Success || res.Result.Code != CodeNoUndead {
		t.Fatalf("expected no_undead, got %+v", res.Result)
	}
	if roll, _ := res.Report.Outcome(RuleTurnRoll); !roll.Applied || !roll.Result.Success {
		t.Fatalf("turn roll should have applied, got %+v", roll)
	}

	_, err = NewTurnUndead("cleric", nil)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || strings.Join(verr.Fields(), "|") != "target_ids" {
		t.Fatalf("expected target_ids violation, got %v", err)
	}
}

func TestCanExecuteRequiresLivingCaster(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedParty(t, store)
	cast := mustCast(t, "cleric", nil, domain.Params{"spell": "cure_wounds"})
	turn, _ := NewTurnUndead("cleric", []string{"skeleton"})
	if !cast.CanExecute(ctx, store) || !turn.CanExecute(ctx, store) {
		t.Fatalf("living cleric can act")
	}
	cleric := load(t, store, "cleric")
	cleric.AddCondition(sheet.ConditionDefeated)
	if err := sheet.Save(ctx, store, "cleric", cleric); err != nil {
		t.Fatalf("save: %v", err)
	}
	if cast.CanExecute(ctx, store) || turn.CanExecute(ctx, store) {
		t.Fatalf("defeated cleric cannot act")
	}
}

func TestPluginDispatchesDecodedRequests(t *testing.T) {
	svc := core.NewInMemoryService(nil, core.WithDice(dice.NewScripted(1, 1, 1, 1, 1, 1, 1, 1, 1)))
	meta, err := svc.InstallPlugin(New())
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if !slices.Equal(meta.Commands, []domain.CommandKind{domain.KindCastSpell, domain.KindTurnUndead}) {
		t.Fatalf("unexpected commands %v", meta.Commands)
	}
	seedParty(t, svc.Store())
	var req core.CommandRequest
	raw := `{"kind":"cast_spell","actor_id":"wizard","target_ids":["orc"],"params":{"spell":"fireball","slot_level":3}}`
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	res, err := svc.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !res.Result.Success || res.Result.Data["amount"] != 8 {
		t.Fatalf("unexpected result %+v", res.Result)
	}
	res, err = svc.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if res.Result.Code != CodeNoSlot {
		t.Fatalf("second fireball needs a slot, got %+v", res.Result)
	}
}
