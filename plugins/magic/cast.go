package magic

import (
	"context"
	"fmt"

	"rpgkernel/pkg/domain"
	"rpgkernel/pkg/pluginapi"
	"rpgkernel/plugins/sheet"
)

var castSchema = domain.MustParamSchema(
	[]domain.FieldSpec{
		{Name: "spell", Type: domain.ParamString, Required: true, Enum: SpellNames()},
		{Name: "slot_level", Type: domain.ParamInt, Min: domain.Bound(1), Max: domain.Bound(9)},
	},
	domain.CrossCheck{
		Name:    "minimum_level",
		Expr:    minimumLevelExpr(),
		Fields:  []string{"spell", "slot_level"},
		Message: "slot is below the spell's level",
	},
)

// CastSpell casts one spell from the caster's slots at the targets. Healing
// spells without targets heal the caster.
//
// Failure policy: halt. Without a free slot nothing else happens.
// Fold: a failed slot spend is the result; otherwise magic_apply_effect
// decides, with Data merged from every applied rule.
type CastSpell struct {
	domain.BaseCommand
	spell Spell
	slot  int
}

var (
	_ domain.SpellLike             = CastSpell{}
	_ domain.ContextSeeder         = CastSpell{}
	_ domain.FailurePolicyOverride = CastSpell{}
)

// NewCastSpell validates and builds a cast. Params: spell (required, one of
// SpellNames) and slot_level (int 1..9, defaults to the spell's level and
// may not be below it).
func NewCastSpell(casterID string, targetIDs []string, params domain.Params) (CastSpell, error) {
	return newCastSpell(pluginapi.CommandRequest{Kind: domain.KindCastSpell, ActorID: casterID, TargetIDs: targetIDs, Params: params})
}

func buildCastSpell(req pluginapi.CommandRequest) (domain.Command, error) {
	cast, err := newCastSpell(req)
	if err != nil {
		return nil, err
	}
	return cast, nil
}

func newCastSpell(req pluginapi.CommandRequest) (CastSpell, error) {
	base, err := domain.NewBaseCommand(domain.CommandSpec{
		Kind:          domain.KindCastSpell,
		ActorID:       req.ActorID,
		TargetIDs:     req.TargetIDs,
		Params:        req.Params,
		Schema:        castSchema,
		RequiredRules: []string{RuleSpendSlot, RuleSpellEffect, RuleApplyEffect},
	})
	name, _ := req.Params.String("spell")
	spell, known := Lookup(name)
	if known {
		err = domain.WithViolations(err, domain.KindCastSpell, targetViolations(spell, len(req.TargetIDs))...)
	}
	if err != nil {
		return CastSpell{}, err
	}
	slot, ok := req.Params.Int("slot_level")
	if !ok {
		slot = spell.Level
	}
	return CastSpell{BaseCommand: base, spell: spell, slot: slot}, nil
}

func targetViolations(spell Spell, n int) []domain.FieldViolation {
	switch {
	case spell.Effect == EffectDamage && n == 0:
		return []domain.FieldViolation{{Field: "target_ids", Constraint: "required", Message: fmt.Sprintf("%s needs a target", spell.Title)}}
	case spell.MaxTargets > 0 && n > spell.MaxTargets:
		return []domain.FieldViolation{{Field: "target_ids", Constraint: "count", Message: fmt.Sprintf("%s affects at most %d targets", spell.Title, spell.MaxTargets)}}
	}
	return nil
}

func (c CastSpell) SpellName() string { return c.spell.Name }

// SpellLevel is the level of the slot the spell is cast from.
func (c CastSpell) SpellLevel() int { return c.slot }

func (CastSpell) FailurePolicy() domain.FailurePolicy { return domain.HaltOnFailure }

func (CastSpell) Seeds() []domain.KeyRef { return domain.Refs(SpellSlot) }

func (c CastSpell) Seed(_ context.Context, ec *domain.ExecutionContext) error {
	SpellSlot.Set(ec, c.slot)
	return nil
}

func (CastSpell) Fold(report domain.Report) domain.Result {
	if spend, ok := report.Outcome(RuleSpendSlot); ok && spend.Applied && !spend.Result.Success {
		return spend.Result
	}
	return domain.FoldPrimary(RuleApplyEffect)(report)
}

// CanExecute additionally requires a living caster.
func (c CastSpell) CanExecute(ctx context.Context, entities domain.EntityReader) bool {
	if !c.BaseCommand.CanExecute(ctx, entities) {
		return false
	}
	caster, err := sheet.Load(ctx, entities, c.ActorID())
	return err == nil && caster.Alive()
}
