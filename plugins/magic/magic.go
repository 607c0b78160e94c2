// Package magic resolves spellcasting and turning undead. Casting spends a
// spell slot, rolls the spell's dice and applies the damage or healing to
// every target; a cast without a free slot halts before any dice are rolled.
package magic

import (
	"context"
	"fmt"
	"strings"

	"rpgkernel/pkg/domain"
	"rpgkernel/pkg/pluginapi"
	"rpgkernel/plugins/sheet"
)

// Rule names, in execution order per command.
const (
	RuleSpendSlot   = "magic_spend_slot"
	RuleSpellEffect = "magic_spell_effect"
	RuleApplyEffect = "magic_apply_effect"
	RuleTurnRoll    = "magic_turn_roll"
	RuleTurnApply   = "magic_turn_apply"
)

// Failure codes reported by the rules.
const (
	CodeNoSlot   = "no_slot"
	CodeNoUndead = "no_undead"
)

// Context keys written by the magic rules.
var (
	SpellSlot    = domain.NewKey[int]("magic:spell:slot")
	SlotSpent    = domain.NewKey[bool]("magic:slot:spent")
	EffectAmount = domain.NewKey[int]("magic:effect:amount")
	TurnRoll     = domain.NewKey[int]("magic:turn:roll")
)

// Plugin contributes the spellcasting and turn undead rules.
type Plugin struct{}

func New() Plugin { return Plugin{} }

func (Plugin) Name() string { return "magic" }

func (Plugin) Version() string { return "1.0.0" }

func (Plugin) Register(registry pluginapi.Registry) error {
	registry.RegisterSchema(sheet.Kind, sheet.Schema())
	for _, rule := range Rules() {
		registry.RegisterRule(rule)
	}
	if err := registry.RegisterCommand(domain.KindCastSpell, buildCastSpell); err != nil {
		return err
	}
	return registry.RegisterCommand(domain.KindTurnUndead, buildTurnUndead)
}

// Rules returns the cast spell and turn undead rule chains.
func Rules() []domain.Rule {
	cast := []domain.CommandKind{domain.KindCastSpell}
	turn := []domain.CommandKind{domain.KindTurnUndead}
	return []domain.Rule{
		domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     RuleSpendSlot,
			Priority: 10,
			Kinds:    cast,
			Reads:    domain.Refs(SpellSlot),
			Writes:   domain.Refs(SlotSpent),
			Run:      spendSlot,
		}),
		domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     RuleSpellEffect,
			Priority: 20,
			Kinds:    cast,
			Reads:    domain.Refs(SlotSpent, SpellSlot),
			Writes:   domain.Refs(EffectAmount),
			Applies: func(_ context.Context, view domain.View, _ domain.Command) bool {
				spent, _ := SlotSpent.Get(view)
				return spent
			},
			Run: rollEffect,
		}),
		domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     RuleApplyEffect,
			Priority: 30,
			Kinds:    cast,
			Reads:    domain.Refs(EffectAmount),
			Run:      applyEffect,
		}),
		domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     RuleTurnRoll,
			Priority: 10,
			Kinds:    turn,
			Writes:   domain.Refs(TurnRoll),
			Run:      rollTurn,
		}),
		domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     RuleTurnApply,
			Priority: 20,
			Kinds:    turn,
			Reads:    domain.Refs(TurnRoll),
			Run:      applyTurn,
		}),
	}
}

func spendSlot(ctx context.Context, ec *domain.ExecutionContext, cmd domain.Command) (domain.Result, error) {
	slot, err := SpellSlot.Require(ec)
	if err != nil {
		return domain.Result{}, err
	}
	caster, err := sheet.Load(ctx, ec.Entities(), cmd.ActorID())
	if err != nil {
		return domain.Result{}, err
	}
	left := caster.SpellSlots[slot]
	if left <= 0 {
		return domain.Failf(CodeNoSlot, "%s has no level %d slots left", caster.Name, slot), nil
	}
	slots := make(map[int]int, len(caster.SpellSlots))
	for level, n := range caster.SpellSlots {
		slots[level] = n
	}
	slots[slot] = left - 1
	caster.SpellSlots = slots
	if err := sheet.Save(ctx, ec.Entities(), cmd.ActorID(), caster); err != nil {
		return domain.Result{}, err
	}
	SlotSpent.Set(ec, true)
	return domain.Succeed(fmt.Sprintf("%s spends a level %d slot", caster.Name, slot), map[string]any{
		"slot_level": slot,
		"slots_left": left - 1,
	}), nil
}

func rollEffect(_ context.Context, ec *domain.ExecutionContext, cmd domain.Command) (domain.Result, error) {
	cast, ok := domain.As[domain.SpellLike](cmd)
	if !ok {
		return domain.Fail("not_a_spell", "command does not cast a spell"), nil
	}
	spell, ok := Lookup(cast.SpellName())
	if !ok {
		return domain.Failf("unknown_spell", "unknown spell %s", cast.SpellName()), nil
	}
	slot, err := SpellSlot.Require(ec)
	if err != nil {
		return domain.Result{}, err
	}
	amount, _, err := spell.Expression(slot).Roll(ec.Dice())
	if err != nil {
		return domain.Result{}, err
	}
	amount = max(amount, 0)
	EffectAmount.Set(ec, amount)
	return domain.Succeed(fmt.Sprintf("%s rolls %d %s", spell.Title, amount, spell.Effect), map[string]any{
		"spell":  spell.Name,
		"amount": amount,
	}), nil
}

func applyEffect(ctx context.Context, ec *domain.ExecutionContext, cmd domain.Command) (domain.Result, error) {
	cast, _ := domain.As[domain.SpellLike](cmd)
	spell, ok := Lookup(cast.SpellName())
	if !ok {
		return domain.Failf("unknown_spell", "unknown spell %s", cast.SpellName()), nil
	}
	amount, err := EffectAmount.Require(ec)
	if err != nil {
		return domain.Result{}, err
	}
	targets := cmd.TargetIDs()
	if len(targets) == 0 && spell.Effect == EffectHeal {
		targets = []string{cmd.ActorID()}
	}
	hp := make(map[string]int, len(targets))
	names := make([]string, 0, len(targets))
	var defeated []string
	for _, id := range targets {
		target, err := sheet.Load(ctx, ec.Entities(), id)
		if err != nil {
			return domain.Result{}, err
		}
		switch spell.Effect {
		case EffectHeal:
			target.HP = min(target.HP+amount, target.MaxHP)
		default:
			target.HP = max(target.HP-amount, 0)
			if target.HP == 0 {
				target.AddCondition(sheet.ConditionDefeated)
				defeated = append(defeated, id)
			}
		}
		if err := sheet.Save(ctx, ec.Entities(), id, target); err != nil {
			return domain.Result{}, err
		}
		hp[id] = target.HP
		names = append(names, target.Name)
	}
	data := map[string]any{"hp": hp}
	if len(defeated) > 0 {
		data["defeated"] = defeated
	}
	if spell.Effect == EffectHeal {
		return domain.Succeed(fmt.Sprintf("%s restores %d hp to %s", spell.Title, amount, strings.Join(names, ", ")), data), nil
	}
	return domain.Succeed(fmt.Sprintf("%s hits %s for %d", spell.Title, strings.Join(names, ", "), amount), data), nil
}
