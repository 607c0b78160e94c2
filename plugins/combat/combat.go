// Package combat resolves melee and ranged attacks: an attack roll against
// the defender's armour class, a damage roll on a hit and the resulting hit
// point loss, ending with the defender's defeat at zero hit points.
package combat

import (
	"context"
	"fmt"

	"rpgkernel/pkg/dice"
	"rpgkernel/pkg/domain"
	"rpgkernel/pkg/pluginapi"
	"rpgkernel/plugins/sheet"
)

// Rule names, in execution order.
const (
	RuleAttackRoll  = "combat_attack_roll"
	RuleToHit       = "combat_to_hit"
	RuleDamage      = "combat_damage"
	RuleApplyDamage = "combat_apply_damage"
	RuleDefeat      = "combat_defeat"
)

// Attack modes seeded from the command parameters.
const (
	ModeNormal       = "normal"
	ModeAdvantage    = "advantage"
	ModeDisadvantage = "disadvantage"
)

// Context keys written during an attack.
var (
	AttackMode   = domain.NewKey[string]("combat:attack:mode")
	AttackRoll   = domain.NewKey[int]("combat:attack:roll")
	NaturalRoll  = domain.NewKey[int]("combat:attack:natural")
	AttackHit    = domain.NewKey[bool]("combat:attack:hit")
	DamageAmount = domain.NewKey[int]("combat:damage:amount")
	TargetHP     = domain.NewKey[int]("combat:target:hp")
)

const unarmed = "1d4"

// Plugin contributes the attack rules and command.
type Plugin struct{}

// New constructs the combat plugin.
func New() Plugin { return Plugin{} }

func (Plugin) Name() string { return "combat" }

func (Plugin) Version() string { return "1.0.0" }

// Register wires the character schema, the attack rule chain and the attack
// command factory.
func (Plugin) Register(registry pluginapi.Registry) error {
	registry.RegisterSchema(sheet.Kind, sheet.Schema())
	for _, rule := range Rules() {
		registry.RegisterRule(rule)
	}
	return registry.RegisterCommand(domain.KindAttack, buildAttack)
}

// Rules returns the attack rule chain.
func Rules() []domain.Rule {
	return []domain.Rule{
		domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     RuleAttackRoll,
			Priority: 10,
			Kinds:    []domain.CommandKind{domain.KindAttack},
			Reads:    domain.Refs(AttackMode),
			Writes:   domain.Refs(AttackRoll, NaturalRoll),
			Run:      rollAttack,
		}),
		domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     RuleToHit,
			Priority: 20,
			Kinds:    []domain.CommandKind{domain.KindAttack},
			Reads:    domain.Refs(AttackRoll, NaturalRoll),
			Writes:   domain.Refs(AttackHit),
			Run:      resolveHit,
		}),
		domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     RuleDamage,
			Priority: 30,
			Kinds:    []domain.CommandKind{domain.KindAttack},
			Reads:    domain.Refs(AttackHit, NaturalRoll),
			Writes:   domain.Refs(DamageAmount),
			Applies: func(_ context.Context, view domain.View, _ domain.Command) bool {
				hit, _ := AttackHit.Get(view)
				return hit
			},
			Run: rollDamage,
		}),
		domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     RuleApplyDamage,
			Priority: 40,
			Kinds:    []domain.CommandKind{domain.KindAttack},
			Reads:    domain.Refs(DamageAmount),
			Writes:   domain.Refs(TargetHP),
			Run:      applyDamage,
		}),
		domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     RuleDefeat,
			Priority: 50,
			Kinds:    []domain.CommandKind{domain.KindAttack},
			Reads:    domain.Refs(TargetHP),
			Applies: func(_ context.Context, view domain.View, _ domain.Command) bool {
				hp, _ := TargetHP.Get(view)
				return hp <= 0
			},
			Run: defeat,
		}),
	}
}

func rollAttack(ctx context.Context, ec *domain.ExecutionContext, cmd domain.Command) (domain.Result, error) {
	attack, ok := domain.As[domain.AttackLike](cmd)
	if !ok {
		return domain.Fail("not_an_attack", "command does not describe an attack"), nil
	}
	attacker, err := sheet.Load(ctx, ec.Entities(), attack.AttackerID())
	if err != nil {
		return domain.Result{}, err
	}
	mode, _ := AttackMode.Get(ec)
	natural, err := rollD20(ec.Dice(), mode)
	if err != nil {
		return domain.Result{}, err
	}
	bonus, _ := cmd.Params().Int("bonus")
	total := natural + attacker.AttackBonus + bonus
	NaturalRoll.Set(ec, natural)
	AttackRoll.Set(ec, total)
	return domain.Succeed(fmt.Sprintf("%s rolls %d", attacker.Name, total), map[string]any{
		"natural":     natural,
		"attack_roll": total,
	}), nil
}

func rollD20(roller dice.Roller, mode string) (int, error) {
	count := 1
	if mode == ModeAdvantage || mode == ModeDisadvantage {
		count = 2
	}
	res, err := roller.Roll(dice.D(count, 20))
	if err != nil {
		return 0, err
	}
	rolls := res.Rolls[0].Results
	pick := rolls[0]
	for _, r := range rolls[1:] {
		if (mode == ModeAdvantage && r > pick) || (mode == ModeDisadvantage && r < pick) {
			pick = r
		}
	}
	return pick, nil
}

// resolveHit compares the attack roll with the defender's armour class. A
// natural 20 always hits and a natural 1 always misses.
func resolveHit(ctx context.Context, ec *domain.ExecutionContext, cmd domain.Command) (domain.Result, error) {
	attack, _ := domain.As[domain.AttackLike](cmd)
	defender, err := sheet.Load(ctx, ec.Entities(), attack.DefenderID())
	if err != nil {
		return domain.Result{}, err
	}
	total, err := AttackRoll.Require(ec)
	if err != nil {
		return domain.Result{}, err
	}
	natural, _ := NaturalRoll.Get(ec)
	hit := natural == 20 || (natural != 1 && total >= defender.AC)
	AttackHit.Set(ec, hit)
	msg := fmt.Sprintf("%d misses %s (AC %d)", total, defender.Name, defender.AC)
	if hit {
		msg = fmt.Sprintf("%d hits %s (AC %d)", total, defender.Name, defender.AC)
	}
	return domain.Succeed(msg, map[string]any{"hit": hit, "critical": natural == 20}), nil
}

// rollDamage rolls the attacker's damage dice, twice on a critical hit.
func rollDamage(ctx context.Context, ec *domain.ExecutionContext, cmd domain.Command) (domain.Result, error) {
	attack, _ := domain.As[domain.AttackLike](cmd)
	attacker, err := sheet.Load(ctx, ec.Entities(), attack.AttackerID())
	if err != nil {
		return domain.Result{}, err
	}
	notation := attacker.Damage
	if notation == "" {
		notation = unarmed
	}
	expr, err := dice.ParseNotation(notation)
	if err != nil {
		return domain.Result{}, err
	}
	natural, _ := NaturalRoll.Get(ec)
	if natural == 20 {
		expr.Dice = append(expr.Dice, expr.Dice...)
	}
	amount, _, err := expr.Roll(ec.Dice())
	if err != nil {
		return domain.Result{}, err
	}
	amount = max(amount, 0)
	DamageAmount.Set(ec, amount)
	return domain.Succeed(fmt.Sprintf("%s deals %d damage", attacker.Name, amount), map[string]any{"damage": amount}), nil
}

func applyDamage(ctx context.Context, ec *domain.ExecutionContext, cmd domain.Command) (domain.Result, error) {
	attack, _ := domain.As[domain.AttackLike](cmd)
	id := attack.DefenderID()
	defender, err := sheet.Load(ctx, ec.Entities(), id)
	if err != nil {
		return domain.Result{}, err
	}
	amount, err := DamageAmount.Require(ec)
	if err != nil {
		return domain.Result{}, err
	}
	defender.HP = max(defender.HP-amount, 0)
	if err := sheet.Save(ctx, ec.Entities(), id, defender); err != nil {
		return domain.Result{}, err
	}
	TargetHP.Set(ec, defender.HP)
	return domain.Succeed(fmt.Sprintf("%s drops to %d hp", defender.Name, defender.HP), map[string]any{"target_hp": defender.HP}), nil
}

func defeat(ctx context.Context, ec *domain.ExecutionContext, cmd domain.Command) (domain.Result, error) {
	attack, _ := domain.As[domain.AttackLike](cmd)
	id := attack.DefenderID()
	defender, err := sheet.Load(ctx, ec.Entities(), id)
	if err != nil {
		return domain.Result{}, err
	}
	defender.AddCondition(sheet.ConditionDefeated)
	if err := sheet.Save(ctx, ec.Entities(), id, defender); err != nil {
		return domain.Result{}, err
	}
	return domain.Succeed(fmt.Sprintf("%s is defeated", defender.Name), map[string]any{"defeated": true}), nil
}
