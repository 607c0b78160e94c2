// Package advancement levels characters up once they have earned enough
// experience, rolling the new hit points from the class hit die.
package advancement

import (
	"context"
	"fmt"

	"rpgkernel/pkg/dice"
	"rpgkernel/pkg/domain"
	"rpgkernel/pkg/pluginapi"
	"rpgkernel/plugins/sheet"
)

const (
	RuleCheckXP = "advancement_check_xp"
	RuleRollHP  = "advancement_roll_hp"
	RuleApply   = "advancement_apply"
)

const (
	CodeInsufficientXP = "insufficient_xp"
	CodeMaxLevel       = "max_level"
)

var (
	NextLevel = domain.NewKey[int]("advancement:level:next")
	HPGain    = domain.NewKey[int]("advancement:hp:gain")
)

// thresholds[n] is the experience needed to reach level n+2.
var thresholds = [...]int{300, 900, 2700, 6500, 14000, 23000, 34000, 48000, 64000}

var hitDice = map[string]int{
	"fighter": 10,
	"cleric":  8,
	"rogue":   8,
	"wizard":  6,
}

const defaultHitDie = 8

// MaxLevel is the highest level in the experience table.
const MaxLevel = len(thresholds) + 1

// Threshold returns the experience needed to reach level. Level 1 needs
// none; levels past MaxLevel report false.
func Threshold(level int) (int, bool) {
	switch {
	case level <= 1:
		return 0, true
	case level > MaxLevel:
		return 0, false
	}
	return thresholds[level-2], true
}

// HitDie returns the sides of the class hit die.
func HitDie(class string) int {
	if sides, ok := hitDice[class]; ok {
		return sides
	}
	return defaultHitDie
}

type Plugin struct{}

func New() Plugin { return Plugin{} }

func (Plugin) Name() string { return "advancement" }

func (Plugin) Version() string { return "1.0.0" }

func (Plugin) Register(registry pluginapi.Registry) error {
	registry.RegisterSchema(sheet.Kind, sheet.Schema())
	for _, rule := range Rules() {
		registry.RegisterRule(rule)
	}
	return registry.RegisterCommand(domain.KindLevelUp, buildLevelUp)
}

// Rules returns the level up rule chain.
func Rules() []domain.Rule {
	kinds := []domain.CommandKind{domain.KindLevelUp}
	return []domain.Rule{
		domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     RuleCheckXP,
			Priority: 10,
			Kinds:    kinds,
			Writes:   domain.Refs(NextLevel),
			Run:      checkXP,
		}),
		domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     RuleRollHP,
			Priority: 20,
			Kinds:    kinds,
			Reads:    domain.Refs(NextLevel),
			Writes:   domain.Refs(HPGain),
			Run:      rollHP,
		}),
		domain.NewFuncRule(domain.FuncRuleSpec{
			Name:     RuleApply,
			Priority: 30,
			Kinds:    kinds,
			Reads:    domain.Refs(NextLevel, HPGain),
			Run:      apply,
		}),
	}
}

func character(ctx context.Context, ec *domain.ExecutionContext, cmd domain.Command) (string, sheet.Character, error) {
	id := cmd.ActorID()
	if p, ok := domain.As[domain.ProgressionLike](cmd); ok {
		id = p.CharacterID()
	}
	c, err := sheet.Load(ctx, ec.Entities(), id)
	return id, c, err
}

func checkXP(ctx context.Context, ec *domain.ExecutionContext, cmd domain.Command) (domain.Result, error) {
	_, c, err := character(ctx, ec, cmd)
	if err != nil {
		return domain.Result{}, err
	}
	next := c.Level + 1
	need, ok := Threshold(next)
	if !ok {
		return domain.Failf(CodeMaxLevel, "%s is already level %d", c.Name, c.Level), nil
	}
	if c.XP < need {
		return domain.Failf(CodeInsufficientXP, "%s needs %d xp for level %d (has %d)", c.Name, need, next, c.XP), nil
	}
	NextLevel.Set(ec, next)
	return domain.Succeed(fmt.Sprintf("%s qualifies for level %d", c.Name, next), map[string]any{
		"next_level":  next,
		"xp_required": need,
	}), nil
}

func rollHP(ctx context.Context, ec *domain.ExecutionContext, cmd domain.Command) (domain.Result, error) {
	_, c, err := character(ctx, ec, cmd)
	if err != nil {
		return domain.Result{}, err
	}
	sides := HitDie(c.Class)
	gain := sides/2 + 1
	if average, _ := cmd.Params().Bool("take_average"); !average {
		res, err := ec.Dice().Roll(dice.D(1, sides))
		if err != nil {
			return domain.Result{}, err
		}
		gain = res.Total
	}
	HPGain.Set(ec, gain)
	return domain.Succeed(fmt.Sprintf("%s gains %d hp", c.Name, gain), map[string]any{"hp_gain": gain}), nil
}

func apply(ctx context.Context, ec *domain.ExecutionContext, cmd domain.Command) (domain.Result, error) {
	id, c, err := character(ctx, ec, cmd)
	if err != nil {
		return domain.Result{}, err
	}
	next, err := NextLevel.Require(ec)
	if err != nil {
		return domain.Result{}, err
	}
	gain, err := HPGain.Require(ec)
	if err != nil {
		return domain.Result{}, err
	}
	c.Level = next
	c.MaxHP += gain
	c.HP += gain
	if err := sheet.Save(ctx, ec.Entities(), id, c); err != nil {
		return domain.Result{}, err
	}
	return domain.Succeed(fmt.Sprintf("%s reaches level %d (+%d hp)", c.Name, next, gain), map[string]any{
		"level":  next,
		"max_hp": c.MaxHP,
	}), nil
}
