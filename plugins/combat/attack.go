package combat

import (
	"context"

	"rpgkernel/pkg/domain"
	"rpgkernel/pkg/pluginapi"
	"rpgkernel/plugins/sheet"
)

var attackSchema = domain.MustParamSchema(
	[]domain.FieldSpec{
		{Name: "bonus", Type: domain.ParamInt, Min: domain.Bound(-10), Max: domain.Bound(10)},
		{Name: "advantage", Type: domain.ParamBool},
		{Name: "disadvantage", Type: domain.ParamBool},
	},
	domain.CrossCheck{
		Name:    "single_mode",
		Expr:    `!(params.advantage && params.disadvantage)`,
		Fields:  []string{"advantage", "disadvantage"},
		Message: "advantage and disadvantage cancel out; pass neither",
	},
)

// Attack is one attack of an attacker against a single defender.
//
// Fold: the attack succeeds once it resolves, hit or miss; the message is
// the last applied rule's and Data merges the roll, hit, damage and the
// defender's remaining hit points.
type Attack struct {
	domain.BaseCommand
}

var (
	_ domain.AttackLike    = Attack{}
	_ domain.ContextSeeder = Attack{}
)

// NewAttack validates and builds an attack. Params: bonus (int, -10..10),
// advantage and disadvantage (bool, mutually exclusive).
func NewAttack(attackerID, defenderID string, params domain.Params) (Attack, error) {
	var targets []string
	if defenderID != "" {
		targets = []string{defenderID}
	}
	return newAttack(pluginapi.CommandRequest{Kind: domain.KindAttack, ActorID: attackerID, TargetIDs: targets, Params: params})
}

func buildAttack(req pluginapi.CommandRequest) (domain.Command, error) {
	attack, err := newAttack(req)
	if err != nil {
		return nil, err
	}
	return attack, nil
}

func newAttack(req pluginapi.CommandRequest) (Attack, error) {
	base, err := domain.NewBaseCommand(domain.CommandSpec{
		Kind:          domain.KindAttack,
		ActorID:       req.ActorID,
		TargetIDs:     req.TargetIDs,
		Params:        req.Params,
		Schema:        attackSchema,
		RequiredRules: []string{RuleAttackRoll, RuleToHit, RuleDamage, RuleApplyDamage, RuleDefeat},
	})
	if len(req.TargetIDs) != 1 {
		err = domain.WithViolations(err, domain.KindAttack, domain.FieldViolation{Field: "target_ids", Constraint: "count", Message: "an attack needs exactly one defender"})
	}
	if err != nil {
		return Attack{}, err
	}
	return Attack{BaseCommand: base}, nil
}

func (a Attack) AttackerID() string { return a.ActorID() }

func (a Attack) DefenderID() string {
	targets := a.TargetIDs()
	if len(targets) == 0 {
		return ""
	}
	return targets[0]
}

// Mode reports the roll mode requested by the parameters.
func (a Attack) Mode() string {
	params := a.Params()
	if adv, _ := params.Bool("advantage"); adv {
		return ModeAdvantage
	}
	if dis, _ := params.Bool("disadvantage"); dis {
		return ModeDisadvantage
	}
	return ModeNormal
}

// Seeds declares the attack mode key written by Seed.
func (Attack) Seeds() []domain.KeyRef { return domain.Refs(AttackMode) }

// Seed records the roll mode.
func (a Attack) Seed(_ context.Context, ec *domain.ExecutionContext) error {
	AttackMode.Set(ec, a.Mode())
	return nil
}

// Fold succeeds unless an applied rule failed.
func (Attack) Fold(report domain.Report) domain.Result {
	return domain.FoldAllSucceeded(report)
}

// CanExecute additionally requires a living attacker.
func (a Attack) CanExecute(ctx context.Context, entities domain.EntityReader) bool {
	if !a.BaseCommand.CanExecute(ctx, entities) {
		return false
	}
	attacker, err := sheet.Load(ctx, entities, a.AttackerID())
	return err == nil && attacker.Alive()
}
