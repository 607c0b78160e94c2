package magic

import (
	"context"
	"fmt"
	"strings"

	"rpgkernel/pkg/dice"
	"rpgkernel/pkg/domain"
	"rpgkernel/pkg/pluginapi"
	"rpgkernel/plugins/sheet"
)

// turnBase is added to an undead target's level to get the roll it must
// beat.
const turnBase = 10

var turnSchema = domain.MustParamSchema(nil)

// TurnUndead presents a holy symbol to the targets. Every undead target
// whose level plus ten is at most the d20 plus the cleric's level is turned.
//
// Fold: the last applied rule decides.
type TurnUndead struct {
	domain.BaseCommand
}

// NewTurnUndead validates and builds a turn attempt against at least one
// target. It takes no parameters.
func NewTurnUndead(clericID string, targetIDs []string) (TurnUndead, error) {
	return newTurnUndead(pluginapi.CommandRequest{Kind: domain.KindTurnUndead, ActorID: clericID, TargetIDs: targetIDs})
}

func buildTurnUndead(req pluginapi.CommandRequest) (domain.Command, error) {
	turn, err := newTurnUndead(req)
	if err != nil {
		return nil, err
	}
	return turn, nil
}

func newTurnUndead(req pluginapi.CommandRequest) (TurnUndead, error) {
	base, err := domain.NewBaseCommand(domain.CommandSpec{
		Kind:          domain.KindTurnUndead,
		ActorID:       req.ActorID,
		TargetIDs:     req.TargetIDs,
		Params:        req.Params,
		Schema:        turnSchema,
		RequiredRules: []string{RuleTurnRoll, RuleTurnApply},
	})
	if len(req.TargetIDs) == 0 {
		err = domain.WithViolations(err, domain.KindTurnUndead, domain.FieldViolation{Field: "target_ids", Constraint: "required", Message: "turning needs at least one target"})
	}
	if err != nil {
		return TurnUndead{}, err
	}
	return TurnUndead{BaseCommand: base}, nil
}

// CanExecute additionally requires a living cleric.
func (t TurnUndead) CanExecute(ctx context.Context, entities domain.EntityReader) bool {
	if !t.BaseCommand.CanExecute(ctx, entities) {
		return false
	}
	cleric, err := sheet.Load(ctx, entities, t.ActorID())
	return err == nil && cleric.Alive()
}

func rollTurn(ctx context.Context, ec *domain.ExecutionContext, cmd domain.Command) (domain.Result, error) {
	cleric, err := sheet.Load(ctx, ec.Entities(), cmd.ActorID())
	if err != nil {
		return domain.Result{}, err
	}
	res, err := ec.Dice().Roll(dice.D(1, 20))
	if err != nil {
		return domain.Result{}, err
	}
	total := res.Total + cleric.Level
	TurnRoll.Set(ec, total)
	return domain.Succeed(fmt.Sprintf("%s presents a holy symbol (%d)", cleric.Name, total), map[string]any{"turn_roll": total}), nil
}

func applyTurn(ctx context.Context, ec *domain.ExecutionContext, cmd domain.Command) (domain.Result, error) {
	roll, err := TurnRoll.Require(ec)
	if err != nil {
		return domain.Result{}, err
	}
	turned := []string{}
	resisted := []string{}
	var parts []string
	for _, id := range cmd.TargetIDs() {
		target, err := sheet.Load(ctx, ec.Entities(), id)
		if err != nil {
			return domain.Result{}, err
		}
		if !target.Undead {
			continue
		}
		if roll < turnBase+target.Level {
			resisted = append(resisted, id)
			parts = append(parts, target.Name+" resists")
			continue
		}
		target.AddCondition(sheet.ConditionTurned)
		if err := sheet.Save(ctx, ec.Entities(), id, target); err != nil {
			return domain.Result{}, err
		}
		turned = append(turned, id)
		parts = append(parts, target.Name+" is turned")
	}
	if len(parts) == 0 {
		return domain.Fail(CodeNoUndead, "no undead among the targets"), nil
	}
	return domain.Succeed(strings.Join(parts, "; "), map[string]any{
		"turned":   turned,
		"resisted": resisted,
	}), nil
}
