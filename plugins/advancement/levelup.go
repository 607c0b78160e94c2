package advancement

import (
	"rpgkernel/pkg/domain"
	"rpgkernel/pkg/pluginapi"
)

var levelUpSchema = domain.MustParamSchema([]domain.FieldSpec{
	{Name: "take_average", Type: domain.ParamBool},
})

// LevelUp advances the acting character by one level. Params: take_average
// (bool) takes half the hit die plus one instead of rolling.
//
// Fold: the last applied rule decides, so a character short on experience
// gets the insufficient_xp failure.
type LevelUp struct {
	domain.BaseCommand
}

var _ domain.ProgressionLike = LevelUp{}

func NewLevelUp(characterID string, params domain.Params) (LevelUp, error) {
	return newLevelUp(pluginapi.CommandRequest{Kind: domain.KindLevelUp, ActorID: characterID, Params: params})
}

func buildLevelUp(req pluginapi.CommandRequest) (domain.Command, error) {
	up, err := newLevelUp(req)
	if err != nil {
		return nil, err
	}
	return up, nil
}

func newLevelUp(req pluginapi.CommandRequest) (LevelUp, error) {
	base, err := domain.NewBaseCommand(domain.CommandSpec{
		Kind:          domain.KindLevelUp,
		ActorID:       req.ActorID,
		TargetIDs:     req.TargetIDs,
		Params:        req.Params,
		Schema:        levelUpSchema,
		RequiredRules: []string{RuleCheckXP, RuleRollHP, RuleApply},
	})
	if len(req.TargetIDs) > 0 {
		err = domain.WithViolations(err, domain.KindLevelUp, domain.FieldViolation{Field: "target_ids", Constraint: "count", Message: "a character levels up alone"})
	}
	if err != nil {
		return LevelUp{}, err
	}
	return LevelUp{BaseCommand: base}, nil
}

// CharacterID is the character being advanced.
func (l LevelUp) CharacterID() string { return l.ActorID() }
