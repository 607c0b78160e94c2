// Package sheet is the character record shared by the sample rule packs.
package sheet

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"rpgkernel/pkg/domain"
)

// Kind is the entity kind of character records.
const Kind = "character"

// ErrNotFound is returned when a character id does not resolve.
var ErrNotFound = errors.New("character not found")

// Character is the payload of a character entity.
type Character struct {
	Name        string      `json:"name"`
	Class       string      `json:"class,omitempty"`
	Level       int         `json:"level"`
	XP          int         `json:"xp"`
	HP          int         `json:"hp"`
	MaxHP       int         `json:"max_hp"`
	AC          int         `json:"ac"`
	AttackBonus int         `json:"attack_bonus"`
	Damage      string      `json:"damage,omitempty"`
	SpellSlots  map[int]int `json:"spell_slots,omitempty"`
	Undead      bool        `json:"undead,omitempty"`
	Conditions  []string    `json:"conditions,omitempty"`
}

// Conditions applied by the rule packs.
const (
	ConditionDefeated = "defeated"
	ConditionTurned   = "turned"
)

// Alive reports whether the character can still act.
func (c Character) Alive() bool {
	return c.HP > 0 && !c.HasCondition(ConditionDefeated)
}

// HasCondition reports whether condition is applied.
func (c Character) HasCondition(condition string) bool {
	return slices.Contains(c.Conditions, condition)
}

// AddCondition applies condition once.
func (c *Character) AddCondition(condition string) {
	if !c.HasCondition(condition) {
		c.Conditions = append(c.Conditions, condition)
	}
}

// Load reads a character. A missing id returns ErrNotFound.
func Load(ctx context.Context, r domain.EntityReader, id string) (Character, error) {
	c, ok, err := domain.LoadEntity[Character](ctx, r, id)
	if err != nil {
		return Character{}, fmt.Errorf("load character %s: %w", id, err)
	}
	if !ok {
		return Character{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return c, nil
}

// Save replaces the stored character.
func Save(ctx context.Context, s domain.EntityStore, id string, c Character) error {
	if err := domain.SaveEntity(ctx, s, id, Kind, c); err != nil {
		return fmt.Errorf("save character %s: %w", id, err)
	}
	return nil
}

// Schema is the JSON Schema fragment of the character payload.
func Schema() map[string]any {
	integer := func(min int) map[string]any { return map[string]any{"type": "integer", "minimum": min} }
	return map[string]any{
		"$id":      "rpgkernel/character",
		"type":     "object",
		"required": []string{"name", "level", "hp", "max_hp", "ac"},
		"properties": map[string]any{
			"name":         map[string]any{"type": "string"},
			"class":        map[string]any{"type": "string"},
			"level":        integer(1),
			"xp":           integer(0),
			"hp":           integer(0),
			"max_hp":       integer(1),
			"ac":           integer(0),
			"attack_bonus": map[string]any{"type": "integer"},
			"damage":       map[string]any{"type": "string", "description": "dice notation, e.g. 1d8+2"},
			"spell_slots":  map[string]any{"type": "object", "additionalProperties": integer(0)},
			"undead":       map[string]any{"type": "boolean"},
			"conditions":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}
}
