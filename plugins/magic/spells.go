package magic

import (
	"fmt"
	"sort"
	"strings"

	"rpgkernel/pkg/dice"
)

// Effect is what a spell does to its targets.
type Effect string

const (
	EffectDamage Effect = "damage"
	EffectHeal   Effect = "heal"
)

// Spell is one entry of the spell list. Each slot level above Level adds
// Upcast to the rolled dice.
type Spell struct {
	Name   string
	Title  string
	Level  int
	Effect Effect
	Dice   string
	Upcast dice.Spec
	// MaxTargets of zero means any number of targets.
	MaxTargets int
}

var spells = map[string]Spell{
	"magic_missile": {Name: "magic_missile", Title: "Magic Missile", Level: 1, Effect: EffectDamage, Dice: "3d4+3", Upcast: dice.D(1, 4), MaxTargets: 1},
	"cure_wounds":   {Name: "cure_wounds", Title: "Cure Wounds", Level: 1, Effect: EffectHeal, Dice: "1d8+3", Upcast: dice.D(1, 8), MaxTargets: 1},
	"fireball":      {Name: "fireball", Title: "Fireball", Level: 3, Effect: EffectDamage, Dice: "8d6", Upcast: dice.D(1, 6)},
}

// Lookup returns the named spell.
func Lookup(name string) (Spell, bool) {
	s, ok := spells[name]
	return s, ok
}

// SpellNames lists the known spells in lexical order.
func SpellNames() []string {
	names := make([]string, 0, len(spells))
	for name := range spells {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expression returns the dice rolled when the spell is cast from a slot of
// the given level.
func (s Spell) Expression(slot int) dice.Expression {
	expr := dice.MustParse(s.Dice)
	if extra := slot - s.Level; extra > 0 && s.Upcast.Count > 0 {
		expr.Dice = append(expr.Dice, dice.D(s.Upcast.Count*extra, s.Upcast.Sides))
	}
	return expr
}

// minimumLevelExpr renders the spell list's minimum levels as an expr-lang
// predicate over the cast parameters.
func minimumLevelExpr() string {
	entries := make([]string, 0, len(spells))
	for _, name := range SpellNames() {
		entries = append(entries, fmt.Sprintf("%q: %d", name, spells[name].Level))
	}
	return fmt.Sprintf("params.slot_level >= {%s}[params.spell]", strings.Join(entries, ", "))
}
