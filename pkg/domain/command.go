package domain

import (
	"context"
	"fmt"
	"strings"
)

// CommandKind is the closed set of actions the kernel resolves.
type CommandKind string

const (
	KindAttack     CommandKind = "attack"
	KindCastSpell  CommandKind = "cast_spell"
	KindLevelUp    CommandKind = "level_up"
	KindTurnUndead CommandKind = "turn_undead"
)

// CommandKinds lists every valid kind.
func CommandKinds() []CommandKind {
	return []CommandKind{KindAttack, KindCastSpell, KindLevelUp, KindTurnUndead}
}

// Valid reports whether k is a member of the closed kind set.
func (k CommandKind) Valid() bool {
	switch k {
	case KindAttack, KindCastSpell, KindLevelUp, KindTurnUndead:
		return true
	default:
		return false
	}
}

// Command is a validated, actor-initiated intent. Implementations are
// immutable once constructed.
type Command interface {
	Kind() CommandKind
	ActorID() string
	TargetIDs() []string
	Params() Params
	// RequiredRules names the rules relevant to the command. Execution order
	// follows rule priority, not list position.
	RequiredRules() []string
	// CanExecute is a cheap read-only precondition check. It never runs a
	// rule and never writes.
	CanExecute(ctx context.Context, entities EntityReader) bool
	// Seed places the scratch entries downstream rules expect.
	Seed(ctx context.Context, ec *ExecutionContext) error
	// Fold combines the per-rule outcomes into the command result.
	Fold(report Report) Result
}

// ContextSeeder is implemented by commands that declare the keys Seed
// writes, so the planner can treat them as available from the start.
type ContextSeeder interface {
	Seeds() []KeyRef
}

// FailurePolicyOverride lets a command demand a failure policy regardless
// of the engine default.
type FailurePolicyOverride interface {
	FailurePolicy() FailurePolicy
}

// AttackLike is implemented by commands resolving an attack roll against a
// defender.
type AttackLike interface {
	Command
	AttackerID() string
	DefenderID() string
}

// SpellLike is implemented by commands casting a named spell.
type SpellLike interface {
	Command
	SpellName() string
	SpellLevel() int
}

// ProgressionLike is implemented by commands advancing a character.
type ProgressionLike interface {
	Command
	CharacterID() string
}

// As returns cmd as capability T.
func As[T Command](cmd Command) (T, bool) {
	t, ok := cmd.(T)
	return t, ok
}

// IsKind reports whether cmd has one of kinds.
func IsKind(cmd Command, kinds ...CommandKind) bool {
	if cmd == nil {
		return false
	}
	for _, k := range kinds {
		if cmd.Kind() == k {
			return true
		}
	}
	return false
}

// CommandSpec describes a command under construction.
type CommandSpec struct {
	Kind          CommandKind
	ActorID       string
	TargetIDs     []string
	Params        Params
	Schema        *ParamSchema
	RequiredRules []string
}

// BaseCommand implements the bookkeeping part of Command. Concrete commands
// embed it and override Seed, Fold or CanExecute as needed.
type BaseCommand struct {
	kind    CommandKind
	actor   string
	targets []string
	params  Params
	rules   []string
}

// NewBaseCommand validates spec and returns the command, or a
// *ValidationError listing every violated constraint.
func NewBaseCommand(spec CommandSpec) (BaseCommand, error) {
	var violations []FieldViolation
	if !spec.Kind.Valid() {
		violations = append(violations, FieldViolation{Field: "kind", Constraint: "enum", Message: fmt.Sprintf("unknown command kind %q", spec.Kind)})
	}
	if strings.TrimSpace(spec.ActorID) == "" {
		violations = append(violations, FieldViolation{Field: "actor_id", Constraint: "required", Message: "is required"})
	}
	seen := make(map[string]struct{}, len(spec.TargetIDs))
	for i, id := range spec.TargetIDs {
		field := fmt.Sprintf("target_ids[%d]", i)
		if strings.TrimSpace(id) == "" {
			violations = append(violations, FieldViolation{Field: field, Constraint: "required", Message: "must not be blank"})
			continue
		}
		if _, dup := seen[id]; dup {
			violations = append(violations, FieldViolation{Field: field, Constraint: "unique", Message: fmt.Sprintf("duplicates target %s", id)})
		}
		seen[id] = struct{}{}
	}
	if len(spec.RequiredRules) == 0 {
		violations = append(violations, FieldViolation{Field: "required_rules", Constraint: "required", Message: "at least one rule is required"})
	}
	for i, name := range spec.RequiredRules {
		if strings.TrimSpace(name) == "" {
			violations = append(violations, FieldViolation{Field: fmt.Sprintf("required_rules[%d]", i), Constraint: "required", Message: "must not be blank"})
		}
	}
	violations = append(violations, spec.Schema.Validate(spec.Params)...)
	if len(violations) > 0 {
		return BaseCommand{}, &ValidationError{Kind: spec.Kind, Violations: violations}
	}
	return BaseCommand{
		kind:    spec.Kind,
		actor:   spec.ActorID,
		targets: append([]string(nil), spec.TargetIDs...),
		params:  spec.Params.clone(),
		rules:   append([]string(nil), spec.RequiredRules...),
	}, nil
}

func (c BaseCommand) Kind() CommandKind { return c.kind }

func (c BaseCommand) ActorID() string { return c.actor }

func (c BaseCommand) TargetIDs() []string { return append([]string(nil), c.targets...) }

func (c BaseCommand) Params() Params { return c.params.clone() }

func (c BaseCommand) RequiredRules() []string { return append([]string(nil), c.rules...) }

// CanExecute checks that the actor and every target exist.
func (c BaseCommand) CanExecute(ctx context.Context, entities EntityReader) bool {
	if entities == nil || !EntityExists(ctx, entities, c.actor) {
		return false
	}
	for _, id := range c.targets {
		if !EntityExists(ctx, entities, id) {
			return false
		}
	}
	return true
}

// Seed writes nothing.
func (c BaseCommand) Seed(context.Context, *ExecutionContext) error { return nil }

// Fold reports the outcome of the last applied rule.
func (c BaseCommand) Fold(report Report) Result { return FoldLast(report) }
