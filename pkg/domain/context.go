package domain

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"rpgkernel/pkg/dice"
)

// ScratchReader is anything Key.Get can read from: an ExecutionContext or
// its View.
type ScratchReader interface {
	Has(ref KeyRef) bool
	lookup(name string) (any, bool)
}

// View is the read-only face of an execution handed to Rule.CanApply. It
// cannot write entities or scratch entries.
type View interface {
	ScratchReader
	ExecutionID() string
	Entities() EntityReader
}

// Env carries the collaborators of one execution.
type Env struct {
	// Store backs entity reads and writes. Required.
	Store EntityStore
	// Dice is the randomness source offered to rules. When nil, rolling fails
	// with dice.ErrNoRoller.
	Dice dice.Roller
	// ID overrides the generated execution identifier.
	ID string
	// Now overrides the execution start time.
	Now time.Time
}

// ExecutionContext is the per-command state passed through a rule chain:
// entity store, a fresh Scratch, the dice roller and bookkeeping about the
// rule currently running.
type ExecutionContext struct {
	id      string
	started time.Time
	store   EntityStore
	scratch *Scratch
	roller  dice.Roller
	rule    string
}

// NewExecutionContext allocates an execution with an empty scratch space.
func NewExecutionContext(env Env) *ExecutionContext {
	id := env.ID
	if id == "" {
		id = ulid.Make().String()
	}
	started := env.Now
	if started.IsZero() {
		started = time.Now().UTC()
	}
	roller := env.Dice
	if roller == nil {
		roller = dice.Unavailable{}
	}
	return &ExecutionContext{
		id:      id,
		started: started,
		store:   env.Store,
		scratch: newScratch(),
		roller:  roller,
	}
}

// ID returns the execution identifier.
func (ec *ExecutionContext) ID() string { return ec.id }

// ExecutionID implements View.
func (ec *ExecutionContext) ExecutionID() string { return ec.id }

// StartedAt returns when the execution began.
func (ec *ExecutionContext) StartedAt() time.Time { return ec.started }

// Entities returns the writable entity store.
func (ec *ExecutionContext) Entities() EntityStore { return ec.store }

// Scratch returns the temporary context of this execution.
func (ec *ExecutionContext) Scratch() *Scratch { return ec.scratch }

// Dice returns the roller for this execution.
func (ec *ExecutionContext) Dice() dice.Roller { return ec.roller }

// Rule returns the name of the rule currently executing, if any.
func (ec *ExecutionContext) Rule() string { return ec.rule }

// Has reports whether the scratch space holds the key.
func (ec *ExecutionContext) Has(ref KeyRef) bool { return ec.scratch.Has(ref) }

func (ec *ExecutionContext) lookup(name string) (any, bool) { return ec.scratch.lookup(name) }

// View returns a read-only view of the execution.
func (ec *ExecutionContext) View() View { return readOnlyView{ec: ec} }

func (ec *ExecutionContext) writer() string {
	if ec.rule == "" {
		return SeedWriter
	}
	return ec.rule
}

func (ec *ExecutionContext) enter(rule string) { ec.rule = rule }
func (ec *ExecutionContext) leave()            { ec.rule = "" }

type readOnlyView struct {
	ec *ExecutionContext
}

func (v readOnlyView) ExecutionID() string { return v.ec.id }

func (v readOnlyView) Entities() EntityReader {
	if v.ec.store == nil {
		return nil
	}
	return readOnlyEntities{store: v.ec.store}
}

func (v readOnlyView) Has(ref KeyRef) bool { return v.ec.scratch.Has(ref) }

func (v readOnlyView) lookup(name string) (any, bool) { return v.ec.scratch.lookup(name) }

// readOnlyEntities hides the write methods of the underlying store so a type
// assertion in CanApply cannot recover them.
type readOnlyEntities struct {
	store EntityReader
}

func (r readOnlyEntities) GetEntity(ctx context.Context, id string) (Entity, bool, error) {
	return r.store.GetEntity(ctx, id)
}
