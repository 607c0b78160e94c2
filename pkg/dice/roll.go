// Package dice provides the randomness primitive consumed by rules: a
// Roller returns every individual die result alongside the totals so rolls
// can be audited and replayed.
package dice

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"sync"
)

var (
	// ErrMissingDice is returned when a roll names no dice.
	ErrMissingDice = errors.New("at least one die is required")
	// ErrInvalidDiceSpec is returned when a spec has non-positive sides or count.
	ErrInvalidDiceSpec = errors.New("dice spec must have positive sides and count")
	// ErrNoRoller is returned by Unavailable.
	ErrNoRoller = errors.New("no dice roller configured")
	// ErrScriptExhausted is returned when a Scripted roller runs out of values.
	ErrScriptExhausted = errors.New("scripted dice exhausted")
)

// Spec describes Count dice with Sides faces.
type Spec struct {
	Sides int `json:"sides"`
	Count int `json:"count"`
}

// D is shorthand for Spec{Sides: sides, Count: count}.
func D(count, sides int) Spec { return Spec{Sides: sides, Count: count} }

func (s Spec) String() string { return fmt.Sprintf("%dd%d", s.Count, s.Sides) }

// Roll holds the results of one Spec.
type Roll struct {
	Sides   int   `json:"sides"`
	Results []int `json:"results"`
	Total   int   `json:"total"`
}

// Result holds every roll of a request. Rolls follow the order of the specs.
type Result struct {
	Rolls []Roll `json:"rolls"`
	Total int    `json:"total"`
}

// Roller rolls dice. Implementations must be safe for concurrent use.
type Roller interface {
	Roll(specs ...Spec) (Result, error)
}

func validate(specs []Spec) error {
	if len(specs) == 0 {
		return ErrMissingDice
	}
	for _, spec := range specs {
		if spec.Sides <= 0 || spec.Count <= 0 {
			return ErrInvalidDiceSpec
		}
	}
	return nil
}

func rollWith(specs []Spec, die func(sides int) (int, error)) (Result, error) {
	if err := validate(specs); err != nil {
		return Result{}, err
	}
	rolls := make([]Roll, 0, len(specs))
	total := 0
	for _, spec := range specs {
		results := make([]int, spec.Count)
		rollTotal := 0
		for i := 0; i < spec.Count; i++ {
			value, err := die(spec.Sides)
			if err != nil {
				return Result{}, err
			}
			results[i] = value
			rollTotal += value
		}
		rolls = append(rolls, Roll{Sides: spec.Sides, Results: results, Total: rollTotal})
		total += rollTotal
	}
	return Result{Rolls: rolls, Total: total}, nil
}

// RNGRoller rolls with a seeded pseudo-random source. The same seed and the
// same sequence of requests always produce the same results.
type RNGRoller struct {
	mu   sync.Mutex
	rng  *rand.Rand
	seed int64
}

// NewSeeded returns a deterministic roller.
func NewSeeded(seed int64) *RNGRoller {
	return &RNGRoller{rng: rand.New(rand.NewSource(seed)), seed: seed}
}

// NewRandom returns a roller seeded from crypto/rand.
func NewRandom() (*RNGRoller, error) {
	seed, err := NewSeed()
	if err != nil {
		return nil, err
	}
	return NewSeeded(seed), nil
}

// NewSeed generates a seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// Seed returns the seed the roller was created with.
func (r *RNGRoller) Seed() int64 { return r.seed }

func (r *RNGRoller) Roll(specs ...Spec) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rollWith(specs, func(sides int) (int, error) {
		return r.rng.Intn(sides) + 1, nil
	})
}

// Scripted returns predetermined die values in order. Tests use it to make
// rule behaviour exact.
type Scripted struct {
	mu     sync.Mutex
	values []int
	next   int
}

// NewScripted returns a roller yielding values one die at a time.
func NewScripted(values ...int) *Scripted {
	return &Scripted{values: append([]int(nil), values...)}
}

// Remaining returns how many scripted values are left.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values) - s.next
}

func (s *Scripted) Roll(specs ...Spec) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rollWith(specs, func(sides int) (int, error) {
		if s.next >= len(s.values) {
			return 0, ErrScriptExhausted
		}
		v := s.values[s.next]
		s.next++
		if v < 1 || v > sides {
			return 0, fmt.Errorf("scripted value %d out of range for d%d", v, sides)
		}
		return v, nil
	})
}

// Recorder wraps a Roller and keeps every successful roll.
type Recorder struct {
	mu    sync.Mutex
	inner Roller
	rolls []Result
}

// NewRecorder wraps inner.
func NewRecorder(inner Roller) *Recorder {
	if inner == nil {
		inner = Unavailable{}
	}
	return &Recorder{inner: inner}
}

func (r *Recorder) Roll(specs ...Spec) (Result, error) {
	res, err := r.inner.Roll(specs...)
	if err != nil {
		return res, err
	}
	r.mu.Lock()
	r.rolls = append(r.rolls, res)
	r.mu.Unlock()
	return res, nil
}

// Rolls returns the recorded rolls in order.
func (r *Recorder) Rolls() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.rolls...)
}

// Unavailable fails every roll with ErrNoRoller.
type Unavailable struct{}

func (Unavailable) Roll(...Spec) (Result, error) { return Result{}, ErrNoRoller }
