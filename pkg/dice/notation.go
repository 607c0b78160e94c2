package dice

import (
	"fmt"
	"strconv"
	"strings"
)

// Expression is a parsed dice notation such as "2d6+1d4-1".
type Expression struct {
	Dice     []Spec
	Modifier int
}

// ParseNotation parses dice notation: terms of the form NdS, dS or a plain
// integer, joined by + or -. Dice terms cannot be subtracted.
func ParseNotation(s string) (Expression, error) {
	src := strings.ToLower(strings.ReplaceAll(s, " ", ""))
	if src == "" {
		return Expression{}, fmt.Errorf("dice notation: empty")
	}
	var expr Expression
	sign := 1
	start := 0
	for i := 0; i <= len(src); i++ {
		if i < len(src) && src[i] != '+' && src[i] != '-' {
			continue
		}
		term := src[start:i]
		if term == "" {
			return Expression{}, fmt.Errorf("dice notation %q: empty term", s)
		}
		if err := expr.addTerm(term, sign); err != nil {
			return Expression{}, fmt.Errorf("dice notation %q: %w", s, err)
		}
		if i < len(src) {
			sign = 1
			if src[i] == '-' {
				sign = -1
			}
		}
		start = i + 1
	}
	if len(expr.Dice) == 0 {
		return Expression{}, fmt.Errorf("dice notation %q: %w", s, ErrMissingDice)
	}
	return expr, nil
}

func (e *Expression) addTerm(term string, sign int) error {
	idx := strings.IndexByte(term, 'd')
	if idx < 0 {
		n, err := strconv.Atoi(term)
		if err != nil {
			return fmt.Errorf("invalid modifier %q", term)
		}
		e.Modifier += sign * n
		return nil
	}
	if sign < 0 {
		return fmt.Errorf("cannot subtract dice term %q", term)
	}
	count := 1
	if idx > 0 {
		n, err := strconv.Atoi(term[:idx])
		if err != nil {
			return fmt.Errorf("invalid dice count in %q", term)
		}
		count = n
	}
	sides, err := strconv.Atoi(term[idx+1:])
	if err != nil {
		return fmt.Errorf("invalid dice sides in %q", term)
	}
	spec := Spec{Sides: sides, Count: count}
	if err := validate([]Spec{spec}); err != nil {
		return err
	}
	e.Dice = append(e.Dice, spec)
	return nil
}

// MustParse parses notation known at compile time.
func MustParse(s string) Expression {
	expr, err := ParseNotation(s)
	if err != nil {
		panic(err)
	}
	return expr
}

// Roll rolls the dice and applies the modifier.
func (e Expression) Roll(r Roller) (int, Result, error) {
	if r == nil {
		return 0, Result{}, ErrNoRoller
	}
	res, err := r.Roll(e.Dice...)
	if err != nil {
		return 0, Result{}, err
	}
	return res.Total + e.Modifier, res, nil
}

// Bounds returns the smallest and largest possible totals.
func (e Expression) Bounds() (lo, hi int) {
	for _, spec := range e.Dice {
		lo += spec.Count
		hi += spec.Count * spec.Sides
	}
	return lo + e.Modifier, hi + e.Modifier
}

func (e Expression) String() string {
	var b strings.Builder
	for i, spec := range e.Dice {
		if i > 0 {
			b.WriteByte('+')
		}
		b.WriteString(spec.String())
	}
	switch {
	case e.Modifier > 0:
		fmt.Fprintf(&b, "+%d", e.Modifier)
	case e.Modifier < 0:
		fmt.Fprintf(&b, "%d", e.Modifier)
	}
	return b.String()
}
