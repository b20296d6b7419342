// Package dice evaluates simple dice-notation expressions of the form
// "NdS+K", e.g. "1d6", "3d8-2", "d20".
package dice

import (
	"errors"
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidNotation indicates the expression does not match the
// supported dice grammar.
var ErrInvalidNotation = errors.New("invalid dice notation")

// ErrOutOfRange indicates a die count or side count outside the
// supported bounds.
var ErrOutOfRange = errors.New("dice values out of range")

const (
	maxCount = 100
	maxSides = 1000
)

var notationPattern = regexp.MustCompile(`^(\d*)[dD](\d+)([+-]\d+)?$`)

// Roll is a parsed dice expression.
type Roll struct {
	Count    int
	Sides    int
	Modifier int
}

// Result captures the evaluation of a Roll.
type Result struct {
	Notation string
	Rolls    []int
	Modifier int
	Total    int
}

// Parse validates notation and returns the parsed roll. The count
// defaults to 1 when omitted ("d20" means "1d20").
func Parse(notation string) (Roll, error) {
	m := notationPattern.FindStringSubmatch(strings.TrimSpace(notation))
	if m == nil {
		return Roll{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
	}

	count := 1
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Roll{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
		}
		count = n
	}

	sides, err := strconv.Atoi(m[2])
	if err != nil {
		return Roll{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
	}

	modifier := 0
	if m[3] != "" {
		modifier, err = strconv.Atoi(m[3])
		if err != nil {
			return Roll{}, fmt.Errorf("%w: %q", ErrInvalidNotation, notation)
		}
	}

	if count < 1 || count > maxCount || sides < 2 || sides > maxSides {
		return Roll{}, fmt.Errorf("%w: %q", ErrOutOfRange, notation)
	}

	return Roll{Count: count, Sides: sides, Modifier: modifier}, nil
}

// Notation returns the canonical text form of the roll.
func (r Roll) Notation() string {
	s := fmt.Sprintf("%dd%d", r.Count, r.Sides)
	if r.Modifier > 0 {
		s += fmt.Sprintf("+%d", r.Modifier)
	} else if r.Modifier < 0 {
		s += strconv.Itoa(r.Modifier)
	}
	return s
}

// Roll evaluates the expression with the provided source of randomness.
// Given the same rng state it always produces the same result.
func (r Roll) Roll(rng *rand.Rand) Result {
	rolls := make([]int, r.Count)
	total := r.Modifier
	for i := range rolls {
		v := rng.Intn(r.Sides) + 1
		rolls[i] = v
		total += v
	}
	return Result{
		Notation: r.Notation(),
		Rolls:    rolls,
		Modifier: r.Modifier,
		Total:    total,
	}
}
