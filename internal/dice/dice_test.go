package dice

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		notation string
		want     Roll
	}{
		{"1d6", Roll{Count: 1, Sides: 6}},
		{"d20", Roll{Count: 1, Sides: 20}},
		{"3D8", Roll{Count: 3, Sides: 8}},
		{"2d10+5", Roll{Count: 2, Sides: 10, Modifier: 5}},
		{"4d6-2", Roll{Count: 4, Sides: 6, Modifier: -2}},
		{" 1d6 ", Roll{Count: 1, Sides: 6}},
	}
	for _, tc := range cases {
		got, err := Parse(tc.notation)
		assert.NoError(t, err, "Parse(%q)", tc.notation)
		assert.Equal(t, tc.want, got, "Parse(%q)", tc.notation)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, notation := range []string{"", "d", "6", "1d", "one d six", "1d6+", "1d6 extra", "1.5d6"} {
		_, err := Parse(notation)
		assert.ErrorIs(t, err, ErrInvalidNotation, "Parse(%q)", notation)
	}
}

func TestParseOutOfRange(t *testing.T) {
	for _, notation := range []string{"0d6", "101d6", "1d1", "1d1001"} {
		_, err := Parse(notation)
		assert.ErrorIs(t, err, ErrOutOfRange, "Parse(%q)", notation)
	}
}

func TestNotation(t *testing.T) {
	assert.Equal(t, "1d6", Roll{Count: 1, Sides: 6}.Notation())
	assert.Equal(t, "2d10+5", Roll{Count: 2, Sides: 10, Modifier: 5}.Notation())
	assert.Equal(t, "4d6-2", Roll{Count: 4, Sides: 6, Modifier: -2}.Notation())
}

func TestRollBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	r := Roll{Count: 10, Sides: 6, Modifier: 3}
	for i := 0; i < 100; i++ {
		res := r.Roll(rng)
		assert.Len(t, res.Rolls, 10)
		sum := res.Modifier
		for _, v := range res.Rolls {
			assert.GreaterOrEqual(t, v, 1)
			assert.LessOrEqual(t, v, 6)
			sum += v
		}
		assert.Equal(t, sum, res.Total)
	}
}

func TestRollDeterministic(t *testing.T) {
	r := Roll{Count: 5, Sides: 20}
	a := r.Roll(rand.New(rand.NewSource(42)))
	b := r.Roll(rand.New(rand.NewSource(42)))
	assert.Equal(t, a, b)
}
