package roomcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateShape(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code := Generate()
		assert.True(t, Validate(code), "generated code %q must validate", code)
		assert.NotContains(t, code, "I", "generation alphabet excludes I")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		code  string
		valid bool
	}{
		{"ABCDEF", true},
		{"IIIIII", true}, // valid even though never generated
		{"abcdef", false},
		{"ABCDE", false},
		{"ABCDEFG", false},
		{"ABC DE", false},
		{"ABC1EF", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.valid, Validate(tc.code), "Validate(%q)", tc.code)
	}
}

func TestTransportID(t *testing.T) {
	id := TransportID("QWERTY")
	assert.True(t, strings.HasPrefix(id, "QWERTY"))
	assert.NotEqual(t, TransportID("AAAAAA"), TransportID("AAAAAB"))
}
