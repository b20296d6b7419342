package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeParse(t *testing.T) {
	for _, m := range []Message{
		New("alice", "hello"),
		System("bob has joined!"),
		{Content: "bare"},
	} {
		got, err := Parse(m.Encode())
		assert.NoError(t, err)
		assert.Equal(t, m, got)
	}
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("not json")
	assert.Error(t, err)
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "alice: hi", New("alice", "hi").Display())
	assert.Equal(t, "* bob has left.", System("bob has left.").Display())
	assert.Equal(t, "plain", Message{Content: "plain"}.Display())
}
