// Package roomcode generates and validates the short human-typed codes
// that identify rooms, and derives the transport identifier a host
// listens on from a code.
package roomcode

import (
	"math/rand"
	"regexp"
	"sync"
	"time"
)

// Length is the number of letters in a room code.
const Length = 6

// namespace is appended to a code to form the transport identifier, so
// room listeners cannot collide with other identifiers on the same
// transport.
const namespace = "dicechat-room"

// The generation alphabet omits "I" to avoid confusion with "1" when a
// code is read aloud or typed. Validation still accepts it.
const letters = "ABCDEFGHJKLMNOPQRSTUVWXYZ"

var codePattern = regexp.MustCompile(`^[A-Z]{6}$`)

var (
	rngMu sync.Mutex
	rng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// Generate returns a random room code: 6 letters drawn uniformly from
// the generation alphabet.
func Generate() string {
	rngMu.Lock()
	defer rngMu.Unlock()

	code := make([]byte, Length)
	for i := range code {
		code[i] = letters[rng.Intn(len(letters))]
	}
	return string(code)
}

// Validate reports whether code is exactly 6 uppercase ASCII letters.
// This is a superset of what Generate produces: a code containing "I"
// is valid, just never auto-generated.
func Validate(code string) bool {
	return codePattern.MatchString(code)
}

// TransportID derives the transport-level listening identifier for a
// room code. The mapping is deterministic and injective, so a client
// can find the host purely from the code the user typed.
func TransportID(code string) string {
	return code + "-" + namespace
}
