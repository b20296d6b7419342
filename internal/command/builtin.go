package command

import (
	"fmt"
	"math/rand"
	"regexp"
	"slices"
	"strings"

	"github.com/auranym/dicechat/internal/dice"
	"github.com/auranym/dicechat/internal/message"
)

// Default returns the built-in command set: help, me, roll, whisper.
// The rng feeds dice rolls; pass a seeded source in tests for
// deterministic results.
func Default(rng *rand.Rand) *Registry {
	reg := NewRegistry()
	for _, c := range []*Command{
		helpCommand(reg),
		meCommand(),
		rollCommand(rng),
		whisperCommand(),
	} {
		if err := reg.Register(c); err != nil {
			// The built-in set is static; a duplicate name is a
			// programming error.
			panic(err)
		}
	}
	return reg
}

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "Show a list of commands and their descriptions.",
		// Always valid.
		Targeter: func(arg, sender string, room Context) []string {
			return []string{sender}
		},
		Applier: func(arg, sender string, room Context) message.Message {
			var b strings.Builder
			b.WriteString("List of commands:")
			for _, name := range reg.Names() {
				c, _ := reg.Get(name)
				fmt.Fprintf(&b, "\n/%s: %s", c.Name, c.Description)
			}
			return message.System(b.String())
		},
	}
}

func meCommand() *Command {
	return &Command{
		Name:        "me",
		Description: "Announce something about yourself.",
		// Always valid. Targets everyone.
		Applier: func(arg, sender string, room Context) message.Message {
			return message.System(fmt.Sprintf("%s %s", sender, arg))
		},
	}
}

func rollCommand(rng *rand.Rand) *Command {
	return &Command{
		Name:           "roll",
		Description:    `Roll dice using dice notation. For example, "/roll 1d6".`,
		InvalidMessage: `Invalid use of /roll. Try something like "/roll 1d6".`,
		Validator: func(arg, sender string, room Context) bool {
			_, err := dice.Parse(arg)
			return err == nil
		},
		// Targets everyone.
		Applier: func(arg, sender string, room Context) message.Message {
			roll, err := dice.Parse(arg)
			if err != nil {
				// Unreachable: the validator already accepted arg.
				return message.System(err.Error())
			}
			result := roll.Roll(rng)
			return message.System(fmt.Sprintf(
				"%s rolled %s: %s = %d",
				sender, result.Notation, joinInts(result.Rolls), result.Total,
			))
		},
	}
}

var whisperPattern = regexp.MustCompile(`^(\S+) (.*)$`)

func whisperCommand() *Command {
	return &Command{
		Name:           "whisper",
		Description:    `Send a private message. Usage: "/whisper user message"`,
		InvalidMessage: `Incorrect usage of whisper. Usage: "/whisper user message"`,
		Validator: func(arg, sender string, room Context) bool {
			m := whisperPattern.FindStringSubmatch(arg)
			if m == nil {
				return false
			}
			// The recipient must be in the room and must not be the
			// sender whispering to themself.
			user := m[1]
			return user != sender &&
				(room.HostUsername() == user || slices.Contains(room.Usernames(), user))
		},
		Targeter: func(arg, sender string, room Context) []string {
			// The validator already guaranteed a match.
			m := whisperPattern.FindStringSubmatch(arg)
			return []string{sender, m[1]}
		},
		Applier: func(arg, sender string, room Context) message.Message {
			m := whisperPattern.FindStringSubmatch(arg)
			return message.Message{
				Username: fmt.Sprintf("(whisper) %s to %s", sender, m[1]),
				Content:  m[2],
			}
		},
	}
}

func joinInts(vals []int) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, " ")
}
