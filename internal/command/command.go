// Package command implements chat commands: messages beginning with "/"
// that do something special. A command may take an argument, which is
// any text following the command name and a space character. For
// example, "/roll 1d6" has the argument "1d6".
package command

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/auranym/dicechat/internal/message"
)

// Context is the view of the room a command runs against.
type Context interface {
	// HostUsername returns the room host's username.
	HostUsername() string
	// Usernames returns the usernames of currently joined clients.
	Usernames() []string
}

// Command describes a single named chat command.
type Command struct {
	// Name of the command, used immediately after "/".
	Name string
	// Description shown by the help command.
	Description string
	// InvalidMessage is shown to the sender when Validator rejects.
	InvalidMessage string
	// Validator reports whether the invocation is valid. A nil
	// Validator means the command is always valid.
	Validator func(arg, sender string, room Context) bool
	// Targeter returns the usernames the output should be sent to.
	// A nil Targeter means everyone in the room.
	Targeter func(arg, sender string, room Context) []string
	// Applier produces the command's output message.
	Applier func(arg, sender string, room Context) message.Message
}

var (
	namePattern = regexp.MustCompile(`^/([A-Za-z]+)`)
	argPattern  = regexp.MustCompile(`^/[A-Za-z]+ ?(.*)`)
)

// ParseName extracts the command name from text, case-folded to lower
// case. The second return is false when text is not a command
// invocation at all.
func ParseName(text string) (string, bool) {
	m := namePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.ToLower(m[1]), true
}

// ParseArg extracts the command argument: everything after the command
// name and a single space. Empty string when there is no argument.
func ParseArg(text string) string {
	m := argPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

// Registry is a fixed mapping from command name to descriptor.
type Registry struct {
	commands map[string]*Command
	order    []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]*Command)}
}

// Register adds a command. Names must be unique within the registry.
func (r *Registry) Register(c *Command) error {
	if _, exists := r.commands[c.Name]; exists {
		return fmt.Errorf("command %q already registered", c.Name)
	}
	r.commands[c.Name] = c
	r.order = append(r.order, c.Name)
	return nil
}

// Get looks up a command by name.
func (r *Registry) Get(name string) (*Command, bool) {
	c, ok := r.commands[name]
	return c, ok
}

// Names returns command names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Outcome is the result of dispatching a chat text.
type Outcome struct {
	// IsCommand is false when the text is a plain chat line; the
	// remaining fields are then meaningless.
	IsCommand bool
	// Reject is true for an unknown command or invalid usage. Msg then
	// holds the notice to show to the sender only.
	Reject bool
	// Msg is the output to deliver.
	Msg message.Message
	// Targets is the username allow-list for delivery. Nil means
	// everyone in the room.
	Targets []string
}

// invalidCommandNotice is sent to the sender when the command name does
// not exist.
const invalidCommandNotice = "Invalid command. Type /help for a list of commands."

// Dispatch interprets a chat text from sender. Plain text passes
// through untouched; command misuse degrades to a sender-only notice
// and never interrupts the room.
func Dispatch(reg *Registry, room Context, sender, text string) Outcome {
	name, ok := ParseName(text)
	if !ok {
		return Outcome{}
	}

	cmd, found := reg.Get(name)
	if !found {
		return Outcome{
			IsCommand: true,
			Reject:    true,
			Msg:       message.System(invalidCommandNotice),
		}
	}

	arg := ParseArg(text)
	if cmd.Validator != nil && !cmd.Validator(arg, sender, room) {
		return Outcome{
			IsCommand: true,
			Reject:    true,
			Msg:       message.System(cmd.InvalidMessage),
		}
	}

	var targets []string
	if cmd.Targeter != nil {
		targets = cmd.Targeter(arg, sender, room)
	}
	return Outcome{
		IsCommand: true,
		Msg:       cmd.Applier(arg, sender, room),
		Targets:   targets,
	}
}
