package config

import (
	"errors"
	"strconv"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ErrEmptyCommand is returned when a command string has no words.
var ErrEmptyCommand = errors.New("empty command")

// Command is a parsed command line: a program and its arguments, which
// may contain placeholders.
type Command struct {
	Name string
	Args []string
}

// CommandVars holds values for placeholder expansion.
type CommandVars struct {
	Index    int
	Resource string
}

// ParseCommand splits a shell-quoted command string.
func ParseCommand(s string) (Command, error) {
	words, err := shellquote.Split(s)
	if err != nil {
		return Command{}, err
	}
	if len(words) == 0 {
		return Command{}, ErrEmptyCommand
	}
	return Command{Name: words[0], Args: words[1:]}, nil
}

// Expand substitutes placeholders in every argument.
// Supported placeholders: {index}, {instance}, {resource}.
func (c Command) Expand(vars CommandVars) Command {
	// Single pass, so a resource containing "{index}" stays literal.
	r := strings.NewReplacer(
		"{index}", strconv.Itoa(vars.Index),
		"{instance}", InstanceName(vars.Index),
		"{resource}", vars.Resource,
	)
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = r.Replace(a)
	}
	return Command{Name: c.Name, Args: args}
}

// InstanceName returns the relay instance name for a zero-based index:
// a, b, ..., z, aa, ab, ...
func InstanceName(index int) string {
	if index < 0 {
		return ""
	}
	var b []byte
	for n := index + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('a' + (n-1)%26)}, b...)
	}
	return string(b)
}
