package mta

import (
	"strings"

	"github.com/go-errors/errors"
)

var (
	// ErrEmptyCommand is returned when the client sends an empty line
	ErrEmptyCommand = errors.New("command empty")
	// ErrNon7bitCommand is returned when the command verb is not 7-bit ASCII
	ErrNon7bitCommand = errors.New("command contains non 7-bit ASCII")
)

// Command is one parsed request line
type Command struct {
	Name     string // upper cased verb
	Argument string // everything after the first space, empty if absent
	verb     string // verb as sent by the client
}

/*
isall7bit returns true if the argument is all 7-bit ASCII. This is what all SMTP
commands are supposed to be, and later things are going to screw up if
some joker hands us UTF-8 or any other equivalent.
*/
func isall7bit(b []byte) bool {
	for _, c := range b {
		if c > 127 {
			return false
		}
	}
	return true
}

/*
ParseCommand splits line into the command name and its argument at the first space.
Whether the command exists is up to the Chain the command is dispatched to.
*/
func ParseCommand(line string) (*Command, error) {
	line = strings.TrimRight(line, " \t")
	if line == "" {
		return nil, ErrEmptyCommand
	}

	parts := strings.SplitN(line, " ", 2)

	// Check that command doesn't contain UTF-8 and other smelly stuff
	if !isall7bit([]byte(parts[0])) {
		return nil, ErrNon7bitCommand
	}

	cmd := &Command{
		Name: strings.ToUpper(parts[0]),
		verb: parts[0],
	}
	if len(parts) > 1 {
		cmd.Argument = strings.TrimLeft(parts[1], " ")
	}
	return cmd, nil
}

/*
String returns back the original line with command as a string
*/
func (cmd *Command) String() string {
	if cmd.Argument != "" {
		return cmd.verb + " " + cmd.Argument
	}
	return cmd.verb
}

/*
Args returns array of strings with individual command arguments
*/
func (cmd *Command) Args() []string {
	if cmd.Argument == "" {
		return nil
	}
	return strings.Fields(cmd.Argument)
}
