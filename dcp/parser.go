package dcp

import (
	"fmt"
	"strings"
)

// CmdType discriminates the two command verbs.
type CmdType int

// The command verbs.
const (
	SetCmd CmdType = iota
	GetCmd
)

func (t CmdType) String() string {
	if t == SetCmd {
		return "set"
	}
	return "get"
}

// Command is a parsed "set ..." or "get ..." message.
type Command struct {
	Type       CmdType
	Identifier string
	Args       []string
}

// NumArgs returns the argument count.
func (c Command) NumArgs() int { return len(c.Args) }

// HasArgs reports whether any arguments were given.
func (c Command) HasArgs() bool { return len(c.Args) > 0 }

// ParseCommand decodes the data field of a command message.  The form is
// "set <identifier> <args...>" or "get <identifier> [<args...>]".
func ParseCommand(data string) (Command, error) {
	fields := strings.Fields(data)
	if len(fields) < 2 {
		return Command{}, fmt.Errorf("malformed command %q", data)
	}
	var t CmdType
	switch fields[0] {
	case "set":
		t = SetCmd
	case "get":
		t = GetCmd
	default:
		return Command{}, fmt.Errorf("unknown command verb %q", fields[0])
	}
	return Command{Type: t, Identifier: fields[1], Args: fields[2:]}, nil
}
