package frame

import (
	"fmt"
	"strings"

	"github.com/danmuck/cileserver/internal/protocol"
)

// Command is the request command byte. Values are fixed on the wire.
type Command uint8

const (
	CmdList   Command = 1
	CmdGet    Command = 2
	CmdPut    Command = 3
	CmdDelete Command = 4
	CmdMkdir  Command = 5
)

// Status is the response status byte. Values are fixed on the wire.
type Status uint8

const (
	StatusOK         Status = 0
	StatusError      Status = 1
	StatusBadRequest Status = 2
	StatusTooLarge   Status = 3
)

var commandNames = map[Command]string{
	CmdList:   "list",
	CmdGet:    "get",
	CmdPut:    "put",
	CmdDelete: "delete",
	CmdMkdir:  "mkdir",
}

var statusNames = map[Status]string{
	StatusOK:         "ok",
	StatusError:      "error",
	StatusBadRequest: "bad_request",
	StatusTooLarge:   "too_large",
}

func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", uint8(c))
}

// ParseCommand maps a CLI verb to its command.
func ParseCommand(name string) (Command, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for cmd, n := range commandNames {
		if n == key {
			return cmd, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", protocol.ErrUnknownCommand, name)
}

func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}
