package bridge

import (
	"encoding/json"
	"fmt"
)

// Command names understood by the device layer. Names follow the ISY
// driver vocabulary the original node server exposed.
const (
	CmdQuery       = "QUERY"
	CmdSetMode     = "CLIMD"
	CmdSetHeat     = "CLISPH"
	CmdSetCool     = "CLISPC"
	CmdSetFan      = "CLIFS"
	CmdSetFanTimer = "SET_TIMER"
	CmdIncrement   = "BRT"
	CmdDecrement   = "DIM"
	CmdSetAway     = "SET_AWAY"
	CmdSetStream   = "SET_STREAM"
	CmdDiscover    = "DISCOVER"
)

// Command is one user-issued request for a node.
type Command struct {
	// Cmd is the command name, e.g. CLISPH.
	Cmd string `json:"cmd"`

	// Value is the numeric argument for commands that take one.
	Value *float64 `json:"value,omitempty"`
}

// Num returns the command value.
//
// Returns:
//   - float64: The value
//   - error: ErrMissingValue when the command carried none
func (c Command) Num() (float64, error) {
	if c.Value == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingValue, c.Cmd)
	}
	return *c.Value, nil
}

// ParseCommand decodes a bus command payload.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("bridge: decode command: %w", err)
	}
	if cmd.Cmd == "" {
		return Command{}, fmt.Errorf("%w: empty command name", ErrUnknownCommand)
	}
	return cmd, nil
}
