package mailbox

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAddress is returned when an address string cannot be parsed.
var ErrInvalidAddress = errors.New("mailbox: invalid address")

// Address identifies one inbox: "role:runId" for an actor's primary channel or
// "role:runId:channel" for a per-capability channel.
type Address struct {
	Role    string
	RunID   string
	Channel string
}

// NewAddress returns the primary address for an actor instance.
func NewAddress(role, runID string) Address {
	return Address{Role: role, RunID: runID}
}

// ParseAddress parses "role:runId[:channel]".
func ParseAddress(value string) (Address, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, value)
	}
	addr := Address{Role: strings.TrimSpace(parts[0]), RunID: strings.TrimSpace(parts[1])}
	if len(parts) == 3 {
		addr.Channel = strings.TrimSpace(parts[2])
		if addr.Channel == "" {
			return Address{}, fmt.Errorf("%w: empty channel in %q", ErrInvalidAddress, value)
		}
	}
	if err := addr.Validate(); err != nil {
		return Address{}, err
	}
	return addr, nil
}

// Validate checks that role and run ID are present and free of separators.
func (a Address) Validate() error {
	if a.Role == "" || a.RunID == "" {
		return fmt.Errorf("%w: role and run id are required", ErrInvalidAddress)
	}
	for _, part := range []string{a.Role, a.RunID, a.Channel} {
		if strings.Contains(part, ":") {
			return fmt.Errorf("%w: %q contains ':'", ErrInvalidAddress, part)
		}
	}
	return nil
}

// With returns the address of a sub-channel of the same actor.
func (a Address) With(channel string) Address {
	return Address{Role: a.Role, RunID: a.RunID, Channel: channel}
}

// Base strips the channel.
func (a Address) Base() Address {
	return Address{Role: a.Role, RunID: a.RunID}
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a.Role == "" && a.RunID == ""
}

func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	if a.Channel == "" {
		return a.Role + ":" + a.RunID
	}
	return a.Role + ":" + a.RunID + ":" + a.Channel
}
