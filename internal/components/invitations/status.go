package invitations

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Status is the RSVP state of an invitation. The zero value is StatusPending.
type Status uint8

const (
	StatusPending Status = iota
	StatusAccepted
	StatusDeclined
	StatusMaybe
)

var statusNames = [...]string{
	StatusPending:  "PENDING",
	StatusAccepted: "ACCEPTED",
	StatusDeclined: "DECLINED",
	StatusMaybe:    "MAYBE",
}

// ParseStatus parses a status name. Matching is case-insensitive.
func ParseStatus(s string) (Status, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range statusNames {
		if n == name {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("invalid rsvp status %q", s)
}

// Valid reports whether s is one of the four known states.
func (s Status) Valid() bool {
	return int(s) < len(statusNames)
}

func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
	return statusNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid rsvp status %d", uint8(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer; the status is stored by name.
func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid rsvp status %d", uint8(s))
	}
	return statusNames[s], nil
}

// Scan implements sql.Scanner.
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return s.UnmarshalText([]byte(v))
	case []byte:
		return s.UnmarshalText(v)
	case nil:
		return fmt.Errorf("rsvp status is null")
	default:
		return fmt.Errorf("cannot scan %T into rsvp status", src)
	}
}

// Response is a guest's RSVP decision.
type Response uint8

const (
	ResponseAccept Response = iota + 1
	ResponseDecline
	ResponseMaybe
)

func (r Response) String() string {
	switch r {
	case ResponseAccept:
		return "accept"
	case ResponseDecline:
		return "decline"
	case ResponseMaybe:
		return "maybe"
	default:
		return fmt.Sprintf("Response(%d)", uint8(r))
	}
}

// Respond is the RSVP transition function. Any state may move to any
// decided state; there is no terminal state.
func (s Status) Respond(r Response) (Status, error) {
	if !s.Valid() {
		return s, fmt.Errorf("%w: unknown status %s", ErrInvalidState, s)
	}
	switch r {
	case ResponseAccept:
		return StatusAccepted, nil
	case ResponseDecline:
		return StatusDeclined, nil
	case ResponseMaybe:
		return StatusMaybe, nil
	default:
		return s, fmt.Errorf("unknown rsvp response %s", r)
	}
}

// CanCheckIn reports whether a guest in state s may be checked in.
func (s Status) CanCheckIn() bool {
	return s == StatusAccepted
}
