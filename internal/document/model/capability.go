package model

import "fmt"

// Capability is an access level on a document. Levels are ordered, so holding
// a level implies every level below it.
type Capability int

const (
	CapNone Capability = iota
	CapRead
	CapComment
	CapEdit
)

func (c Capability) String() string {
	switch c {
	case CapRead:
		return "read"
	case CapComment:
		return "comment"
	case CapEdit:
		return "edit"
	default:
		return "none"
	}
}

// ParseCapability accepts the capability names and the older role names
// (reader, reviewer, writer) that invites used to carry.
func ParseCapability(s string) (Capability, error) {
	switch s {
	case "", "none":
		return CapNone, nil
	case "read", "reader":
		return CapRead, nil
	case "comment", "reviewer":
		return CapComment, nil
	case "edit", "writer":
		return CapEdit, nil
	}
	return CapNone, fmt.Errorf("unknown capability %q", s)
}

func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Capability) UnmarshalText(b []byte) error {
	parsed, err := ParseCapability(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
