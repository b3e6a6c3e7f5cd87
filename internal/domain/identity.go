package domain

import "strconv"

// Identity is the persistent identifier of an entity.
// It starts out unassigned and can be assigned exactly once, normally by the
// storage layer when the entity is first saved. Equality of users switches
// from value comparison to identifier comparison once it is assigned.
type Identity struct {
	id       int64
	assigned bool
}

// Unassigned returns an Identity that has not been assigned yet.
func Unassigned() Identity {
	return Identity{}
}

// AssignedIdentity returns an Identity holding id.
// Non-positive values are not valid identifiers and yield an unassigned Identity.
func AssignedIdentity(id int64) Identity {
	if id <= 0 {
		return Identity{}
	}
	return Identity{id: id, assigned: true}
}

// IsAssigned reports whether an identifier has been assigned.
func (i Identity) IsAssigned() bool {
	return i.assigned
}

// Value returns the identifier and whether it has been assigned.
func (i Identity) Value() (int64, bool) {
	return i.id, i.assigned
}

// Int64 returns the identifier, or 0 when unassigned.
func (i Identity) Int64() int64 {
	return i.id
}

// String implements fmt.Stringer.
func (i Identity) String() string {
	if !i.assigned {
		return "unassigned"
	}
	return strconv.FormatInt(i.id, 10)
}

// assign sets the identifier on an unassigned Identity. Re-assigning the same
// value is a no-op; assigning a different value is an invalid state.
func (i *Identity) assign(id int64, resource string) error {
	if id <= 0 {
		return NewDomainError(ErrInvalidState, "identifier must be positive", resource)
	}
	if i.assigned {
		if i.id == id {
			return nil
		}
		return NewDomainError(ErrInvalidState, "identifier already assigned", resource)
	}
	i.id = id
	i.assigned = true
	return nil
}

// MarshalJSON encodes an assigned Identity as a number and an unassigned one as null.
func (i Identity) MarshalJSON() ([]byte, error) {
	if !i.assigned {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(i.id, 10)), nil
}
