package models

import (
	"errors"
	"fmt"
)

// ErrDataAccessFailure is returned when an entity's identity is read before it
// was persisted, or assigned a second time.
var ErrDataAccessFailure = errors.New("data access failure")

// ErrNotFound is returned by lookups that match no stored row.
var ErrNotFound = errors.New("not found")

// Identifiable is implemented by every entity the store persists.
type Identifiable interface {
	// GetID returns the assigned id or fails if the entity was never persisted.
	GetID() (int64, error)
	// SetID assigns the id once. Any further call fails and keeps the old id.
	SetID(id int64) error
}

// ID is the identity of a persisted entity. The zero value is Unassigned.
type ID struct {
	value    int64
	assigned bool
}

// Unassigned is the identity of an entity that has not been stored yet.
var Unassigned = ID{}

// Assigned returns an identity holding id.
func Assigned(id int64) ID {
	return ID{value: id, assigned: true}
}

// IsAssigned reports whether the id was set.
func (i ID) IsAssigned() bool {
	return i.assigned
}

// Value returns the id and whether it is assigned.
func (i ID) Value() (int64, bool) {
	return i.value, i.assigned
}

func (i ID) String() string {
	if !i.assigned {
		return "unassigned"
	}
	return fmt.Sprintf("%d", i.value)
}

// get and set hold the state machine shared by all entities; kind names the
// entity in error messages.
func (i ID) get(kind string) (int64, error) {
	if !i.assigned {
		return 0, fmt.Errorf("%w: tried to get id of temporary %s", ErrDataAccessFailure, kind)
	}
	return i.value, nil
}

func (i *ID) set(kind string, id int64) error {
	if i.assigned {
		return fmt.Errorf("%w: tried to change valid %s id %d", ErrDataAccessFailure, kind, i.value)
	}
	*i = Assigned(id)
	return nil
}
