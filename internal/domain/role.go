package domain

import (
	"slices"
	"time"
)

// Well-known role names created by the bootstrapper.
const (
	RoleSuperUser = "SUPER USER"
	RoleAdmin     = "ADMIN"
	RoleStandard  = "STANDARD"
)

// Role is a named permission that can be granted to users.
// Roles are reference data: they are created and deleted by administrative
// action, never by the user aggregate.
type Role struct {
	// ID is assigned by storage when the role is first saved.
	ID Identity `json:"id"`

	// Name is the unique role name.
	Name string `json:"name"`

	// CreatedAt is the timestamp when the role was created.
	CreatedAt time.Time `json:"created_at"`

	// users is the reciprocal of User.roles.
	users []*User
}

// NewRole creates a new, unsaved Role.
func NewRole(name string) *Role {
	return &Role{
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// AssignID sets the role identifier. See Identity.
func (r *Role) AssignID(id int64) error {
	return r.ID.assign(id, "role:"+r.Name)
}

// Key returns the identity key used for membership tests.
// Saved roles compare by identifier; unsaved roles by reference.
func (r *Role) Key() any {
	if id, ok := r.ID.Value(); ok {
		return roleKey{id: id}
	}
	return r
}

type roleKey struct{ id int64 }

// Users returns the users holding this role.
func (r *Role) Users() []*User {
	return slices.Clone(r.users)
}

func (r *Role) addUserReference(u *User) {
	r.users = addMember(r.users, u)
}

func (r *Role) removeUserReference(u *User) {
	r.users = removeMember(r.users, u)
}
