package domain

import (
	"slices"
	"time"
)

// Group is a collection of users. Groups form a hierarchy through parent
// links; a group may have any number of parents, which may themselves have
// parents. The hierarchy is administrator-editable and may contain cycles.
type Group struct {
	// ID is assigned by storage when the group is first saved.
	ID Identity `json:"id"`

	// Name is the unique, human-readable group name.
	Name string `json:"name"`

	// CreatedAt is the timestamp when the group was created.
	CreatedAt time.Time `json:"created_at"`

	// members is the reciprocal of User.groups.
	members []*User

	parents []*Group
}

// NewGroup creates a new, unsaved Group.
func NewGroup(name string) *Group {
	return &Group{
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// AssignID sets the group identifier. See Identity.
func (g *Group) AssignID(id int64) error {
	return g.ID.assign(id, "group:"+g.Name)
}

// Key returns the identity key used for membership tests.
// Saved groups compare by identifier; unsaved groups by reference.
func (g *Group) Key() any {
	if id, ok := g.ID.Value(); ok {
		return groupKey{id: id}
	}
	return g
}

type groupKey struct{ id int64 }

// Members returns the users that belong directly to this group.
func (g *Group) Members() []*User {
	return slices.Clone(g.members)
}

// Parents returns the direct parents of this group.
func (g *Group) Parents() []*Group {
	return slices.Clone(g.parents)
}

// AddParent adds parent as a direct parent of this group. Adding an existing
// parent, or the group itself, is a no-op.
func (g *Group) AddParent(parent *Group) {
	if parent == nil || parent.Key() == g.Key() {
		return
	}
	g.parents = addMember(g.parents, parent)
}

// RemoveParent removes parent from the direct parents of this group.
func (g *Group) RemoveParent(parent *Group) {
	if parent == nil {
		return
	}
	g.parents = removeMember(g.parents, parent)
}

// ReplaceParents makes parents the exact set of direct parents.
func (g *Group) ReplaceParents(parents []*Group) {
	SyncMembership(g.parents, parents, (*Group).Key, g.AddParent, g.RemoveParent)
}

// Ancestors returns every group reachable from g through parent links,
// excluding g itself.
func (g *Group) Ancestors() []*Group {
	return walkHierarchy(g.parents, map[any]struct{}{g.Key(): {}})
}

func (g *Group) addMemberReference(u *User) {
	g.members = addMember(g.members, u)
}

func (g *Group) removeMemberReference(u *User) {
	g.members = removeMember(g.members, u)
}
