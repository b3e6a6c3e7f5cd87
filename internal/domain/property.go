package domain

import "strings"

// Property is a named string value attached to a user.
// A property is identified by its owner and its definition name; names are
// compared case-insensitively.
type Property struct {
	user  *User
	name  string
	value string
}

// User returns the owning user.
func (p *Property) User() *User {
	return p.user
}

// Name returns the property definition name.
func (p *Property) Name() string {
	return p.name
}

// Value returns the property value.
func (p *Property) Value() string {
	return p.value
}

// PropertyValue is a detached copy of a user property.
type PropertyValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PropertyKey returns the case-insensitive lookup key of a property name.
func PropertyKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
