// Package repository defines data access interfaces for the Tradernet identity core.
// These interfaces abstract database operations, allowing for different implementations
// (PostgreSQL, SQLite, in-memory for testing) while keeping the service layer clean.
//
// Repositories load and save whole aggregates: a loaded user carries its
// roles, its groups with their full parent hierarchy, its password history
// and its properties.
package repository

import (
	"context"

	"github.com/prn-tf/tradernet-identity/internal/domain"
)

// =============================================================================
// User Repository
// =============================================================================

// UserRepository defines the interface for user aggregate data access.
type UserRepository interface {
	// Create inserts a new user with its credentials, properties and
	// relationship links, and assigns identifiers to the user and its
	// credential records. Linked roles and groups must already be saved.
	// Returns domain.ErrUserAlreadyExists if the username is taken.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user aggregate by ID.
	// Returns domain.ErrUserNotFound if no such user exists.
	GetByID(ctx context.Context, id int64) (*domain.User, error)

	// GetByUsername retrieves a user aggregate by username, case-insensitively.
	// Returns domain.ErrUserNotFound if no such user exists.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// Update persists the user's fields and reconciles its stored
	// credentials, properties, role links and group links with the aggregate.
	Update(ctx context.Context, user *domain.User) error

	// List returns users with pagination. Relationships are loaded.
	List(ctx context.Context, opts ListOptions) (*ListResult[domain.User], error)

	// ExistsByUsername checks if a user with the given username exists,
	// case-insensitively.
	ExistsByUsername(ctx context.Context, username string) (bool, error)
}

// =============================================================================
// Role Repository
// =============================================================================

// RoleRepository defines the interface for role reference data access.
type RoleRepository interface {
	// Create inserts a new role and assigns its identifier.
	// Returns domain.ErrRoleAlreadyExists if the name is taken.
	Create(ctx context.Context, role *domain.Role) error

	// GetByName retrieves a role by its exact name.
	// Returns domain.ErrRoleNotFound if no such role exists.
	GetByName(ctx context.Context, name string) (*domain.Role, error)

	// List returns all roles ordered by name.
	List(ctx context.Context) ([]*domain.Role, error)

	// Delete deletes a role and every user link to it.
	Delete(ctx context.Context, id int64) error
}

// =============================================================================
// Group Repository
// =============================================================================

// GroupRepository defines the interface for group data access.
// Loaded groups carry their parents, transitively.
type GroupRepository interface {
	// Create inserts a new group with its parent links and assigns its identifier.
	// Returns domain.ErrGroupAlreadyExists if the name is taken.
	Create(ctx context.Context, group *domain.Group) error

	// GetByID retrieves a group by ID.
	// Returns domain.ErrGroupNotFound if no such group exists.
	GetByID(ctx context.Context, id int64) (*domain.Group, error)

	// GetByName retrieves a group by name.
	// Returns domain.ErrGroupNotFound if no such group exists.
	GetByName(ctx context.Context, name string) (*domain.Group, error)

	// List returns all groups ordered by name.
	List(ctx context.Context) ([]*domain.Group, error)

	// UpdateParents replaces the stored parent links of group with its
	// current parents.
	UpdateParents(ctx context.Context, group *domain.Group) error

	// Delete deletes a group together with its membership and parent links.
	Delete(ctx context.Context, id int64) error
}

// =============================================================================
// Common Types
// =============================================================================

// ListOptions contains common options for list operations.
type ListOptions struct {
	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return.
	Limit int

	// Status filters by user status when non-nil.
	Status *domain.UserStatus
}

// Normalize applies the default and maximum page size.
func (o ListOptions) Normalize() ListOptions {
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	return o
}

// ListResult is a generic paginated list result.
type ListResult[T any] struct {
	// Items is the list of items.
	Items []*T

	// Total is the total number of items (without pagination).
	Total int64

	// Offset is the current offset.
	Offset int

	// Limit is the current limit.
	Limit int
}

// HashParser decodes a stored credential hash.
type HashParser func(encoded string) (domain.CredentialHash, error)
