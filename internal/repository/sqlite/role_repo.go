package sqlite

import (
	"context"
	"fmt"

	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

// roleRepository implements repository.RoleRepository for SQLite.
type roleRepository struct {
	db *DB
}

// NewRoleRepository creates a new SQLite role repository.
func NewRoleRepository(db *DB) repository.RoleRepository {
	return &roleRepository{db: db}
}

// Create creates a new role.
func (r *roleRepository) Create(ctx context.Context, role *domain.Role) error {
	result, err := r.db.db.ExecContext(ctx,
		`INSERT INTO roles (name, created_at) VALUES (?, ?)`,
		role.Name, formatTime(role.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrRoleAlreadyExists, "role name taken", role.Name)
		}
		return fmt.Errorf("failed to create role: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return role.AssignID(id)
}

// GetByName retrieves a role by name.
func (r *roleRepository) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	var (
		id        int64
		roleName  string
		createdAt string
	)
	err := r.db.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM roles WHERE name = ?`, name,
	).Scan(&id, &roleName, &createdAt)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrRoleNotFound, "no such role", name)
		}
		return nil, fmt.Errorf("failed to get role by name: %w", err)
	}
	return newRole(id, roleName, createdAt)
}

// List returns all roles.
func (r *roleRepository) List(ctx context.Context) ([]*domain.Role, error) {
	rows, err := r.db.db.QueryContext(ctx, `SELECT id, name, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []*domain.Role
	for rows.Next() {
		var (
			id        int64
			name      string
			createdAt string
		)
		if err := rows.Scan(&id, &name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		role, err := newRole(id, name, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Delete deletes a role. User links are removed by cascade.
func (r *roleRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM roles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrRoleNotFound
	}
	return nil
}

func newRole(id int64, name, createdAt string) (*domain.Role, error) {
	role := domain.NewRole(name)
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	role.CreatedAt = created
	if err := role.AssignID(id); err != nil {
		return nil, err
	}
	return role, nil
}
