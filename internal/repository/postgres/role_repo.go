package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

// roleRepository implements repository.RoleRepository.
type roleRepository struct {
	db *DB
}

// NewRoleRepository creates a new PostgreSQL role repository.
func NewRoleRepository(db *DB) repository.RoleRepository {
	return &roleRepository{db: db}
}

// Create creates a new role.
func (r *roleRepository) Create(ctx context.Context, role *domain.Role) error {
	var id int64
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO roles (name, created_at) VALUES ($1, $2) RETURNING id`,
		role.Name, role.CreatedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDomainError(domain.ErrRoleAlreadyExists, "role name taken", role.Name)
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return role.AssignID(id)
}

// GetByName retrieves a role by name.
func (r *roleRepository) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, name, created_at FROM roles WHERE name = $1`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get role by name: %w", err)
	}
	role, err := pgx.CollectExactlyOneRow(rows, scanRole)
	if err != nil {
		if isNoRows(err) {
			return nil, domain.NewDomainError(domain.ErrRoleNotFound, "no such role", name)
		}
		return nil, fmt.Errorf("failed to get role by name: %w", err)
	}
	return role, nil
}

// List returns all roles ordered by name.
func (r *roleRepository) List(ctx context.Context) ([]*domain.Role, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT id, name, created_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	roles, err := pgx.CollectRows(rows, scanRole)
	if err != nil {
		return nil, fmt.Errorf("failed to scan roles: %w", err)
	}
	return roles, nil
}

// Delete deletes a role. User links are removed by cascade.
func (r *roleRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrRoleNotFound
	}
	return nil
}

func scanRole(row pgx.CollectableRow) (*domain.Role, error) {
	var (
		id        int64
		name      string
		createdAt time.Time
	)
	if err := row.Scan(&id, &name, &createdAt); err != nil {
		return nil, err
	}
	role := domain.NewRole(name)
	role.CreatedAt = createdAt.UTC()
	if err := role.AssignID(id); err != nil {
		return nil, err
	}
	return role, nil
}
