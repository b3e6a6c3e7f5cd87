package postgres

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

// groupRepository implements repository.GroupRepository.
type groupRepository struct {
	db *DB
}

// NewGroupRepository creates a new PostgreSQL group repository.
func NewGroupRepository(db *DB) repository.GroupRepository {
	return &groupRepository{db: db}
}

// groupGraph is the full group hierarchy keyed by ID.
type groupGraph map[int64]*domain.Group

// loadGroupGraph loads every group and wires parent links.
func loadGroupGraph(ctx context.Context, q Querier) (groupGraph, error) {
	rows, err := q.Query(ctx, `SELECT id, name, created_at FROM identity_groups`)
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}
	groups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.Group, error) {
		var (
			id        int64
			name      string
			createdAt time.Time
		)
		if err := row.Scan(&id, &name, &createdAt); err != nil {
			return nil, err
		}
		g := domain.NewGroup(name)
		g.CreatedAt = createdAt.UTC()
		return g, g.AssignID(id)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan groups: %w", err)
	}

	graph := make(groupGraph, len(groups))
	for _, g := range groups {
		graph[g.ID.Int64()] = g
	}

	edges, err := q.Query(ctx, `SELECT group_id, parent_id FROM group_parents ORDER BY group_id, parent_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load group parents: %w", err)
	}
	var groupID, parentID int64
	_, err = pgx.ForEachRow(edges, []any{&groupID, &parentID}, func() error {
		child, parent := graph[groupID], graph[parentID]
		if child != nil && parent != nil {
			child.AddParent(parent)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan group parents: %w", err)
	}
	return graph, nil
}

// Create creates a new group with its parent links.
func (r *groupRepository) Create(ctx context.Context, group *domain.Group) error {
	var id int64
	err := r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO identity_groups (name, created_at) VALUES ($1, $2) RETURNING id`,
			group.Name, group.CreatedAt,
		).Scan(&id)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.NewDomainError(domain.ErrGroupAlreadyExists, "group name taken", group.Name)
			}
			return fmt.Errorf("failed to create group: %w", err)
		}
		return insertParents(ctx, tx, id, group.Parents())
	})
	if err != nil {
		return err
	}
	return group.AssignID(id)
}

// GetByID retrieves a group by ID.
func (r *groupRepository) GetByID(ctx context.Context, id int64) (*domain.Group, error) {
	graph, err := loadGroupGraph(ctx, r.db.Pool)
	if err != nil {
		return nil, err
	}
	if g, ok := graph[id]; ok {
		return g, nil
	}
	return nil, domain.NewDomainError(domain.ErrGroupNotFound, "no such group", fmt.Sprint(id))
}

// GetByName retrieves a group by name.
func (r *groupRepository) GetByName(ctx context.Context, name string) (*domain.Group, error) {
	graph, err := loadGroupGraph(ctx, r.db.Pool)
	if err != nil {
		return nil, err
	}
	for _, g := range graph {
		if g.Name == name {
			return g, nil
		}
	}
	return nil, domain.NewDomainError(domain.ErrGroupNotFound, "no such group", name)
}

// List returns all groups ordered by name.
func (r *groupRepository) List(ctx context.Context) ([]*domain.Group, error) {
	graph, err := loadGroupGraph(ctx, r.db.Pool)
	if err != nil {
		return nil, err
	}
	groups := make([]*domain.Group, 0, len(graph))
	for _, g := range graph {
		groups = append(groups, g)
	}
	slices.SortFunc(groups, func(a, b *domain.Group) int { return strings.Compare(a.Name, b.Name) })
	return groups, nil
}

// UpdateParents replaces the stored parent links of group.
func (r *groupRepository) UpdateParents(ctx context.Context, group *domain.Group) error {
	id, ok := group.ID.Value()
	if !ok {
		return fmt.Errorf("%w: group %s", repository.ErrUnsavedReference, group.Name)
	}
	return r.db.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM group_parents WHERE group_id = $1`, id); err != nil {
			return fmt.Errorf("failed to clear group parents: %w", err)
		}
		return insertParents(ctx, tx, id, group.Parents())
	})
}

// Delete deletes a group. Memberships and parent links are removed by cascade.
func (r *groupRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM identity_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

func insertParents(ctx context.Context, tx pgx.Tx, groupID int64, parents []*domain.Group) error {
	for _, p := range parents {
		parentID, ok := p.ID.Value()
		if !ok {
			return fmt.Errorf("%w: parent group %s", repository.ErrUnsavedReference, p.Name)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO group_parents (group_id, parent_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			groupID, parentID,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return domain.NewDomainError(domain.ErrGroupNotFound, "parent group does not exist", p.Name)
			}
			return fmt.Errorf("failed to link parent group: %w", err)
		}
	}
	return nil
}
