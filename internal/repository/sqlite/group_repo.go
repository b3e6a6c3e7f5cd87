package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"

	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

// groupRepository implements repository.GroupRepository for SQLite.
type groupRepository struct {
	db *DB
}

// NewGroupRepository creates a new SQLite group repository.
func NewGroupRepository(db *DB) repository.GroupRepository {
	return &groupRepository{db: db}
}

// groupGraph is the full group hierarchy keyed by ID.
type groupGraph map[int64]*domain.Group

// loadGroupGraph loads every group and wires parent links.
func loadGroupGraph(ctx context.Context, q querier) (groupGraph, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, created_at FROM identity_groups`)
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}
	defer rows.Close()

	graph := make(groupGraph)
	for rows.Next() {
		var (
			id        int64
			name      string
			createdAt string
		)
		if err := rows.Scan(&id, &name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		g := domain.NewGroup(name)
		if g.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan group %d: %w", id, err)
		}
		if err := g.AssignID(id); err != nil {
			return nil, err
		}
		graph[id] = g
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	edges, err := q.QueryContext(ctx, `SELECT group_id, parent_id FROM group_parents ORDER BY group_id, parent_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load group parents: %w", err)
	}
	defer edges.Close()

	for edges.Next() {
		var groupID, parentID int64
		if err := edges.Scan(&groupID, &parentID); err != nil {
			return nil, fmt.Errorf("failed to scan group parent: %w", err)
		}
		child, parent := graph[groupID], graph[parentID]
		if child != nil && parent != nil {
			child.AddParent(parent)
		}
	}
	return graph, edges.Err()
}

// sorted returns the groups ordered by name.
func (g groupGraph) sorted() []*domain.Group {
	groups := make([]*domain.Group, 0, len(g))
	for _, group := range g {
		groups = append(groups, group)
	}
	slices.SortFunc(groups, func(a, b *domain.Group) int { return strings.Compare(a.Name, b.Name) })
	return groups
}

// Create creates a new group with its parent links.
func (r *groupRepository) Create(ctx context.Context, group *domain.Group) error {
	var id int64
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`INSERT INTO identity_groups (name, created_at) VALUES (?, ?)`,
			group.Name, formatTime(group.CreatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.NewDomainError(domain.ErrGroupAlreadyExists, "group name taken", group.Name)
			}
			return fmt.Errorf("failed to create group: %w", err)
		}
		if id, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert ID: %w", err)
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
	graph, err := loadGroupGraph(ctx, r.db.db)
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
	graph, err := loadGroupGraph(ctx, r.db.db)
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

// List returns all groups.
func (r *groupRepository) List(ctx context.Context) ([]*domain.Group, error) {
	graph, err := loadGroupGraph(ctx, r.db.db)
	if err != nil {
		return nil, err
	}
	return graph.sorted(), nil
}

// UpdateParents replaces the stored parent links of group.
func (r *groupRepository) UpdateParents(ctx context.Context, group *domain.Group) error {
	id, ok := group.ID.Value()
	if !ok {
		return fmt.Errorf("%w: group %s", repository.ErrUnsavedReference, group.Name)
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM group_parents WHERE group_id = ?`, id); err != nil {
			return fmt.Errorf("failed to clear group parents: %w", err)
		}
		return insertParents(ctx, tx, id, group.Parents())
	})
}

// Delete deletes a group. Memberships and parent links are removed by cascade.
func (r *groupRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.db.ExecContext(ctx, `DELETE FROM identity_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrGroupNotFound
	}
	return nil
}

func insertParents(ctx context.Context, tx *sql.Tx, groupID int64, parents []*domain.Group) error {
	for _, p := range parents {
		parentID, ok := p.ID.Value()
		if !ok {
			return fmt.Errorf("%w: parent group %s", repository.ErrUnsavedReference, p.Name)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_parents (group_id, parent_id) VALUES (?, ?)`,
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
