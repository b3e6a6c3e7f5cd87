package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/lock"
	"github.com/prn-tf/tradernet-identity/internal/metrics"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

// GroupService manages groups and their parent hierarchy.
// Parent edits are serialized on a single hierarchy lock.
type GroupService struct {
	groups   repository.GroupRepository
	locker   lock.Locker
	lockOpts lock.Options
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewGroupService creates a new GroupService.
func NewGroupService(groups repository.GroupRepository, locker lock.Locker, lockOpts lock.Options, m *metrics.Metrics, logger zerolog.Logger) *GroupService {
	return &GroupService{
		groups:   groups,
		locker:   locker,
		lockOpts: lockOpts,
		metrics:  m,
		logger:   logger.With().Str("service", "group").Logger(),
	}
}

// CreateGroupInput contains the data needed to create a group.
type CreateGroupInput struct {
	Name    string   `validate:"entityname"`
	Parents []string `validate:"dive,entityname"`
}

// Create creates a new group under the named parents.
func (s *GroupService) Create(ctx context.Context, input CreateGroupInput) (*domain.Group, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	group := domain.NewGroup(input.Name)
	err := s.withHierarchyLock(ctx, func(ctx context.Context) error {
		for _, name := range input.Parents {
			parent, err := s.Get(ctx, name)
			if err != nil {
				return err
			}
			group.AddParent(parent)
		}
		if err := s.groups.Create(ctx, group); err != nil {
			return s.mapError(err, input.Name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("group_id", group.ID.Int64()).
		Str("group", group.Name).
		Strs("parents", input.Parents).
		Msg("group created")
	return group, nil
}

// Get retrieves a group by name with its ancestors loaded.
func (s *GroupService) Get(ctx context.Context, name string) (*domain.Group, error) {
	group, err := s.groups.GetByName(ctx, name)
	if err != nil {
		return nil, s.mapError(err, name)
	}
	return group, nil
}

// List returns all groups ordered by name.
func (s *GroupService) List(ctx context.Context) ([]*domain.Group, error) {
	groups, err := s.groups.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list groups")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return groups, nil
}

// Ancestors returns every group reachable from the named group through its
// parents, excluding the group itself.
func (s *GroupService) Ancestors(ctx context.Context, name string) ([]*domain.Group, error) {
	group, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return group.Ancestors(), nil
}

// AddParent makes parentName a parent of name. Cycles are allowed.
func (s *GroupService) AddParent(ctx context.Context, name, parentName string) error {
	return s.editParents(ctx, name, parentName, (*domain.Group).AddParent)
}

// RemoveParent removes parentName from the parents of name.
func (s *GroupService) RemoveParent(ctx context.Context, name, parentName string) error {
	return s.editParents(ctx, name, parentName, (*domain.Group).RemoveParent)
}

func (s *GroupService) editParents(ctx context.Context, name, parentName string, edit func(g, parent *domain.Group)) error {
	err := s.withHierarchyLock(ctx, func(ctx context.Context) error {
		group, err := s.Get(ctx, name)
		if err != nil {
			return err
		}
		parent, err := s.Get(ctx, parentName)
		if err != nil {
			return err
		}
		edit(group, parent)
		if err := s.groups.UpdateParents(ctx, group); err != nil {
			return s.mapError(err, name)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("group", name).Str("parent", parentName).Msg("group parents updated")
	return nil
}

// Delete deletes a group with its memberships and parent links.
func (s *GroupService) Delete(ctx context.Context, name string) error {
	err := s.withHierarchyLock(ctx, func(ctx context.Context) error {
		group, err := s.Get(ctx, name)
		if err != nil {
			return err
		}
		if err := s.groups.Delete(ctx, group.ID.Int64()); err != nil {
			return s.mapError(err, name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("group", name).Msg("group deleted")
	return nil
}

func (s *GroupService) withHierarchyLock(ctx context.Context, fn func(ctx context.Context) error) error {
	return runLocked(ctx, s.locker, lock.Keys.GroupHierarchy(), s.lockOpts, s.metrics, s.logger, fn)
}

func (s *GroupService) mapError(err error, name string) error {
	switch {
	case errors.Is(err, ErrGroupNotFound), errors.Is(err, ErrInternalError):
		return err
	case errors.Is(err, domain.ErrGroupNotFound):
		return fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	case errors.Is(err, domain.ErrGroupAlreadyExists):
		return fmt.Errorf("%w: %s", ErrGroupAlreadyExists, name)
	}
	s.logger.Error().Err(err).Str("group", name).Msg("group operation failed")
	return fmt.Errorf("%w: %v", ErrInternalError, err)
}
