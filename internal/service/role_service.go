package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

// RoleService manages role reference data.
type RoleService struct {
	roles  repository.RoleRepository
	logger zerolog.Logger
}

// NewRoleService creates a new RoleService.
func NewRoleService(roles repository.RoleRepository, logger zerolog.Logger) *RoleService {
	return &RoleService{
		roles:  roles,
		logger: logger.With().Str("service", "role").Logger(),
	}
}

type roleNameInput struct {
	Name string `validate:"entityname"`
}

// Create creates a new role.
func (s *RoleService) Create(ctx context.Context, name string) (*domain.Role, error) {
	if err := validateInput(roleNameInput{Name: name}); err != nil {
		return nil, err
	}

	role := domain.NewRole(name)
	if err := s.roles.Create(ctx, role); err != nil {
		if errors.Is(err, domain.ErrRoleAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrRoleAlreadyExists, name)
		}
		s.logger.Error().Err(err).Str("role", name).Msg("failed to create role")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	s.logger.Info().Int64("role_id", role.ID.Int64()).Str("role", name).Msg("role created")
	return role, nil
}

// GetByName retrieves a role by name.
func (s *RoleService) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	role, err := s.roles.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrRoleNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
		}
		s.logger.Error().Err(err).Str("role", name).Msg("failed to get role")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return role, nil
}

// List returns all roles ordered by name.
func (s *RoleService) List(ctx context.Context) ([]*domain.Role, error) {
	roles, err := s.roles.List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list roles")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	return roles, nil
}

// Delete deletes a role and removes it from every user.
func (s *RoleService) Delete(ctx context.Context, name string) error {
	role, err := s.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if err := s.roles.Delete(ctx, role.ID.Int64()); err != nil {
		if errors.Is(err, domain.ErrRoleNotFound) {
			return fmt.Errorf("%w: %s", ErrRoleNotFound, name)
		}
		return fmt.Errorf("%w: %v", ErrInternalError, err)
	}
	s.logger.Info().Str("role", name).Msg("role deleted")
	return nil
}

// EnsureRole returns the named role, creating it if it does not exist.
// created reports whether the role was created by this call.
func (s *RoleService) EnsureRole(ctx context.Context, name string) (role *domain.Role, created bool, err error) {
	role, err = s.GetByName(ctx, name)
	if err == nil {
		return role, false, nil
	}
	if !errors.Is(err, ErrRoleNotFound) {
		return nil, false, err
	}

	role, err = s.Create(ctx, name)
	if errors.Is(err, ErrRoleAlreadyExists) {
		// Created concurrently.
		role, err = s.GetByName(ctx, name)
		return role, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return role, true, nil
}
