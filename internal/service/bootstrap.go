package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tradernet-identity/internal/config"
	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/lock"
	"github.com/prn-tf/tradernet-identity/internal/pkg/crypto"
)

// Required roles.
const (
	RoleSuperUser = "SUPER USER"
	RoleAdmin     = "ADMIN"
	RoleStandard  = "STANDARD"
)

// RequiredRoles lists the roles every installation must have.
var RequiredRoles = []string{RoleSuperUser, RoleAdmin, RoleStandard}

// Bootstrapper seeds the identity data every environment needs: the
// required roles and a super user holding the SUPER USER role.
// Running it again is a no-op.
type Bootstrapper struct {
	roles    *RoleService
	users    *UserService
	locker   lock.Locker
	lockOpts lock.Options
	cfg      config.BootstrapConfig
	logger   zerolog.Logger
}

// NewBootstrapper creates a new Bootstrapper.
func NewBootstrapper(roles *RoleService, users *UserService, locker lock.Locker, lockOpts lock.Options, cfg config.BootstrapConfig, logger zerolog.Logger) *Bootstrapper {
	return &Bootstrapper{
		roles:    roles,
		users:    users,
		locker:   locker,
		lockOpts: lockOpts,
		cfg:      cfg,
		logger:   logger.With().Str("service", "bootstrap").Logger(),
	}
}

// BootstrapResult reports what a bootstrap run changed.
type BootstrapResult struct {
	SuperUser *domain.User

	// CreatedRoles lists the required roles that did not exist before.
	CreatedRoles []string

	// SuperUserCreated is true if the super user was created by this run.
	SuperUserCreated bool

	// GeneratedPassword is the random super user password, set only when the
	// super user was created without a configured password.
	GeneratedPassword string
}

// Run ensures the required roles and the super user exist.
func (b *Bootstrapper) Run(ctx context.Context) (*BootstrapResult, error) {
	result := &BootstrapResult{}

	err := runLocked(ctx, b.locker, lock.Keys.Bootstrap(), b.lockOpts, nil, b.logger, func(ctx context.Context) error {
		for _, name := range RequiredRoles {
			_, created, err := b.roles.EnsureRole(ctx, name)
			if err != nil {
				return err
			}
			if created {
				result.CreatedRoles = append(result.CreatedRoles, name)
				b.logger.Info().Str("role", name).Msg("created required role")
			}
		}

		user, err := b.ensureSuperUser(ctx, result)
		if err != nil {
			return err
		}

		if !user.HasRole(RoleSuperUser) {
			user, err = b.users.SetRoles(ctx, user.ID.Int64(), append(user.RoleNames(), RoleSuperUser))
			if err != nil {
				return err
			}
			b.logger.Info().Str("username", user.Username).Msg("granted super user role")
		}
		result.SuperUser = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (b *Bootstrapper) ensureSuperUser(ctx context.Context, result *BootstrapResult) (*domain.User, error) {
	user, err := b.users.GetByUsername(ctx, b.cfg.SuperuserUsername)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	password := b.cfg.SuperuserPassword
	if password == "" {
		if password, err = crypto.GeneratePassword(); err != nil {
			return nil, err
		}
		result.GeneratedPassword = password
	}

	user, err = b.users.Create(ctx, CreateUserInput{
		Username:                b.cfg.SuperuserUsername,
		Password:                password,
		Roles:                   []string{RoleSuperUser},
		ChangePasswordNextLogin: result.GeneratedPassword != "",
	})
	if err != nil {
		return nil, err
	}
	result.SuperUserCreated = true

	event := b.logger.Warn().Str("username", user.Username)
	if result.GeneratedPassword != "" {
		event = event.Str("password", result.GeneratedPassword)
	}
	event.Msg("created bootstrap super user; change its password")
	return user, nil
}
