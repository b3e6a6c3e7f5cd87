package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/tradernet-identity/internal/config"
	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/lock"
	"github.com/prn-tf/tradernet-identity/internal/metrics"
	"github.com/prn-tf/tradernet-identity/internal/pkg/crypto"
	"github.com/prn-tf/tradernet-identity/internal/repository/sqlite"
)

type sqliteServices struct {
	users  *UserService
	roles  *RoleService
	locker lock.Locker
}

func newSQLiteServices(t *testing.T) *sqliteServices {
	t.Helper()
	ctx := context.Background()

	opened, err := sqlite.Open(ctx, config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, crypto.ParseHash, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = opened.Database.Close() })
	require.NoError(t, opened.Database.Migrate(ctx))

	locker := lock.NewMemoryLocker()
	t.Cleanup(locker.Close)

	users := NewUserService(
		opened.Repos,
		crypto.NewPBKDF2Hasher(1000),
		domain.NewPasswordHistoryPolicy(domain.PasswordHistoryConfig{}),
		locker,
		metrics.New("test"),
		UserServiceConfig{HistorySize: 5, MinPasswordLength: 8, Lockout: LockoutPolicy{MaxAttempts: 5}},
		zerolog.Nop(),
	)
	return &sqliteServices{
		users:  users,
		roles:  NewRoleService(opened.Repos.Role, zerolog.Nop()),
		locker: locker,
	}
}

func TestBootstrapper_Run(t *testing.T) {
	ctx := context.Background()
	svcs := newSQLiteServices(t)
	boot := NewBootstrapper(svcs.roles, svcs.users, svcs.locker, lock.Options{}, config.BootstrapConfig{SuperuserUsername: "admin"}, zerolog.Nop())

	first, err := boot.Run(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, RequiredRoles, first.CreatedRoles)
	require.True(t, first.SuperUserCreated)
	require.Len(t, first.GeneratedPassword, crypto.GeneratedPasswordLength)
	require.True(t, first.SuperUser.HasRole(RoleSuperUser))
	require.True(t, first.SuperUser.ChangePasswordNextLogin)

	login, err := svcs.users.Authenticate(ctx, "ADMIN", first.GeneratedPassword)
	require.NoError(t, err)
	require.Equal(t, LoginAccountPasswordExpired, login.Status)

	second, err := boot.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, second.CreatedRoles)
	require.False(t, second.SuperUserCreated)
	require.Empty(t, second.GeneratedPassword)
	require.Equal(t, first.SuperUser.ID, second.SuperUser.ID)
}

func TestBootstrapper_RestoresSuperUserRole(t *testing.T) {
	ctx := context.Background()
	svcs := newSQLiteServices(t)
	cfg := config.BootstrapConfig{SuperuserUsername: "root", SuperuserPassword: "configured secret"}
	boot := NewBootstrapper(svcs.roles, svcs.users, svcs.locker, lock.Options{}, cfg, zerolog.Nop())

	first, err := boot.Run(ctx)
	require.NoError(t, err)
	require.Empty(t, first.GeneratedPassword)
	require.False(t, first.SuperUser.ChangePasswordNextLogin)

	_, err = svcs.users.SetRoles(ctx, first.SuperUser.ID.Int64(), []string{RoleAdmin})
	require.NoError(t, err)

	second, err := boot.Run(ctx)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{RoleAdmin, RoleSuperUser}, second.SuperUser.RoleNames())

	login, err := svcs.users.Authenticate(ctx, "root", "configured secret")
	require.NoError(t, err)
	require.Equal(t, LoginSuccess, login.Status)
}
