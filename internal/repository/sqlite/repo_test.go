package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/tradernet-identity/internal/config"
	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

type storedHash string

func (h storedHash) Matches(plaintext string) bool { return string(h) == "plain:"+plaintext }
func (h storedHash) Encoded() string               { return string(h) }

func parseStoredHash(encoded string) (domain.CredentialHash, error) {
	return storedHash(encoded), nil
}

func hashOf(plaintext string) domain.CredentialHash {
	return storedHash("plain:" + plaintext)
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	db, err := NewDB(ctx, DefaultConfig(":memory:"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	return db
}

type testRepos struct {
	users  repository.UserRepository
	roles  repository.RoleRepository
	groups repository.GroupRepository
}

func newTestRepos(t *testing.T) testRepos {
	db := newTestDB(t)
	return testRepos{
		users:  NewUserRepository(db, parseStoredHash),
		roles:  NewRoleRepository(db),
		groups: NewGroupRepository(db),
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	require.NoError(t, db.Migrate(ctx))
	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, version)
}

func TestRoleRepository(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	admin := domain.NewRole("admin")
	require.NoError(t, repos.roles.Create(ctx, admin))
	require.True(t, admin.ID.IsAssigned())

	err := repos.roles.Create(ctx, domain.NewRole("admin"))
	require.ErrorIs(t, err, domain.ErrRoleAlreadyExists)

	require.NoError(t, repos.roles.Create(ctx, domain.NewRole("auditor")))

	got, err := repos.roles.GetByName(ctx, "admin")
	require.NoError(t, err)
	require.Equal(t, admin.ID, got.ID)

	roles, err := repos.roles.List(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	require.Equal(t, "admin", roles[0].Name)

	require.NoError(t, repos.roles.Delete(ctx, admin.ID.Int64()))
	_, err = repos.roles.GetByName(ctx, "admin")
	require.ErrorIs(t, err, domain.ErrRoleNotFound)
	require.ErrorIs(t, repos.roles.Delete(ctx, admin.ID.Int64()), domain.ErrRoleNotFound)
}

func TestGroupRepository_Hierarchy(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	a := domain.NewGroup("A")
	require.NoError(t, repos.groups.Create(ctx, a))

	b := domain.NewGroup("B")
	b.AddParent(a)
	require.NoError(t, repos.groups.Create(ctx, b))

	c := domain.NewGroup("C")
	c.AddParent(b)
	require.NoError(t, repos.groups.Create(ctx, c))

	loaded, err := repos.groups.GetByName(ctx, "C")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"A", "B", "C"}, groupNames(domain.ResolveEffectiveGroups([]*domain.Group{loaded})))

	// Close a cycle A -> C.
	a.AddParent(c)
	require.NoError(t, repos.groups.UpdateParents(ctx, a))

	loaded, err = repos.groups.GetByID(ctx, a.ID.Int64())
	require.NoError(t, err)
	require.Len(t, domain.ResolveEffectiveGroups([]*domain.Group{loaded}), 3)

	groups, err := repos.groups.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, groupNames(groups))
}

func TestGroupRepository_Errors(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	require.NoError(t, repos.groups.Create(ctx, domain.NewGroup("desk")))
	require.ErrorIs(t, repos.groups.Create(ctx, domain.NewGroup("desk")), domain.ErrGroupAlreadyExists)

	orphan := domain.NewGroup("orphan")
	orphan.AddParent(domain.NewGroup("unsaved"))
	require.ErrorIs(t, repos.groups.Create(ctx, orphan), repository.ErrUnsavedReference)
	require.False(t, orphan.ID.IsAssigned())

	_, err := repos.groups.GetByName(ctx, "orphan")
	require.ErrorIs(t, err, domain.ErrGroupNotFound)
	require.ErrorIs(t, repos.groups.UpdateParents(ctx, domain.NewGroup("x")), repository.ErrUnsavedReference)
	require.ErrorIs(t, repos.groups.Delete(ctx, 999), domain.ErrGroupNotFound)
}

func TestRepositories_RejectCorruptTimestamps(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	roles := NewRoleRepository(db)
	groups := NewGroupRepository(db)

	require.NoError(t, roles.Create(ctx, domain.NewRole("admin")))
	require.NoError(t, groups.Create(ctx, domain.NewGroup("desk")))

	_, err := db.db.ExecContext(ctx, `UPDATE roles SET created_at = 'yesterday'`)
	require.NoError(t, err)
	_, err = db.db.ExecContext(ctx, `UPDATE identity_groups SET created_at = 'yesterday'`)
	require.NoError(t, err)

	_, err = roles.GetByName(ctx, "admin")
	require.ErrorContains(t, err, "invalid stored timestamp")
	_, err = roles.List(ctx)
	require.ErrorContains(t, err, "invalid stored timestamp")
	_, err = groups.GetByName(ctx, "desk")
	require.ErrorContains(t, err, "invalid stored timestamp")
}

func TestParseTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 123, time.UTC)
	got, err := parseTime(formatTime(now))
	require.NoError(t, err)
	require.True(t, now.Equal(got))

	_, err = parseTime("")
	require.Error(t, err)

	null, err := parseNullTime(formatNullTime(nil))
	require.NoError(t, err)
	require.Nil(t, null)
}

func TestUserRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)
	policy := domain.NewPasswordHistoryPolicy(domain.PasswordHistoryConfig{})

	trader := domain.NewRole("trader")
	require.NoError(t, repos.roles.Create(ctx, trader))

	parent := domain.NewGroup("europe")
	require.NoError(t, repos.groups.Create(ctx, parent))
	desk := domain.NewGroup("desk")
	desk.AddParent(parent)
	require.NoError(t, repos.groups.Create(ctx, desk))

	expiry := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	user := domain.NewUser("Alice")
	user.Email = "alice@example.com"
	user.FullName = "Alice Doe"
	user.AccountExpiry = &expiry
	user.BypassLockout = true
	user.AddRole(trader)
	user.AddGroup(desk)
	user.SetProperty("Region", "EU")
	_, err := policy.SetInitialCredential(user, hashOf("first"))
	require.NoError(t, err)

	require.NoError(t, repos.users.Create(ctx, user))
	require.True(t, user.ID.IsAssigned())
	for _, rec := range user.Credentials() {
		require.True(t, rec.ID.IsAssigned())
	}

	loaded, err := repos.users.GetByUsername(ctx, "ALICE")
	require.NoError(t, err)
	require.True(t, loaded.Equal(user))
	require.Equal(t, "Alice", loaded.Username)
	require.Equal(t, "alice@example.com", loaded.Email)
	require.True(t, loaded.BypassLockout)
	require.NotNil(t, loaded.AccountExpiry)
	require.True(t, expiry.Equal(*loaded.AccountExpiry))
	require.Equal(t, []string{"trader"}, loaded.RoleNames())
	require.ElementsMatch(t, []string{"desk", "europe"}, groupNames(loaded.EffectiveGroups()))

	value, ok := loaded.Property("region")
	require.True(t, ok)
	require.Equal(t, "EU", value)

	latest := policy.LatestCredential(loaded)
	require.NotNil(t, latest)
	require.True(t, latest.Matches("first"))

	exists, err := repos.users.ExistsByUsername(ctx, "alice")
	require.NoError(t, err)
	require.True(t, exists)

	err = repos.users.Create(ctx, domain.NewUser("alice"))
	require.ErrorIs(t, err, domain.ErrUserAlreadyExists)
}

func TestUserRepository_UpdateReconcilesHistory(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)
	policy := domain.NewPasswordHistoryPolicy(domain.PasswordHistoryConfig{})

	user := domain.NewUser("bob")
	_, err := policy.SetInitialCredential(user, hashOf("one"))
	require.NoError(t, err)
	user.SetProperty("desk", "fx")
	require.NoError(t, repos.users.Create(ctx, user))

	loaded, err := repos.users.GetByID(ctx, user.ID.Int64())
	require.NoError(t, err)

	policy.AppendCredential(loaded, hashOf("two"))
	policy.AppendCredential(loaded, hashOf("three"))
	evicted := policy.EnforceRetention(loaded, 2)
	require.Len(t, evicted, 1)
	loaded.RemoveProperty("desk")
	loaded.Status = domain.UserStatusDisabled
	require.NoError(t, repos.users.Update(ctx, loaded))

	reloaded, err := repos.users.GetByID(ctx, user.ID.Int64())
	require.NoError(t, err)
	require.Equal(t, domain.UserStatusDisabled, reloaded.Status)
	require.Empty(t, reloaded.Properties())
	require.Len(t, reloaded.Credentials(), 2)
	require.False(t, reloaded.HasCredential("one"))
	require.True(t, policy.LatestCredential(reloaded).Matches("three"))
}

func TestUserRepository_Errors(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	_, err := repos.users.GetByID(ctx, 42)
	require.ErrorIs(t, err, domain.ErrUserNotFound)
	_, err = repos.users.GetByUsername(ctx, "nobody")
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	require.ErrorIs(t, repos.users.Update(ctx, domain.NewUser("unsaved")), repository.ErrUnsavedReference)

	user := domain.NewUser("carol")
	user.AddRole(domain.NewRole("unsaved"))
	require.ErrorIs(t, repos.users.Create(ctx, user), repository.ErrUnsavedReference)
	require.False(t, user.ID.IsAssigned())

	exists, err := repos.users.ExistsByUsername(ctx, "carol")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestUserRepository_List(t *testing.T) {
	ctx := context.Background()
	repos := newTestRepos(t)

	for _, name := range []string{"dave", "erin", "frank"} {
		require.NoError(t, repos.users.Create(ctx, domain.NewUser(name)))
	}
	disabled := domain.NewUser("gina")
	disabled.Status = domain.UserStatusDisabled
	require.NoError(t, repos.users.Create(ctx, disabled))

	page, err := repos.users.List(ctx, repository.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.EqualValues(t, 4, page.Total)
	require.Len(t, page.Items, 2)
	require.Equal(t, "dave", page.Items[0].Username)

	status := domain.UserStatusDisabled
	page, err = repos.users.List(ctx, repository.ListOptions{Status: &status})
	require.NoError(t, err)
	require.EqualValues(t, 1, page.Total)
	require.Equal(t, "gina", page.Items[0].Username)
}

func groupNames(groups []*domain.Group) []string {
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	return names
}

func TestFactory_OpenSQLite(t *testing.T) {
	ctx := context.Background()
	factory := repository.NewFactory(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"}, zerolog.Nop())

	result, err := factory.Open(ctx, parseStoredHash)
	require.NoError(t, err)
	t.Cleanup(func() { _ = result.Database.Close() })

	require.NoError(t, result.Database.Migrate(ctx))
	require.NoError(t, result.Repos.Role.Create(ctx, domain.NewRole("admin")))

	_, err = repository.NewFactory(config.DatabaseConfig{Driver: "oracle"}, zerolog.Nop()).Open(ctx, parseStoredHash)
	require.Error(t, err)
}
