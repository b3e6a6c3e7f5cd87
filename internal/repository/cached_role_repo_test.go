package repository_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/tradernet-identity/internal/cache/memory"
	"github.com/prn-tf/tradernet-identity/internal/domain"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

type mockRoleRepository struct {
	mock.Mock
}

func (m *mockRoleRepository) Create(ctx context.Context, role *domain.Role) error {
	args := m.Called(ctx, role)
	return args.Error(0)
}

func (m *mockRoleRepository) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Role), args.Error(1)
}

func (m *mockRoleRepository) List(ctx context.Context) ([]*domain.Role, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Role), args.Error(1)
}

func (m *mockRoleRepository) Delete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func savedRole(t *testing.T, id int64, name string) *domain.Role {
	t.Helper()
	r := domain.NewRole(name)
	require.NoError(t, r.AssignID(id))
	return r
}

func newCachedRoles(t *testing.T, ttl time.Duration) (*repository.CachedRoleRepository, *mockRoleRepository, *memory.Cache) {
	t.Helper()
	next := new(mockRoleRepository)
	cache := memory.NewCache(time.Minute)
	t.Cleanup(cache.Stop)
	return repository.NewCachedRoleRepository(next, cache, ttl, zerolog.Nop()), next, cache
}

func TestCachedRoleRepository_GetByNameReadsThrough(t *testing.T) {
	ctx := context.Background()
	repo, next, _ := newCachedRoles(t, time.Minute)
	next.On("GetByName", mock.Anything, domain.RoleAdmin).Return(savedRole(t, 7, domain.RoleAdmin), nil).Once()

	for i := 0; i < 3; i++ {
		role, err := repo.GetByName(ctx, domain.RoleAdmin)
		require.NoError(t, err)
		require.Equal(t, int64(7), role.ID.Int64())
		require.Equal(t, domain.RoleAdmin, role.Name)
	}
	next.AssertNumberOfCalls(t, "GetByName", 1)
}

func TestCachedRoleRepository_EntriesExpire(t *testing.T) {
	ctx := context.Background()
	repo, next, _ := newCachedRoles(t, 20*time.Millisecond)
	next.On("GetByName", mock.Anything, "A").Return(savedRole(t, 1, "A"), nil)

	_, err := repo.GetByName(ctx, "A")
	require.NoError(t, err)
	_, err = repo.GetByName(ctx, "A")
	require.NoError(t, err)
	next.AssertNumberOfCalls(t, "GetByName", 1)

	time.Sleep(40 * time.Millisecond)

	_, err = repo.GetByName(ctx, "A")
	require.NoError(t, err)
	next.AssertNumberOfCalls(t, "GetByName", 2)
}

func TestCachedRoleRepository_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	repo, next, cache := newCachedRoles(t, time.Minute)
	next.On("GetByName", mock.Anything, "ghost").Return(nil, domain.ErrRoleNotFound).Twice()

	for i := 0; i < 2; i++ {
		_, err := repo.GetByName(ctx, "ghost")
		require.ErrorIs(t, err, domain.ErrRoleNotFound)
	}
	require.Zero(t, cache.Len())
	next.AssertExpectations(t)
}

func TestCachedRoleRepository_CreateInvalidates(t *testing.T) {
	ctx := context.Background()
	repo, next, cache := newCachedRoles(t, time.Minute)
	a := savedRole(t, 1, "A")
	b := savedRole(t, 2, "B")

	next.On("List", mock.Anything).Return([]*domain.Role{a}, nil).Once()
	roles, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)

	roles, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)

	next.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, repo.Create(ctx, domain.NewRole("B")))

	exists, err := cache.Exists(ctx, repository.CacheKeys.RoleList())
	require.NoError(t, err)
	require.False(t, exists)

	next.On("List", mock.Anything).Return([]*domain.Role{a, b}, nil).Once()
	roles, err = repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	next.AssertExpectations(t)
}

func TestCachedRoleRepository_DeleteInvalidates(t *testing.T) {
	ctx := context.Background()
	repo, next, cache := newCachedRoles(t, time.Minute)
	a := savedRole(t, 1, "A")

	next.On("GetByName", mock.Anything, "A").Return(a, nil).Once()
	_, err := repo.GetByName(ctx, "A")
	require.NoError(t, err)

	next.On("List", mock.Anything).Return([]*domain.Role{a}, nil).Once()
	next.On("Delete", mock.Anything, int64(1)).Return(nil).Once()
	require.NoError(t, repo.Delete(ctx, 1))

	for _, key := range []string{repository.CacheKeys.RoleByName("A"), repository.CacheKeys.RoleList()} {
		exists, err := cache.Exists(ctx, key)
		require.NoError(t, err)
		require.False(t, exists, key)
	}

	next.On("GetByName", mock.Anything, "A").Return(nil, domain.ErrRoleNotFound).Once()
	_, err = repo.GetByName(ctx, "A")
	require.ErrorIs(t, err, domain.ErrRoleNotFound)
	next.AssertExpectations(t)
}

func TestCachedRoleRepository_FailedWriteKeepsCache(t *testing.T) {
	ctx := context.Background()
	repo, next, cache := newCachedRoles(t, time.Minute)
	boom := errors.New("boom")

	next.On("GetByName", mock.Anything, "A").Return(savedRole(t, 1, "A"), nil).Once()
	_, err := repo.GetByName(ctx, "A")
	require.NoError(t, err)

	next.On("List", mock.Anything).Return([]*domain.Role{savedRole(t, 1, "A")}, nil).Once()
	next.On("Delete", mock.Anything, int64(1)).Return(boom).Once()
	require.ErrorIs(t, repo.Delete(ctx, 1), boom)

	exists, err := cache.Exists(ctx, repository.CacheKeys.RoleByName("A"))
	require.NoError(t, err)
	require.True(t, exists)
}

func TestCachedRoleRepository_DiscardsCorruptEntry(t *testing.T) {
	ctx := context.Background()
	repo, next, cache := newCachedRoles(t, time.Minute)
	key := repository.CacheKeys.RoleByName("A")
	require.NoError(t, cache.Set(ctx, key, []byte("{not json"), time.Minute))

	next.On("GetByName", mock.Anything, "A").Return(savedRole(t, 1, "A"), nil).Once()
	role, err := repo.GetByName(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, int64(1), role.ID.Int64())

	data, err := cache.Get(ctx, key)
	require.NoError(t, err)
	var stored map[string]any
	require.NoError(t, json.Unmarshal(data, &stored))
	require.Equal(t, "A", stored["name"])

	role, err = repo.GetByName(ctx, "A")
	require.NoError(t, err)
	require.Equal(t, "A", role.Name)
	next.AssertExpectations(t)
}

func TestCachedRoleRepository_DiscardsUnassignableEntry(t *testing.T) {
	ctx := context.Background()
	repo, next, cache := newCachedRoles(t, time.Minute)
	key := repository.CacheKeys.RoleList()
	require.NoError(t, cache.Set(ctx, key, []byte(`[{"id":0,"name":"A"}]`), time.Minute))

	next.On("List", mock.Anything).Return([]*domain.Role{savedRole(t, 1, "A")}, nil).Once()
	roles, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.Equal(t, int64(1), roles[0].ID.Int64())
	next.AssertExpectations(t)
}

func TestCacheKeys(t *testing.T) {
	require.Equal(t, "role:name:ADMIN", repository.CacheKeys.RoleByName("ADMIN"))
	require.Equal(t, "role:list", repository.CacheKeys.RoleList())
}
