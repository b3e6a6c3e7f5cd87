package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tradernet-identity/internal/domain"
)

// CachedRoleRepository decorates a RoleRepository with a read-through cache.
// Roles are reference data that change rarely and are read on every
// role assignment. Cache failures are logged and fall through to the
// underlying repository.
type CachedRoleRepository struct {
	next   RoleRepository
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedRoleRepository creates a new CachedRoleRepository.
func NewCachedRoleRepository(next RoleRepository, cache Cache, ttl time.Duration, logger zerolog.Logger) *CachedRoleRepository {
	return &CachedRoleRepository{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With().Str("component", "role_cache").Logger(),
	}
}

type cachedRole struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func toCachedRole(r *domain.Role) cachedRole {
	return cachedRole{ID: r.ID.Int64(), Name: r.Name, CreatedAt: r.CreatedAt}
}

func (c cachedRole) toDomain() (*domain.Role, error) {
	role := domain.NewRole(c.Name)
	role.CreatedAt = c.CreatedAt
	if err := role.AssignID(c.ID); err != nil {
		return nil, err
	}
	return role, nil
}

// Create implements RoleRepository.
func (r *CachedRoleRepository) Create(ctx context.Context, role *domain.Role) error {
	if err := r.next.Create(ctx, role); err != nil {
		return err
	}
	r.invalidate(ctx, role.Name)
	return nil
}

// GetByName implements RoleRepository.
func (r *CachedRoleRepository) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	key := CacheKeys.RoleByName(name)

	var entry cachedRole
	if r.load(ctx, key, &entry) {
		if role, err := entry.toDomain(); err == nil {
			return role, nil
		}
	}

	role, err := r.next.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	r.store(ctx, key, toCachedRole(role))
	return role, nil
}

// List implements RoleRepository.
func (r *CachedRoleRepository) List(ctx context.Context) ([]*domain.Role, error) {
	key := CacheKeys.RoleList()

	var entries []cachedRole
	if r.load(ctx, key, &entries) {
		roles := make([]*domain.Role, 0, len(entries))
		for _, e := range entries {
			role, err := e.toDomain()
			if err != nil {
				roles = nil
				break
			}
			roles = append(roles, role)
		}
		if roles != nil {
			return roles, nil
		}
	}

	roles, err := r.next.List(ctx)
	if err != nil {
		return nil, err
	}

	entries = make([]cachedRole, 0, len(roles))
	for _, role := range roles {
		entries = append(entries, toCachedRole(role))
	}
	r.store(ctx, key, entries)
	return roles, nil
}

// Delete implements RoleRepository.
func (r *CachedRoleRepository) Delete(ctx context.Context, id int64) error {
	roles, err := r.next.List(ctx)
	if err != nil {
		return err
	}
	if err := r.next.Delete(ctx, id); err != nil {
		return err
	}
	for _, role := range roles {
		if role.ID.Int64() == id {
			r.invalidate(ctx, role.Name)
		}
	}
	r.invalidate(ctx, "")
	return nil
}

func (r *CachedRoleRepository) load(ctx context.Context, key string, v any) bool {
	data, err := r.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			r.logger.Warn().Err(err).Str("key", key).Msg("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("discarding corrupt cache entry")
		_ = r.cache.Delete(ctx, key)
		return false
	}
	return true
}

func (r *CachedRoleRepository) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, data, r.ttl); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// invalidate drops the cached list and, when name is set, the role entry.
func (r *CachedRoleRepository) invalidate(ctx context.Context, name string) {
	keys := []string{CacheKeys.RoleList()}
	if name != "" {
		keys = append(keys, CacheKeys.RoleByName(name))
	}
	if err := r.cache.DeleteMulti(ctx, keys...); err != nil {
		r.logger.Warn().Err(err).Strs("keys", keys).Msg("cache invalidation failed")
	}
}

// Ensure CachedRoleRepository implements RoleRepository.
var _ RoleRepository = (*CachedRoleRepository)(nil)
