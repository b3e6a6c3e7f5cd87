package postgres

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tradernet-identity/internal/config"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

func init() {
	repository.RegisterDriver("postgres", Open)
}

// Open connects to the PostgreSQL database described by cfg and builds its repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, parseHash repository.HashParser, logger zerolog.Logger) (*repository.OpenResult, error) {
	db, err := NewDB(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &repository.OpenResult{
		Repos: &repository.Repositories{
			User:  NewUserRepository(db, parseHash),
			Role:  NewRoleRepository(db),
			Group: NewGroupRepository(db),
		},
		Database: db,
	}, nil
}
