package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/prn-tf/tradernet-identity/internal/config"
	"github.com/prn-tf/tradernet-identity/internal/repository"
)

func init() {
	repository.RegisterDriver("sqlite", Open)
}

// Open connects to the SQLite database described by cfg and builds its repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, parseHash repository.HashParser, logger zerolog.Logger) (*repository.OpenResult, error) {
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := NewDB(ctx, ConfigFrom(cfg), logger)
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
