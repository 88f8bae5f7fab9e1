package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/watchfolio/newsimpact/internal/config"
)

// Open creates the Store backend selected by configuration.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, cfg.MaxConns, cfg.MinConns)
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
