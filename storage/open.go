package storage

import (
	"context"
	"net/url"

	"bldg_sync/config"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Open returns the Store selected by cfg.Driver, migrated and ready
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		zap.L().Info("store opened",
			zap.String("driver", "postgres"),
			zap.String("dsn", MaskConnectionString(cfg.DatabaseURL)),
		)
		return pg, nil
	case "sqlite":
		s, err := NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		zap.L().Info("store opened", zap.String("driver", "sqlite"), zap.String("path", cfg.DBPath))
		return s, nil
	case "memory":
		zap.L().Warn("using in-memory store, nothing will persist")
		return NewMemoryStore(), nil
	}
	return nil, eris.Errorf("storage: unknown driver %q", cfg.Driver)
}

// MaskConnectionString hides the password of a URL-style DSN for logging
func MaskConnectionString(connStr string) string {
	u, err := url.Parse(connStr)
	if err != nil || u.User == nil {
		return connStr
	}
	if _, ok := u.User.Password(); !ok {
		return connStr
	}
	u.User = url.UserPassword(u.User.Username(), "xxxxx")
	return u.String()
}
