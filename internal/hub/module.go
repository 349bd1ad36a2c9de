package hub

import (
	"context"

	"github.com/mentorchat/mentorchat/internal/auth"
	"github.com/mentorchat/mentorchat/internal/config"
	"github.com/mentorchat/mentorchat/internal/lock"
	"github.com/mentorchat/mentorchat/internal/logging"
	"github.com/mentorchat/mentorchat/internal/session"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module returns the fx module for the hub daemon, composing all
// providers and lifecycle hooks.
func Module(cfg *config.HubConfig) fx.Option {
	return fx.Module("hub",
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideLock,
			provideDB,
			provideIssuer,
			provideHub,
			NewAssistantRelay,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger() (*zap.Logger, error) {
	return logging.New(session.HubLogPath(), "mentord")
}

func provideLock(cfg *config.HubConfig, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDirs(cfg.DataDir); err != nil {
		return nil, err
	}
	logger.Info("acquiring data dir lock", zap.String("dir", cfg.DataDir))
	l, err := lock.Acquire(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideDB(cfg *config.HubConfig, logger *zap.Logger) (*DB, error) {
	dbPath := session.HubDBPath(cfg.DataDir)
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("durable store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideIssuer(cfg *config.HubConfig) *auth.Issuer {
	return auth.NewIssuer(cfg.JWTSecret)
}

func provideHub(logger *zap.Logger) *Hub {
	return NewHub(logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, h *Hub, db *DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go h.Run()
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("hub server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			h.Shutdown()
			if err := db.Close(); err != nil {
				logger.Warn("error closing db", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("hub stopped")
			return nil
		},
	})
}
