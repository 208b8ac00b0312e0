package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"mymove-wizard/internal/backend"
	"mymove-wizard/internal/sessions"
	"mymove-wizard/internal/shared/config"
	"mymove-wizard/internal/shared/server"
	"mymove-wizard/internal/shared/storage/db"
	"mymove-wizard/internal/wizard"
)

// App holds shared dependencies.
type App struct {
	Config   config.Config
	Router   *gin.Engine
	DB       *sql.DB
	Redis    *redis.Client
	Backend  *backend.Client
	Repo     sessions.Repo
	Sessions *sessions.Manager
	Sweeper  *sessions.Sweeper
	Handler  *sessions.Handler
}

// Build prepares every dependency and the router.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	client, err := backend.New(backend.Options{
		BaseURL:  cfg.BackendURL,
		Email:    cfg.BackendEmail,
		Password: cfg.BackendPassword,
		Token:    cfg.BackendToken,
		Timeout:  cfg.BackendTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("backend client: %w", err)
	}

	app := &App{Config: cfg, Backend: client}
	if err := app.buildRepo(ctx); err != nil {
		return nil, err
	}

	app.Sessions = sessions.NewManager(client, app.Repo, sessions.ManagerOptions{
		IdleTTL:       cfg.SessionIdleTTL,
		Retention:     cfg.SessionRetention,
		EngineOptions: []wizard.Option{wizard.WithPollInterval(cfg.PollInterval)},
	})
	app.Sweeper = sessions.NewSweeper(app.Sessions, cfg.SessionSweepSpec)
	app.Handler = sessions.NewHandler(app.Sessions)
	app.Router = server.NewRouter(server.RouterDeps{
		Config:        cfg,
		WizardHandler: app.Handler,
		Ready:         app.ready,
	})
	return app, nil
}

func (a *App) buildRepo(ctx context.Context) error {
	switch a.Config.SessionStore {
	case "postgres":
		sqlDB, err := buildDB(ctx, a.Config)
		if err != nil {
			return err
		}
		if sqlDB != nil {
			a.DB = sqlDB
			a.Repo = &sessions.PGRepo{DB: sqlDB}
			log.Printf("bootstrap: session snapshots in postgres")
			return nil
		}
	case "redis":
		client, err := buildRedis(ctx, a.Config)
		if err != nil {
			return err
		}
		if client != nil {
			a.Redis = client
			a.Repo = sessions.NewRedisRepo(client, a.Config.SessionRetention)
			log.Printf("bootstrap: session snapshots in redis")
			return nil
		}
	}
	a.Repo = sessions.NewMemoryRepo()
	log.Printf("bootstrap: session snapshots in memory")
	return nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory snapshots")
			return nil, nil
		}
		return nil, errors.New("DATABASE_URL is required for SESSION_STORE=postgres")
	}

	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	if err == nil {
		if err = db.RunMigrations(ctx, sqlDB); err != nil {
			sqlDB.Close()
		}
	}
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database unavailable; using in-memory snapshots: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: REDIS_URL empty; using in-memory snapshots")
			return nil, nil
		}
		return nil, errors.New("REDIS_URL is required for SESSION_STORE=redis")
	}
	client, err := sessions.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: redis unavailable; using in-memory snapshots: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return client, nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

func (a *App) ready(ctx context.Context) error {
	switch {
	case a.DB != nil:
		return db.Ping(ctx, a.DB, 0)
	case a.Redis != nil:
		return a.Redis.Ping(ctx).Err()
	}
	return nil
}

// Close saves live sessions and releases the stores.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Sessions != nil {
		if err := a.Sessions.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
