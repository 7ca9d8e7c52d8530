// Package bootstrap initializes the infrastructure shared by the bot: logging,
// the link store and the metrics collectors.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/walletlink/core/config"
	coredatabase "github.com/m3rciful/walletlink/core/database"
	"github.com/m3rciful/walletlink/core/linkstore"
	"github.com/m3rciful/walletlink/core/logger"
	"github.com/m3rciful/walletlink/core/metrics"
)

// Options control the bootstrap pipeline.
type Options struct {
	Config *coreconfig.Config

	LoggerInit func(*coreconfig.Config) error
	Connect    func(context.Context, coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(context.Context, coredatabase.Config) error
	// MemoryCapacity bounds the in-memory link store; 0 uses its default.
	MemoryCapacity int
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	// DB is nil unless links are stored in PostgreSQL.
	DB      *sqlx.DB
	Links   linkstore.Store
	Metrics *metrics.Collectors
}

// Close releases the database connection, if any.
func (r *Result) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Run initializes the logger and the link store. With the postgres driver it
// connects to the database and applies migrations first.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}
	cfg := opts.Config

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	res := &Result{Metrics: metrics.New()}
	if cfg.Storage.Driver != coreconfig.StoragePostgres {
		res.Links = linkstore.NewMemoryStore(opts.MemoryCapacity)
		logger.Info(ctx, "app", "storage",
			slog.String("status", "ok"),
			slog.String("db", coreconfig.StorageMemory),
		)
		return res, nil
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(ctx, cfg.Storage.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(ctx, cfg.Storage.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	res.DB = db
	res.Links = linkstore.NewPostgresStore(db)
	logger.Info(ctx, "app", "storage",
		slog.String("status", "ok"),
		slog.String("db", coreconfig.StoragePostgres),
	)
	return res, nil
}
