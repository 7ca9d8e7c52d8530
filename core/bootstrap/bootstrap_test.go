package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/walletlink/core/config"
	coredatabase "github.com/m3rciful/walletlink/core/database"
	"github.com/m3rciful/walletlink/core/linkstore"
	tg "github.com/m3rciful/walletlink/core/telegram"
)

func noLogger(*coreconfig.Config) error { return nil }

func TestRunMemoryStorageSkipsDatabase(t *testing.T) {
	cfg := &coreconfig.Config{Storage: coreconfig.StorageConfig{Driver: coreconfig.StorageMemory}}
	res, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Connect: func(context.Context, coredatabase.Config) (*sqlx.DB, error) {
			t.Fatal("connect must not be called for memory storage")
			return nil, nil
		},
	})
	require.NoError(t, err)
	require.Nil(t, res.DB)
	require.IsType(t, &linkstore.MemoryStore{}, res.Links)
	require.NotNil(t, res.Metrics)
	require.NoError(t, res.Close())
}

func TestRunPostgresStorage(t *testing.T) {
	cfg := &coreconfig.Config{Storage: coreconfig.StorageConfig{
		Driver:   coreconfig.StoragePostgres,
		Database: coreconfig.DatabaseConfig{Host: "localhost", Port: "5432", Name: "walletlink", SSLMode: "disable"},
	}}
	var migrated coredatabase.Config
	res, err := Run(context.Background(), Options{
		Config:     cfg,
		LoggerInit: noLogger,
		Connect: func(_ context.Context, c coredatabase.Config) (*sqlx.DB, error) {
			return sqlx.Open("postgres", coredatabase.KeywordDSN(c))
		},
		Migrate: func(_ context.Context, c coredatabase.Config) error {
			migrated = c
			return nil
		},
	})
	require.NoError(t, err)
	require.Equal(t, "walletlink", migrated.Name)
	require.NotNil(t, res.DB)
	require.IsType(t, &linkstore.PostgresStore{}, res.Links)
	require.NoError(t, res.Close())
}

func TestRunFailures(t *testing.T) {
	pg := &coreconfig.Config{Storage: coreconfig.StorageConfig{Driver: coreconfig.StoragePostgres}}

	_, err := Run(context.Background(), Options{})
	require.Error(t, err)

	_, err = Run(context.Background(), Options{
		Config:     pg,
		LoggerInit: func(*coreconfig.Config) error { return errors.New("boom") },
	})
	require.ErrorContains(t, err, "logger init failed")

	_, err = Run(context.Background(), Options{
		Config:     pg,
		LoggerInit: noLogger,
		Connect: func(context.Context, coredatabase.Config) (*sqlx.DB, error) {
			return nil, errors.New("refused")
		},
	})
	require.ErrorContains(t, err, "database initialization failed")

	_, err = Run(context.Background(), Options{
		Config:     pg,
		LoggerInit: noLogger,
		Connect: func(_ context.Context, c coredatabase.Config) (*sqlx.DB, error) {
			return sqlx.Open("postgres", coredatabase.KeywordDSN(c))
		},
		Migrate: func(context.Context, coredatabase.Config) error { return errors.New("dirty") },
	})
	require.ErrorContains(t, err, "migrations failed")
}

func TestRegisterModulesStopsAtFirstError(t *testing.T) {
	reg := tg.NewRegistry()
	var calls []string
	err := RegisterModules(reg,
		ModuleFunc(func(*tg.Registry) error { calls = append(calls, "a"); return nil }),
		nil,
		ModuleFunc(func(*tg.Registry) error { calls = append(calls, "b"); return errors.New("dup") }),
		ModuleFunc(func(*tg.Registry) error { calls = append(calls, "c"); return nil }),
	)
	require.ErrorContains(t, err, "module 2")
	require.Equal(t, []string{"a", "b"}, calls)
}
