package database

import (
	"fmt"
	"net/url"

	coreconfig "github.com/m3rciful/walletlink/core/config"
)

// Config holds database connection settings.
type Config = coreconfig.DatabaseConfig

// KeywordDSN renders cfg in libpq keyword/value form for sqlx.
func KeywordDSN(cfg Config) string {
	return fmt.Sprintf(
		"user=%s password=%s host=%s port=%s dbname=%s sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode,
	)
}

// URLDSN renders cfg as a postgres:// URL for golang-migrate.
func URLDSN(cfg Config) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host + ":" + cfg.Port,
		Path:     "/" + cfg.Name,
		RawQuery: url.Values{"sslmode": []string{cfg.SSLMode}}.Encode(),
	}
	return u.String()
}
