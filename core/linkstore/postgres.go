package linkstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/walletlink/core/logger"
	"github.com/m3rciful/walletlink/core/wallet"
)

const defaultListLimit = 20

// PostgresStore keeps links in the wallet_links table.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open connection pool. Schema comes from migrations.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type linkRow struct {
	ID          int64     `db:"id"`
	ChatID      int64     `db:"chat_id"`
	UserID      int64     `db:"user_id"`
	Source      string    `db:"source"`
	Address     string    `db:"address"`
	CAIPAddress string    `db:"caip_address"`
	Balance     string    `db:"balance"`
	Signature   string    `db:"signature"`
	Accounts    []byte    `db:"accounts"`
	Raw         string    `db:"raw"`
	ReceivedAt  time.Time `db:"received_at"`
}

func (r linkRow) link() Link {
	l := Link{
		ID:          r.ID,
		ChatID:      r.ChatID,
		UserID:      r.UserID,
		Source:      Source(r.Source),
		Address:     r.Address,
		CAIPAddress: r.CAIPAddress,
		Balance:     r.Balance,
		Signature:   r.Signature,
		Raw:         r.Raw,
		ReceivedAt:  r.ReceivedAt,
	}
	var accounts []wallet.Account
	if err := json.Unmarshal(r.Accounts, &accounts); err == nil {
		l.Accounts = accounts
	}
	return l
}

const insertLink = `
INSERT INTO wallet_links (chat_id, user_id, source, address, caip_address, balance, signature, accounts, raw)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, received_at`

func (s *PostgresStore) Save(ctx context.Context, l Link) (Link, error) {
	accounts := l.Accounts
	if accounts == nil {
		accounts = []wallet.Account{}
	}
	accJSON, err := json.Marshal(accounts)
	if err != nil {
		return Link{}, fmt.Errorf("linkstore: encode accounts: %w", err)
	}

	start := time.Now()
	err = s.db.QueryRowxContext(ctx, insertLink,
		l.ChatID, l.UserID, string(l.Source), l.Address, l.CAIPAddress,
		l.Balance, l.Signature, accJSON, l.Raw,
	).Scan(&l.ID, &l.ReceivedAt)
	if err != nil {
		logger.Error(ctx, "linkstore", "link.save",
			slog.String("status", "fail"),
			slog.String("source", string(l.Source)),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return Link{}, fmt.Errorf("linkstore: save: %w", err)
	}
	logger.Debug(ctx, "linkstore", "link.save",
		slog.String("status", "ok"),
		slog.String("source", string(l.Source)),
		slog.Duration("duration", logger.Took(start)),
	)
	return l, nil
}

const selectLinks = `
SELECT id, chat_id, user_id, source, address, caip_address, balance, signature, accounts, raw, received_at
FROM wallet_links`

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Link, error) {
	return s.query(ctx, selectLinks+` ORDER BY received_at DESC, id DESC LIMIT $1`, listLimit(limit))
}

func (s *PostgresStore) ForUser(ctx context.Context, userID int64, limit int) ([]Link, error) {
	return s.query(ctx, selectLinks+` WHERE user_id = $1 ORDER BY received_at DESC, id DESC LIMIT $2`, userID, listLimit(limit))
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]Link, error) {
	var rows []linkRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("linkstore: query: %w", err)
	}
	out := make([]Link, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.link())
	}
	return out, nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
