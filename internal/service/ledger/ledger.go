package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"chatkeeper/internal/apperr"
	"chatkeeper/internal/models"
	"chatkeeper/internal/storage"
)

// latestPerAccount selects, for one owner, the newest snapshot of every
// account. Equal timestamps resolve to the later insert.
const latestPerAccount = `
SELECT a.account_name, a.balance FROM accounts a
WHERE a.chat_id = ? AND a.user_name = ? AND a.id = (
	SELECT b.id FROM accounts b
	WHERE b.chat_id = a.chat_id AND b.user_name = a.user_name AND b.account_name = a.account_name
	ORDER BY b.timestamp DESC, b.id DESC LIMIT 1
)
ORDER BY a.account_name`

// Store is an append-only ledger of balance snapshots.
type Store struct {
	q   storage.Querier
	now func() time.Time
}

type Option func(*Store)

// WithClock replaces time.Now for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(q storage.Querier, opts ...Option) *Store {
	s := &Store{q: q, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save appends one snapshot. Earlier snapshots of the account are kept.
func (s *Store) Save(ctx context.Context, snap models.AccountSnapshot) (*models.AccountSnapshot, error) {
	for _, f := range []struct{ name, value string }{
		{"chat_id", snap.ChatID},
		{"user_name", snap.UserName},
		{"account_name", snap.AccountName},
	} {
		if strings.TrimSpace(f.value) == "" {
			return nil, apperr.Validation("save account", f.name+" is required")
		}
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.now()
	}
	snap.Timestamp = snap.Timestamp.UTC()
	res, err := s.q.ExecContext(ctx,
		`INSERT INTO accounts (chat_id, user_name, account_name, balance, timestamp) VALUES (?, ?, ?, ?, ?)`,
		snap.ChatID, snap.UserName, snap.AccountName, snap.Balance, snap.Timestamp,
	)
	if err != nil {
		return nil, apperr.Storage("save account", fmt.Errorf("insert account: %w", err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Storage("save account", fmt.Errorf("account id: %w", err))
	}
	snap.ID = id
	return &snap, nil
}

// NetWorth sums every snapshot recorded for the owner, including superseded
// ones. It is 0 when nothing matches. See LatestNetWorth for the sum of
// current balances only.
func (s *Store) NetWorth(ctx context.Context, chatID, userName string) (float64, error) {
	var total sql.NullFloat64
	err := s.q.QueryRowContext(ctx,
		`SELECT SUM(balance) FROM accounts WHERE chat_id = ? AND user_name = ?`,
		chatID, userName,
	).Scan(&total)
	if err != nil {
		return 0, apperr.Storage("net worth", fmt.Errorf("sum balances: %w", err))
	}
	return total.Float64, nil
}

// LatestNetWorth sums the current balance of each account.
func (s *Store) LatestNetWorth(ctx context.Context, chatID, userName string) (float64, error) {
	balances, err := s.LatestBalances(ctx, chatID, userName)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, b := range balances {
		total += b.Balance
	}
	return total, nil
}

// LatestBalances returns one entry per account_name holding the balance of
// its newest snapshot, ordered by account name.
func (s *Store) LatestBalances(ctx context.Context, chatID, userName string) ([]models.AccountBalance, error) {
	rows, err := s.q.QueryContext(ctx, latestPerAccount, chatID, userName)
	if err != nil {
		return nil, apperr.Storage("latest balances", fmt.Errorf("list latest balances: %w", err))
	}
	defer rows.Close()

	balances := make([]models.AccountBalance, 0)
	for rows.Next() {
		var b models.AccountBalance
		if err := rows.Scan(&b.AccountName, &b.Balance); err != nil {
			return nil, apperr.Storage("latest balances", fmt.Errorf("scan balance: %w", err))
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("latest balances", err)
	}
	return balances, nil
}
