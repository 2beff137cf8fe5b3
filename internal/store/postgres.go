package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"stockify/internal/game"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres keeps one row per account and per entity. Positions, transactions and
// series are stored as JSONB next to the scalar columns used for ranking.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) LoadAccount(ctx context.Context, accountID string) (*game.Account, error) {
	var (
		a                        game.Account
		positions, txs, history  []byte
		lastLogin, previousLogin *time.Time
	)
	err := p.db.QueryRow(ctx, `
		SELECT id, username, credits_micros, positions, transactions, net_worth_history,
		       created_at, last_login, previous_login
		FROM stockify.accounts
		WHERE id = $1
	`, accountID).Scan(&a.ID, &a.Username, &a.CreditsMicros, &positions, &txs, &history,
		&a.CreatedAt, &lastLogin, &previousLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	if err := unmarshalColumns(map[string]columnTarget{
		"positions":         {raw: positions, out: &a.Positions},
		"transactions":      {raw: txs, out: &a.Transactions},
		"net_worth_history": {raw: history, out: &a.NetWorthHistory},
	}); err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	if lastLogin != nil {
		a.LastLogin = lastLogin.UTC()
	}
	if previousLogin != nil {
		a.PreviousLogin = previousLogin.UTC()
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

func (p *Postgres) SaveAccount(ctx context.Context, a game.Account) error {
	positions, err := marshalList(a.Positions)
	if err != nil {
		return err
	}
	txs, err := marshalList(a.Transactions)
	if err != nil {
		return err
	}
	history, err := marshalList(a.NetWorthHistory)
	if err != nil {
		return err
	}
	var netWorth int64
	if last, ok := a.NetWorthHistory.Latest(); ok {
		netWorth = last.Value
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO stockify.accounts (
			id, username, credits_micros, net_worth_micros, positions, transactions,
			net_worth_history, created_at, last_login, previous_login, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			credits_micros = EXCLUDED.credits_micros,
			net_worth_micros = EXCLUDED.net_worth_micros,
			positions = EXCLUDED.positions,
			transactions = EXCLUDED.transactions,
			net_worth_history = EXCLUDED.net_worth_history,
			last_login = EXCLUDED.last_login,
			previous_login = EXCLUDED.previous_login,
			updated_at = now()
	`, a.ID, a.Username, a.CreditsMicros, netWorth, positions, txs, history,
		a.CreatedAt, nullableTime(a.LastLogin), nullableTime(a.PreviousLogin))
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.ID, err)
	}
	return nil
}

func (p *Postgres) LoadMarket(ctx context.Context) ([]game.Entity, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, name, image_url, metric, popularity, history, fetched_at
		FROM stockify.entities
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("load market: %w", err)
	}
	defer rows.Close()

	var out []game.Entity
	for rows.Next() {
		var (
			e         game.Entity
			history   []byte
			fetchedAt *time.Time
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.ImageURL, &e.Metric, &e.Popularity, &history, &fetchedAt); err != nil {
			return nil, fmt.Errorf("load market: %w", err)
		}
		if len(history) > 0 {
			if err := json.Unmarshal(history, &e.History); err != nil {
				return nil, fmt.Errorf("load market: entity %s history: %w", e.ID, err)
			}
		}
		if fetchedAt != nil {
			e.FetchedAt = fetchedAt.UTC()
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load market: %w", err)
	}
	return out, nil
}

// SaveMarket upserts every entity in one transaction so readers never see a half
// written tick.
func (p *Postgres) SaveMarket(ctx context.Context, entities []game.Entity) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("save market: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range entities {
		history, err := marshalList(e.History)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO stockify.entities (id, name, image_url, metric, popularity, history, fetched_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				image_url = EXCLUDED.image_url,
				metric = EXCLUDED.metric,
				popularity = EXCLUDED.popularity,
				history = EXCLUDED.history,
				fetched_at = EXCLUDED.fetched_at,
				updated_at = now()
		`, e.ID, e.Name, e.ImageURL, e.Metric, e.Popularity, history, nullableTime(e.FetchedAt))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save market: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save market: %w", err)
	}
	return nil
}

func (p *Postgres) Leaderboard(ctx context.Context, limit int) ([]game.LeaderboardRow, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, username, net_worth_micros
		FROM stockify.accounts
		ORDER BY net_worth_micros DESC, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	out := make([]game.LeaderboardRow, 0, limit)
	for rows.Next() {
		var r game.LeaderboardRow
		if err := rows.Scan(&r.AccountID, &r.Username, &r.NetWorthMicros); err != nil {
			return nil, fmt.Errorf("leaderboard: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	return out, nil
}

type columnTarget struct {
	raw []byte
	out any
}

func unmarshalColumns(cols map[string]columnTarget) error {
	for name, c := range cols {
		if len(c.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(c.raw, c.out); err != nil {
			return fmt.Errorf("decode %s: %w", name, err)
		}
	}
	return nil
}

// marshalList encodes a nil slice as an empty JSON array to satisfy the NOT NULL columns.
func marshalList[T any](v []T) ([]byte, error) {
	if v == nil {
		v = []T{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return raw, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
