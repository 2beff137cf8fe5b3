package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stockify/internal/game"

	"github.com/stretchr/testify/require"
)

var _ game.Store = (*File)(nil)
var _ game.Store = (*Postgres)(nil)

func TestFileStoreAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFile(t.TempDir())
	require.NoError(t, err)

	missing, err := fs.LoadAccount(ctx, "nobody")
	require.NoError(t, err)
	require.Nil(t, missing)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	acct := game.Account{
		ID:            "user/with spaces",
		Username:      "mira",
		CreditsMicros: 9_000_000_000,
		Positions: []game.Position{
			{ID: "p1", EntityID: "A", PrincipalMicros: 1_000_000_000, AnchorMetric: 1_000_000, OpenedAt: at},
		},
		Transactions: []game.Transaction{
			{ID: "t1", Kind: game.TxBuy, EntityID: "A", AmountMicros: 1_000_000_000, At: at},
		},
		NetWorthHistory: game.Series{{At: at, Value: 10_000_000_000}},
		CreatedAt:       at,
		LastLogin:       at,
		PreviousLogin:   at,
	}
	require.NoError(t, fs.SaveAccount(ctx, acct))

	got, err := fs.LoadAccount(ctx, acct.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, acct, *got)
}

func TestFileStoreMarketRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, err := NewFile(dir)
	require.NoError(t, err)

	empty, err := fs.LoadMarket(ctx)
	require.NoError(t, err)
	require.Empty(t, empty)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	market := []game.Entity{
		{ID: "A", Name: "Artist A", Metric: 1000, Popularity: 40, FetchedAt: at, History: game.Series{{At: at, Value: 1000}}},
		{ID: "B", Name: "Artist B", Metric: 50, Popularity: 90, FetchedAt: at},
	}
	require.NoError(t, fs.SaveMarket(ctx, market))

	got, err := fs.LoadMarket(ctx)
	require.NoError(t, err)
	require.Equal(t, market, got)

	_, err = os.Stat(filepath.Join(dir, "market.json.tmp"))
	require.True(t, os.IsNotExist(err), "temp file is renamed into place")
}

func TestFileStoreLeaderboard(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFile(t.TempDir())
	require.NoError(t, err)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fs.SaveAccount(ctx, game.Account{ID: "low", Username: "low", CreditsMicros: 5, NetWorthHistory: game.Series{{At: at, Value: 100}}}))
	require.NoError(t, fs.SaveAccount(ctx, game.Account{ID: "high", Username: "high", CreditsMicros: 5, NetWorthHistory: game.Series{{At: at, Value: 900}}}))
	require.NoError(t, fs.SaveAccount(ctx, game.Account{ID: "fresh", Username: "fresh", CreditsMicros: 300}))

	rows, err := fs.Leaderboard(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []game.LeaderboardRow{
		{Rank: 1, AccountID: "high", Username: "high", NetWorthMicros: 900},
		{Rank: 2, AccountID: "fresh", Username: "fresh", NetWorthMicros: 300},
	}, rows)
}

func TestFileStoreCorruptAccount(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFile(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(fs.accountPath("x"), []byte("{not json"), 0o644))

	_, err = fs.LoadAccount(ctx, "x")
	require.Error(t, err)
}
