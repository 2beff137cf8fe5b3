package game

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNetWorth(t *testing.T) {
	a := Account{
		CreditsMicros: credits(500),
		Positions: []Position{
			{EntityID: "A", PrincipalMicros: credits(100), AnchorMetric: 10},
			{EntityID: "B", PrincipalMicros: credits(50), AnchorMetric: 10},
		},
	}
	require.Equal(t, credits(500+200+50), NetWorth(a, MetricSnapshot{"A": 20}))
}

func TestNetWorthChange(t *testing.T) {
	series := Series{
		{At: day0, Value: 100},
		{At: day0.AddDate(0, 0, 1), Value: 150},
		{At: day0.AddDate(0, 0, 2), Value: 130},
		{At: day0.AddDate(0, 0, 3), Value: 200},
	}
	tests := []struct {
		name          string
		history       Series
		previousLogin time.Time
		want          int64
	}{
		{name: "checkpoint after previous login", history: series, previousLogin: day0.Add(time.Hour), want: 50},
		{name: "checkpoint exactly at previous login", history: series, previousLogin: day0.AddDate(0, 0, 2), want: 70},
		{name: "login before history starts", history: series, previousLogin: day0.AddDate(0, 0, -5), want: 100},
		{name: "login after every point falls back", history: series, previousLogin: day0.AddDate(0, 0, 9), want: 70},
		{name: "no previous login falls back", history: series, want: 70},
		{name: "single point", history: series[:1], previousLogin: day0, want: 0},
		{name: "empty", want: 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := Account{NetWorthHistory: tc.history, PreviousLogin: tc.previousLogin}
			require.Equal(t, tc.want, NetWorthChange(a))
		})
	}
}

func entityWithHistory(id string, values ...int64) Entity {
	e := Entity{ID: id, Name: "name-" + id}
	for i, v := range values {
		e.History = append(e.History, Point{At: day0.AddDate(0, 0, i), Value: v})
		e.Metric = v
	}
	return e
}

func TestMarketMovers(t *testing.T) {
	entities := []Entity{
		entityWithHistory("g1", 100, 110),
		entityWithHistory("g2", 100, 150),
		entityWithHistory("g3", 100, 120),
		entityWithHistory("g4", 100, 120),
		entityWithHistory("g5", 100, 101),
		entityWithHistory("g6", 100, 130),
		entityWithHistory("g7", 100, 105),
		entityWithHistory("flat", 100, 100),
		entityWithHistory("short", 100),
		entityWithHistory("zero", 0, 500),
		entityWithHistory("l1", 200, 100),
		entityWithHistory("l4", 100, 80),
		entityWithHistory("l2", 100, 90),
		entityWithHistory("l3", 100, 80),
	}

	got := MarketMovers(entities)
	var gainers []string
	for _, m := range got.Gainers {
		gainers = append(gainers, m.EntityID)
	}
	require.Equal(t, []string{"g2", "g6", "g3", "g4", "g1"}, gainers)
	require.InDelta(t, 50.0, got.Gainers[0].ChangePct, 1e-9)
	require.Equal(t, "name-g2", got.Gainers[0].Name)

	var losers []string
	for _, m := range got.Losers {
		losers = append(losers, m.EntityID)
	}
	require.Equal(t, []string{"l1", "l3", "l4", "l2"}, losers)
	require.InDelta(t, -50.0, got.Losers[0].ChangePct, 1e-9)
	require.Equal(t, got.Losers[1].ChangePct, got.Losers[2].ChangePct)
}

func TestMarketMoversEmpty(t *testing.T) {
	got := MarketMovers(nil)
	require.NotNil(t, got.Gainers)
	require.NotNil(t, got.Losers)
	require.Empty(t, got.Gainers)
}

func TestMostTraded(t *testing.T) {
	since := day0
	txs := []Transaction{
		{Kind: TxBuy, EntityID: "old", AmountMicros: credits(9999), At: day0.Add(-time.Minute)},
		{Kind: TxBuy, EntityID: "A", AmountMicros: credits(100), At: day0},
		{Kind: TxSell, EntityID: "A", AmountMicros: credits(50), At: day0.Add(time.Hour)},
		{Kind: TxBuy, EntityID: "C", AmountMicros: credits(150), At: day0.Add(time.Hour)},
		{Kind: TxBuy, EntityID: "B", AmountMicros: credits(200), At: day0.Add(2 * time.Hour)},
	}

	got := MostTraded(txs, since)
	require.Equal(t, []TradedEntity{
		{EntityID: "B", BuysMicros: credits(200)},
		{EntityID: "A", BuysMicros: credits(100), SellsMicros: credits(50)},
		{EntityID: "C", BuysMicros: credits(150)},
	}, got)
}

func TestLeaderboardRanks(t *testing.T) {
	rows := []LeaderboardRow{
		{AccountID: "b", NetWorthMicros: 10},
		{AccountID: "a", NetWorthMicros: 10},
		{AccountID: "c", NetWorthMicros: 30},
	}
	got := Leaderboard(rows, 2)
	require.Equal(t, []LeaderboardRow{
		{Rank: 1, AccountID: "c", NetWorthMicros: 30},
		{Rank: 2, AccountID: "a", NetWorthMicros: 10},
	}, got)
	require.Equal(t, "b", rows[0].AccountID, "input is not reordered")
}

func TestMostTradedKeepsTopFiveAndOrdersTiesByID(t *testing.T) {
	var txs []Transaction
	for _, id := range []string{"e7", "e6", "e5", "e4", "e3", "e2", "e1"} {
		txs = append(txs, Transaction{Kind: TxBuy, EntityID: id, AmountMicros: credits(100), At: day0})
	}
	txs = append(txs,
		Transaction{Kind: TxBuy, EntityID: "e0", AmountMicros: credits(60), At: day0},
		Transaction{Kind: TxSell, EntityID: "e0", AmountMicros: credits(40), At: day0},
		Transaction{Kind: TxBuy, EntityID: "hot", AmountMicros: credits(500), At: day0},
	)

	got := MostTraded(txs, day0)
	require.Len(t, got, 5)
	var ids []string
	for _, e := range got {
		ids = append(ids, e.EntityID)
	}
	require.Equal(t, []string{"hot", "e0", "e1", "e2", "e3"}, ids)
	require.Equal(t, TradedEntity{EntityID: "e0", BuysMicros: credits(60), SellsMicros: credits(40)}, got[1])
}
