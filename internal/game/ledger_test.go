package game

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func credits(v int64) int64 { return v * MicrosPerCredit }

func testLedger() *Ledger {
	l := NewLedger()
	n := 0
	l.NewID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return l
}

func holdingValue(a Account, entityID string, metric int64) int64 {
	return HoldingFor(a, entityID, metric).CurrentValueMicros
}

func TestCurrentValue(t *testing.T) {
	tests := []struct {
		name   string
		pos    Position
		metric int64
		want   int64
	}{
		{name: "growth", pos: Position{PrincipalMicros: credits(1000), AnchorMetric: 1_000_000}, metric: 1_100_000, want: credits(1100)},
		{name: "unchanged", pos: Position{PrincipalMicros: credits(250), AnchorMetric: 500}, metric: 500, want: credits(250)},
		{name: "zero anchor returns principal", pos: Position{PrincipalMicros: credits(40), AnchorMetric: 0}, metric: 9_999, want: credits(40)},
		{name: "rounds half up", pos: Position{PrincipalMicros: 1, AnchorMetric: 2}, metric: 3, want: 2},
		{name: "large values do not overflow", pos: Position{PrincipalMicros: credits(1_000_000), AnchorMetric: 100_000_000}, metric: 300_000_000, want: credits(3_000_000)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, CurrentValue(tc.pos, tc.metric))
		})
	}
}

func TestScenarioPartialSellAfterGrowth(t *testing.T) {
	l := testLedger()
	a := Account{ID: "acct", CreditsMicros: credits(10_000)}

	a, pos, _, err := l.Invest(a, "artist", credits(1000), 1_000_000, day0)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), pos.AnchorMetric)
	require.Equal(t, credits(9000), a.CreditsMicros)

	require.Equal(t, credits(1100), holdingValue(a, "artist", 1_100_000))

	a, res, tx, err := l.Sell(a, "artist", credits(550), 1_100_000, day0)
	require.NoError(t, err)
	require.Equal(t, credits(550), res.CreditedMicros)
	require.False(t, res.FullyClosed)
	require.Len(t, a.Positions, 1)
	require.Equal(t, credits(500), a.Positions[0].PrincipalMicros)
	require.Equal(t, credits(9550), a.CreditsMicros)
	require.Equal(t, TxSell, tx.Kind)
	require.Equal(t, credits(550), tx.AmountMicros)
	require.Len(t, a.Transactions, 2)
}

func TestScenarioInvestAllThenInsufficient(t *testing.T) {
	l := testLedger()
	a := Account{ID: "acct", CreditsMicros: credits(10_000)}

	a, _, _, err := l.Invest(a, "A", credits(10_000), 500, day0)
	require.NoError(t, err)
	require.Zero(t, a.CreditsMicros)

	_, _, _, err = l.Invest(a, "A", credits(1), 500, day0)
	require.True(t, errors.Is(err, ErrInsufficientCredits), "got %v", err)
}

func TestInvestValidation(t *testing.T) {
	l := testLedger()
	a := Account{ID: "acct", CreditsMicros: credits(100)}
	tests := []struct {
		name   string
		entity string
		amount int64
		want   error
	}{
		{name: "zero", entity: "A", amount: 0, want: ErrInvalidAmount},
		{name: "negative", entity: "A", amount: -5, want: ErrInvalidAmount},
		{name: "over credits", entity: "A", amount: credits(101), want: ErrInsufficientCredits},
		{name: "bad entity", entity: "a b", amount: credits(1), want: ErrInvalidEntityID},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, _, _, err := l.Invest(a, tc.entity, tc.amount, 1000, day0)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
			require.Equal(t, a, next)
		})
	}
}

func TestRoundTripReturnsCredits(t *testing.T) {
	l := testLedger()
	start := Account{ID: "acct", CreditsMicros: credits(5000)}
	a, _, _, err := l.Invest(start, "A", 1_234_567_891, 777_777, day0)
	require.NoError(t, err)

	a, res, _, err := l.Sell(a, "A", holdingValue(a, "A", 777_777), 777_777, day0)
	require.NoError(t, err)
	require.True(t, res.FullyClosed)
	require.Empty(t, a.Positions)
	require.InDelta(t, start.CreditsMicros, a.CreditsMicros, float64(SellEpsilonMicros))
}

func TestSellNearFullClampsToFullLiquidation(t *testing.T) {
	l := testLedger()
	a := Account{ID: "acct", CreditsMicros: credits(1000)}
	a, _, _, _ = l.Invest(a, "A", credits(300), 1000, day0)
	a, _, _, _ = l.Invest(a, "A", credits(200), 1250, day0)
	a, _, _, _ = l.Invest(a, "B", credits(100), 10, day0)

	value := holdingValue(a, "A", 1500)
	tests := []struct {
		name   string
		amount int64
	}{
		{name: "exact", amount: value},
		{name: "slightly under", amount: value - SellEpsilonMicros/2},
		{name: "slightly over", amount: value + SellEpsilonMicros},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, res, tx, err := l.Sell(a, "A", tc.amount, 1500, day0)
			require.NoError(t, err)
			require.True(t, res.FullyClosed)
			require.Equal(t, 2, res.Closed)
			require.Equal(t, value, res.CreditedMicros)
			require.Equal(t, value, tx.AmountMicros)
			require.Equal(t, a.CreditsMicros+value, next.CreditsMicros)
			require.Len(t, next.Positions, 1)
			require.Equal(t, "B", next.Positions[0].EntityID)
		})
	}
}

func TestSellConservesValue(t *testing.T) {
	l := testLedger()
	a := Account{ID: "acct", CreditsMicros: credits(10_000)}
	a, _, _, _ = l.Invest(a, "A", credits(1000), 1_000_000, day0)
	a, _, _, _ = l.Invest(a, "A", credits(500), 1_200_000, day0)
	a, _, _, _ = l.Invest(a, "A", credits(37), 1_350_000, day0)
	const metric = 1_500_000

	before := holdingValue(a, "A", metric)
	for _, frac := range []float64{0.01, 0.1, 0.33, 0.5, 0.9} {
		amount := int64(float64(before) * frac)
		t.Run(fmt.Sprintf("%.2f", frac), func(t *testing.T) {
			next, res, _, err := l.Sell(a, "A", amount, metric, day0)
			require.NoError(t, err)
			after := holdingValue(next, "A", metric)
			require.InDelta(t, before, after+res.CreditedMicros, float64(SellEpsilonMicros))
			require.Equal(t, a.CreditsMicros+amount, next.CreditsMicros)
			for _, p := range next.Positions {
				require.GreaterOrEqual(t, p.PrincipalMicros, DustMicros)
			}
		})
	}
}

func TestSellScalesEveryPositionProRata(t *testing.T) {
	l := testLedger()
	a := Account{ID: "acct", CreditsMicros: credits(10_000)}
	a, _, _, _ = l.Invest(a, "A", credits(1000), 100, day0)
	a, _, _, _ = l.Invest(a, "A", credits(3000), 100, day0)

	next, _, _, err := l.Sell(a, "A", credits(1000), 100, day0)
	require.NoError(t, err)
	require.Len(t, next.Positions, 2)
	require.Equal(t, credits(750), next.Positions[0].PrincipalMicros)
	require.Equal(t, credits(2250), next.Positions[1].PrincipalMicros)
	require.Equal(t, PositionPartiallyLiquidated, positionStateOf(next.Positions[0], credits(1000), DustMicros))
}

func TestSellDropsDustPositions(t *testing.T) {
	l := testLedger()
	a := Account{ID: "acct", CreditsMicros: credits(10_000)}
	a, _, _, _ = l.Invest(a, "A", credits(1000), 100, day0)
	a, _, _, _ = l.Invest(a, "A", 1_500_000, 100, day0)

	value := holdingValue(a, "A", 100)
	next, res, _, err := l.Sell(a, "A", value/2, 100, day0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Closed)
	require.False(t, res.FullyClosed)
	require.Len(t, next.Positions, 1)
	require.Equal(t, credits(500), next.Positions[0].PrincipalMicros)
	require.Equal(t, value/2, res.CreditedMicros)
}

func TestSellWithZeroAnchorUsesPrincipal(t *testing.T) {
	l := testLedger()
	a := Account{ID: "acct", CreditsMicros: credits(100)}
	a, _, _, err := l.Invest(a, "A", credits(100), 0, day0)
	require.NoError(t, err)

	next, res, _, err := l.Sell(a, "A", credits(40), 5_000, day0)
	require.NoError(t, err)
	require.Equal(t, credits(40), res.CreditedMicros)
	require.Equal(t, credits(60), next.Positions[0].PrincipalMicros)
}

func TestSellValidation(t *testing.T) {
	l := testLedger()
	a := Account{ID: "acct", CreditsMicros: credits(1000)}
	a, _, _, _ = l.Invest(a, "A", credits(100), 1000, day0)

	tests := []struct {
		name   string
		entity string
		amount int64
		want   error
	}{
		{name: "zero", entity: "A", amount: 0, want: ErrInvalidAmount},
		{name: "negative", entity: "A", amount: -1, want: ErrInvalidAmount},
		{name: "below epsilon", entity: "A", amount: SellEpsilonMicros - 1, want: ErrInvalidAmount},
		{name: "beyond value", entity: "A", amount: credits(100) + 2*SellEpsilonMicros, want: ErrInsufficientHoldings},
		{name: "no positions", entity: "B", amount: credits(1), want: ErrInsufficientHoldings},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, _, _, err := l.Sell(a, tc.entity, tc.amount, 1000, day0)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
			require.Equal(t, a, next)
		})
	}
}

func TestLedgerDoesNotMutateInput(t *testing.T) {
	l := testLedger()
	a := Account{ID: "acct", CreditsMicros: credits(1000)}
	a, _, _, _ = l.Invest(a, "A", credits(400), 1000, day0)
	snapshot := cloneAccount(a)

	_, _, _, err := l.Sell(a, "A", credits(100), 2000, day0)
	require.NoError(t, err)
	_, _, _, err = l.Invest(a, "B", credits(50), 10, day0)
	require.NoError(t, err)
	require.Equal(t, snapshot, a)
}

func TestHoldingsSnapshot(t *testing.T) {
	l := testLedger()
	a := Account{ID: "acct", CreditsMicros: credits(1000)}
	a, _, _, _ = l.Invest(a, "B", credits(100), 100, day0)
	a, _, _, _ = l.Invest(a, "A", credits(200), 100, day0)
	a, _, _, _ = l.Invest(a, "A", credits(100), 200, day0)

	got := HoldingsSnapshot(a, MetricSnapshot{"A": 400})
	require.Equal(t, []Holding{
		{EntityID: "A", Positions: 2, TotalPrincipalMicros: credits(300), CurrentValueMicros: credits(1000), ProfitMicros: credits(700)},
		{EntityID: "B", Positions: 1, TotalPrincipalMicros: credits(100), CurrentValueMicros: credits(100)},
	}, got)
}
