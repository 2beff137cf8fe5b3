package game

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ledger holds the buy/sell accounting policy. Its operations are pure: they return
// the next Account and never touch the one passed in, so a failed call leaves no trace.
type Ledger struct {
	DustMicros    int64
	EpsilonMicros int64
	NewID         func() string
}

func NewLedger() *Ledger {
	return &Ledger{
		DustMicros:    DustMicros,
		EpsilonMicros: SellEpsilonMicros,
		NewID:         uuid.NewString,
	}
}

func (l *Ledger) newID() string {
	if l.NewID == nil {
		return uuid.NewString()
	}
	return l.NewID()
}

// CurrentValue is principal scaled by currentMetric/anchorMetric, rounded half up.
// A zero anchor has no growth reference, so the principal is returned unchanged.
func CurrentValue(p Position, currentMetric int64) int64 {
	if p.AnchorMetric <= 0 {
		return p.PrincipalMicros
	}
	if currentMetric < 0 {
		currentMetric = 0
	}
	return mulDivRound(p.PrincipalMicros, currentMetric, p.AnchorMetric)
}

// mulDivRound computes round(a*b/c) without intermediate overflow, saturating at MaxInt64.
func mulDivRound(a, b, c int64) int64 {
	v := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	q, r := new(big.Int).QuoRem(v, big.NewInt(c), new(big.Int))
	if new(big.Int).Lsh(r.Abs(r), 1).Cmp(big.NewInt(c)) >= 0 {
		if v.Sign() >= 0 {
			q.Add(q, big.NewInt(1))
		} else {
			q.Sub(q, big.NewInt(1))
		}
	}
	if !q.IsInt64() {
		return math.MaxInt64
	}
	return q.Int64()
}

// HoldingFor aggregates every position the account holds in entityID.
func HoldingFor(a Account, entityID string, currentMetric int64) Holding {
	h := Holding{EntityID: entityID}
	for _, p := range a.Positions {
		if p.EntityID != entityID {
			continue
		}
		h.Positions++
		h.TotalPrincipalMicros += p.PrincipalMicros
		h.CurrentValueMicros += CurrentValue(p, currentMetric)
	}
	h.ProfitMicros = h.CurrentValueMicros - h.TotalPrincipalMicros
	return h
}

// HoldingsSnapshot returns one Holding per held entity, ordered by entity id.
// Entities missing from metrics are valued at principal.
func HoldingsSnapshot(a Account, metrics MetricSnapshot) []Holding {
	seen := make(map[string]struct{})
	var ids []string
	for _, p := range a.Positions {
		if _, ok := seen[p.EntityID]; ok {
			continue
		}
		seen[p.EntityID] = struct{}{}
		ids = append(ids, p.EntityID)
	}
	sort.Strings(ids)

	out := make([]Holding, 0, len(ids))
	for _, id := range ids {
		metric, ok := metrics[id]
		if !ok {
			h := Holding{EntityID: id}
			for _, p := range a.Positions {
				if p.EntityID == id {
					h.Positions++
					h.TotalPrincipalMicros += p.PrincipalMicros
				}
			}
			h.CurrentValueMicros = h.TotalPrincipalMicros
			out = append(out, h)
			continue
		}
		out = append(out, HoldingFor(a, id, metric))
	}
	return out
}

// positionStateOf classifies a position against the principal it had before a sell.
func positionStateOf(p Position, openedPrincipal int64, dust int64) PositionState {
	switch {
	case p.PrincipalMicros < dust:
		return PositionClosed
	case p.PrincipalMicros < openedPrincipal:
		return PositionPartiallyLiquidated
	default:
		return PositionOpen
	}
}

// Invest debits amount from the account and opens a position anchored at currentMetric.
func (l *Ledger) Invest(a Account, entityID string, amount, currentMetric int64, at time.Time) (Account, Position, Transaction, error) {
	entityID = strings.TrimSpace(entityID)
	if err := ValidateEntityID(entityID); err != nil {
		return a, Position{}, Transaction{}, err
	}
	if amount <= 0 {
		return a, Position{}, Transaction{}, fmt.Errorf("%w: must be > 0", ErrInvalidAmount)
	}
	if currentMetric < 0 {
		return a, Position{}, Transaction{}, fmt.Errorf("%w: %s metric is negative", ErrMetricUnavailable, entityID)
	}
	if amount > a.CreditsMicros {
		return a, Position{}, Transaction{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientCredits, FormatCredits(a.CreditsMicros), FormatCredits(amount))
	}

	pos := Position{
		ID:              l.newID(),
		EntityID:        entityID,
		PrincipalMicros: amount,
		AnchorMetric:    currentMetric,
		OpenedAt:        at,
	}
	tx := Transaction{
		ID:           l.newID(),
		Kind:         TxBuy,
		EntityID:     entityID,
		AmountMicros: amount,
		At:           at,
		PositionID:   pos.ID,
	}

	next := cloneAccount(a)
	next.CreditsMicros -= amount
	next.Positions = append(next.Positions, pos)
	next.Transactions = AppendTransaction(next.Transactions, tx)
	return next, pos, tx, nil
}

// Sell liquidates amount worth of the account's holding in entityID. Every position
// in the entity is scaled by the same retained fraction; positions left under the
// dust threshold are closed. A request within epsilon of the full value closes the
// whole holding and pays out exactly its value.
func (l *Ledger) Sell(a Account, entityID string, amount, currentMetric int64, at time.Time) (Account, SellResult, Transaction, error) {
	var res SellResult
	entityID = strings.TrimSpace(entityID)
	if amount < l.EpsilonMicros || amount <= 0 {
		return a, res, Transaction{}, fmt.Errorf("%w: must be at least %s", ErrInvalidAmount, FormatCredits(max(l.EpsilonMicros, 1)))
	}

	h := HoldingFor(a, entityID, currentMetric)
	if h.Positions == 0 {
		return a, res, Transaction{}, fmt.Errorf("%w: no open positions in %s", ErrInsufficientHoldings, entityID)
	}
	value := h.CurrentValueMicros
	if amount > value+l.EpsilonMicros {
		return a, res, Transaction{}, fmt.Errorf("%w: holding worth %s, asked %s", ErrInsufficientHoldings, FormatCredits(value), FormatCredits(amount))
	}

	next := cloneAccount(a)
	kept := make([]Position, 0, len(next.Positions))
	if amount >= value-l.EpsilonMicros {
		for _, p := range next.Positions {
			if p.EntityID == entityID {
				res.Closed++
				continue
			}
			kept = append(kept, p)
		}
		res.CreditedMicros = value
		res.FullyClosed = true
	} else {
		retained := value - amount
		for _, p := range next.Positions {
			if p.EntityID != entityID {
				kept = append(kept, p)
				continue
			}
			before := p.PrincipalMicros
			p.PrincipalMicros = mulDivRound(p.PrincipalMicros, retained, value)
			if positionStateOf(p, before, l.DustMicros) == PositionClosed {
				res.Closed++
				continue
			}
			kept = append(kept, p)
		}
		res.CreditedMicros = amount
		res.FullyClosed = res.Closed == h.Positions
	}

	tx := Transaction{
		ID:           l.newID(),
		Kind:         TxSell,
		EntityID:     entityID,
		AmountMicros: res.CreditedMicros,
		At:           at,
	}
	next.Positions = kept
	next.CreditsMicros += res.CreditedMicros
	next.Transactions = AppendTransaction(next.Transactions, tx)
	return next, res, tx, nil
}

func cloneAccount(a Account) Account {
	out := a
	out.Positions = append([]Position(nil), a.Positions...)
	out.Transactions = append([]Transaction(nil), a.Transactions...)
	out.NetWorthHistory = append(Series(nil), a.NetWorthHistory...)
	return out
}
