package game

import (
	"sort"
	"time"
)

const TopN = 5

// NetWorth is credits plus the current value of every holding under snapshot.
func NetWorth(a Account, snapshot MetricSnapshot) int64 {
	total := a.CreditsMicros
	for _, h := range HoldingsSnapshot(a, snapshot) {
		total += h.CurrentValueMicros
	}
	return total
}

// NetWorthChange is the latest net worth minus the checkpoint: the first point at or
// after the previous login, else the second-to-last point.
func NetWorthChange(a Account) int64 {
	s := a.NetWorthHistory
	if len(s) < 2 {
		return 0
	}
	latest := s[len(s)-1]
	checkpoint := s[len(s)-2]
	if !a.PreviousLogin.IsZero() {
		for _, p := range s {
			if !p.At.Before(a.PreviousLogin) {
				checkpoint = p
				break
			}
		}
	}
	return latest.Value - checkpoint.Value
}

// MarketMovers ranks entities by percentage change across their history window.
func MarketMovers(entities []Entity) Movers {
	var gainers, losers []Mover
	for _, e := range entities {
		if len(e.History) < 2 {
			continue
		}
		first := e.History[0].Value
		last := e.History[len(e.History)-1].Value
		if first == 0 {
			continue
		}
		m := Mover{
			EntityID:  e.ID,
			Name:      e.Name,
			Metric:    e.Metric,
			ChangePct: float64(last-first) / float64(first) * 100,
		}
		switch {
		case m.ChangePct > 0:
			gainers = append(gainers, m)
		case m.ChangePct < 0:
			losers = append(losers, m)
		}
	}
	sort.SliceStable(gainers, func(i, j int) bool {
		if gainers[i].ChangePct != gainers[j].ChangePct {
			return gainers[i].ChangePct > gainers[j].ChangePct
		}
		return gainers[i].EntityID < gainers[j].EntityID
	})
	sort.SliceStable(losers, func(i, j int) bool {
		if losers[i].ChangePct != losers[j].ChangePct {
			return losers[i].ChangePct < losers[j].ChangePct
		}
		return losers[i].EntityID < losers[j].EntityID
	})
	return Movers{Gainers: topN(gainers), Losers: topN(losers)}
}

// MostTraded groups transactions at or after since by entity and ranks by volume.
func MostTraded(txs []Transaction, since time.Time) []TradedEntity {
	byEntity := make(map[string]*TradedEntity)
	for _, tx := range TransactionsSince(txs, since) {
		t, ok := byEntity[tx.EntityID]
		if !ok {
			t = &TradedEntity{EntityID: tx.EntityID}
			byEntity[tx.EntityID] = t
		}
		switch tx.Kind {
		case TxBuy:
			t.BuysMicros += tx.AmountMicros
		case TxSell:
			t.SellsMicros += tx.AmountMicros
		}
	}
	out := make([]TradedEntity, 0, len(byEntity))
	for _, t := range byEntity {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		vi := out[i].BuysMicros + out[i].SellsMicros
		vj := out[j].BuysMicros + out[j].SellsMicros
		if vi != vj {
			return vi > vj
		}
		return out[i].EntityID < out[j].EntityID
	})
	return topN(out)
}

// Leaderboard ranks rows by net worth, highest first, and assigns ranks from 1.
func Leaderboard(rows []LeaderboardRow, limit int) []LeaderboardRow {
	out := append([]LeaderboardRow(nil), rows...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].NetWorthMicros != out[j].NetWorthMicros {
			return out[i].NetWorthMicros > out[j].NetWorthMicros
		}
		return out[i].AccountID < out[j].AccountID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Rank = int64(i + 1)
	}
	return out
}

func topN[T any](in []T) []T {
	if len(in) > TopN {
		in = in[:TopN]
	}
	if in == nil {
		return []T{}
	}
	return in
}
