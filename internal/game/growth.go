package game

import (
	"fmt"
	"math"
	"time"
)

// RandSource is the uniform [0,1) source the growth model draws from.
// *math/rand.Rand satisfies it; seed it to make ticks reproducible.
type RandSource interface {
	Float64() float64
}

type GrowthModel struct {
	MinRate             float64
	MaxRate             float64
	PopularityInfluence float64
	// StaleAfter bounds how old an entity's last upstream fetch may be. Zero disables the check.
	StaleAfter time.Duration
}

func DefaultGrowthModel() GrowthModel {
	return GrowthModel{
		MinRate:             0.0001,
		MaxRate:             0.001,
		PopularityInfluence: 0.0005,
	}
}

// GrowthSimulator advances entity metrics one tick at a time.
type GrowthSimulator struct {
	model   GrowthModel
	history HistoryWindow
}

func NewGrowthSimulator(model GrowthModel, history HistoryWindow) *GrowthSimulator {
	return &GrowthSimulator{model: model, history: history}
}

// Available reports whether e has the inputs a tick needs at time at.
func (g *GrowthSimulator) Available(e Entity, at time.Time) error {
	if e.FetchedAt.IsZero() || e.Metric <= 0 {
		return fmt.Errorf("%w: %s not fetched yet", ErrMetricUnavailable, e.ID)
	}
	if e.Popularity < 0 || e.Popularity > 100 {
		return fmt.Errorf("%w: %s popularity %d out of range", ErrMetricUnavailable, e.ID, e.Popularity)
	}
	if g.model.StaleAfter > 0 && at.Sub(e.FetchedAt) > g.model.StaleAfter {
		return fmt.Errorf("%w: %s last fetched %s", ErrMetricUnavailable, e.ID, e.FetchedAt.Format(time.RFC3339))
	}
	return nil
}

// Rate draws the total per-period growth rate for e. Never negative.
func (g *GrowthSimulator) Rate(e Entity, rng RandSource) float64 {
	lo, hi := g.model.MinRate, g.model.MaxRate
	if hi < lo {
		lo, hi = hi, lo
	}
	rate := lo + (hi-lo)*rng.Float64()
	bonus := (float64(e.Popularity) / 100) * g.model.PopularityInfluence
	total := rate + bonus
	if total < 0 {
		return 0
	}
	return total
}

// Tick computes e's next state after elapsedPeriods and appends the new point to its
// history. The metric never decreases. e is not modified.
func (g *GrowthSimulator) Tick(e Entity, at time.Time, elapsedPeriods float64, rng RandSource) (Entity, Point, error) {
	if err := g.Available(e, at); err != nil {
		return e, Point{}, err
	}
	if elapsedPeriods < 0 || math.IsNaN(elapsedPeriods) || math.IsInf(elapsedPeriods, 0) {
		return e, Point{}, fmt.Errorf("elapsed periods must be a finite value >= 0, got %v", elapsedPeriods)
	}

	growth := math.Floor(float64(e.Metric) * g.Rate(e, rng) * elapsedPeriods)
	next := e.Metric
	if growth > 0 {
		if growth >= float64(math.MaxInt64-e.Metric) {
			next = math.MaxInt64
		} else {
			next = e.Metric + int64(growth)
		}
	}

	p := Point{At: at, Value: next}
	out := e
	out.Metric = next
	out.History = g.history.Append(e.History, p)
	return out, p, nil
}
