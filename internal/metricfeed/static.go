package metricfeed

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"stockify/internal/game"
)

// Static serves metrics from memory. It backs offline runs and tests.
type Static struct {
	mu      sync.RWMutex
	metrics map[string]game.Metric
}

func NewStatic(metrics map[string]game.Metric) *Static {
	s := &Static{metrics: make(map[string]game.Metric, len(metrics))}
	for id, m := range metrics {
		s.metrics[id] = m
	}
	return s
}

// ParseStatic reads a comma separated list of id:followers[:popularity] entries.
func ParseStatic(spec string) (*Static, error) {
	metrics := make(map[string]game.Metric)
	for _, raw := range strings.Split(spec, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, fmt.Errorf("static metric %q: want id:followers[:popularity]", raw)
		}
		id := strings.TrimSpace(parts[0])
		if err := game.ValidateEntityID(id); err != nil {
			return nil, fmt.Errorf("static metric %q: %w", raw, err)
		}
		followers, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || followers < 0 {
			return nil, fmt.Errorf("static metric %q: bad follower count", raw)
		}
		m := game.Metric{Name: id, Value: followers, Popularity: 50}
		if len(parts) == 3 {
			pop, err := strconv.Atoi(strings.TrimSpace(parts[2]))
			if err != nil || pop < 0 || pop > 100 {
				return nil, fmt.Errorf("static metric %q: popularity must be 0..100", raw)
			}
			m.Popularity = pop
		}
		metrics[id] = m
	}
	return NewStatic(metrics), nil
}

func (s *Static) Set(id string, m game.Metric) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[id] = m
}

func (s *Static) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.metrics))
	for id := range s.metrics {
		out = append(out, id)
	}
	return out
}

func (s *Static) FetchMetrics(ctx context.Context, ids []string) (map[string]game.Metric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]game.Metric, len(ids))
	for _, id := range ids {
		if m, ok := s.metrics[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}
