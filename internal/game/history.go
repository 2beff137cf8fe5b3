package game

import (
	"strings"
	"time"
)

// Point is one bucketed observation in a Series.
type Point struct {
	At    time.Time `json:"at"`
	Value int64     `json:"value"`
}

// Series is an ordered, capacity-bounded sequence of points.
type Series []Point

func (s Series) Latest() (Point, bool) {
	if len(s) == 0 {
		return Point{}, false
	}
	return s[len(s)-1], true
}

type Granularity string

const (
	BucketNone   Granularity = "none"
	BucketMinute Granularity = "minute"
	BucketHour   Granularity = "hour"
	BucketDay    Granularity = "day"
)

func ParseGranularity(s string) Granularity {
	switch Granularity(strings.ToLower(strings.TrimSpace(s))) {
	case BucketNone:
		return BucketNone
	case BucketMinute:
		return BucketMinute
	case BucketHour:
		return BucketHour
	default:
		return BucketDay
	}
}

// bucket returns the start of the bucket t falls in. Day buckets are UTC calendar days.
func (g Granularity) bucket(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case BucketNone:
		return t
	case BucketMinute:
		return t.Truncate(time.Minute)
	case BucketHour:
		return t.Truncate(time.Hour)
	default:
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
}

// HistoryWindow appends into a Series under a bucket and capacity policy.
// It knows nothing about what the values mean.
type HistoryWindow struct {
	capacity    int
	granularity Granularity
}

func NewHistoryWindow(capacity int, g Granularity) HistoryWindow {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	if g == "" {
		g = BucketDay
	}
	return HistoryWindow{capacity: capacity, granularity: g}
}

func (w HistoryWindow) Capacity() int { return w.capacity }

// Append returns the series with p added. A point in the same bucket as the last
// point replaces it; a point from an earlier bucket is ignored. The oldest points
// are evicted until the series fits the capacity. The input slice is never modified.
func (w HistoryWindow) Append(s Series, p Point) Series {
	out := make(Series, len(s), len(s)+1)
	copy(out, s)

	if last, ok := out.Latest(); ok {
		lastBucket := w.granularity.bucket(last.At)
		nextBucket := w.granularity.bucket(p.At)
		switch {
		case nextBucket.Equal(lastBucket):
			if p.At.Before(last.At) {
				p.At = last.At
			}
			out[len(out)-1] = p
			return w.Trim(out)
		case nextBucket.Before(lastBucket):
			return w.Trim(out)
		}
	}

	out = append(out, p)
	return w.Trim(out)
}

// Trim evicts from the front until len(s) <= capacity.
func (w HistoryWindow) Trim(s Series) Series {
	if len(s) <= w.capacity {
		return s
	}
	return append(Series(nil), s[len(s)-w.capacity:]...)
}
