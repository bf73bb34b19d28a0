// Package report aggregates persisted entities into per-day queue
// summaries.
package report

import (
	"context"
	"sort"
	"time"

	"queuewatch/internal/reconciler"
)

// Summary describes one partition on one reference day.
type Summary struct {
	PartitionKey string `json:"partition" yaml:"partition"`
	Day          string `json:"day" yaml:"day"`

	Waiting   int `json:"waiting" yaml:"waiting"`
	InService int `json:"in_service" yaml:"in_service"`
	Finalized int `json:"finalized" yaml:"finalized"`
	Total     int `json:"total" yaml:"total"`

	// TimedOut counts entities finalized by the sweep rather than by an
	// observed absence.
	TimedOut int `json:"timed_out" yaml:"timed_out"`

	// AvgWaitMinutes is the mean of FinalizedAt - FirstSeenAt over the
	// finalized entities. Zero when none finalized.
	AvgWaitMinutes float64 `json:"avg_wait_minutes" yaml:"avg_wait_minutes"`

	// LongestWaitingMinutes is the age of the oldest active entity at the
	// time the report was built.
	LongestWaitingMinutes float64 `json:"longest_waiting_minutes" yaml:"longest_waiting_minutes"`
}

// Source lists the entities of a reference day.
type Source interface {
	EntitiesForDay(ctx context.Context, partitionKey, day string) ([]reconciler.Entity, error)
}

// ForDay loads the entities of day (optionally limited to one partition)
// and summarizes them as of now.
func ForDay(ctx context.Context, src Source, partitionKey, day string, now time.Time) ([]Summary, error) {
	entities, err := src.EntitiesForDay(ctx, partitionKey, day)
	if err != nil {
		return nil, err
	}
	return Summarize(entities, now), nil
}

// Summarize groups entities by partition and reference day. The result is
// sorted by day, then partition.
func Summarize(entities []reconciler.Entity, now time.Time) []Summary {
	type key struct{ partition, day string }

	var (
		groups = make(map[key]*Summary)
		waits  = make(map[key]time.Duration)
	)

	for _, e := range entities {
		k := key{e.PartitionKey, e.ReferenceDay}
		s, ok := groups[k]
		if !ok {
			s = &Summary{PartitionKey: e.PartitionKey, Day: e.ReferenceDay}
			groups[k] = s
		}
		s.Total++

		switch e.Status {
		case reconciler.StatusFinalized:
			s.Finalized++
			if e.FinalizeReason == reconciler.ReasonTimeout {
				s.TimedOut++
			}
			if exit, ok := exitTime(e); ok {
				waits[k] += exit.Sub(e.FirstSeenAt)
			}
			continue
		case reconciler.StatusInService:
			s.InService++
		default:
			s.Waiting++
		}

		if age := now.Sub(e.FirstSeenAt).Minutes(); age > s.LongestWaitingMinutes {
			s.LongestWaitingMinutes = age
		}
	}

	out := make([]Summary, 0, len(groups))
	for k, s := range groups {
		if s.Finalized > 0 {
			s.AvgWaitMinutes = waits[k].Minutes() / float64(s.Finalized)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Day != out[j].Day {
			return out[i].Day < out[j].Day
		}
		return out[i].PartitionKey < out[j].PartitionKey
	})
	return out
}

// exitTime is when a finalized entity left the queue. The sweep finalizes a
// grace window after the last sighting, so timeouts use LastSeenAt.
func exitTime(e reconciler.Entity) (time.Time, bool) {
	if e.FinalizeReason == reconciler.ReasonTimeout && !e.LastSeenAt.IsZero() {
		return e.LastSeenAt, true
	}
	if e.FinalizedAt != nil {
		return *e.FinalizedAt, true
	}
	return time.Time{}, false
}
