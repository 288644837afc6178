// Package stats aggregates the currently known observation set into the
// counters the map sidebar shows. Compute is a pure function: callers pass
// the events they know about and get a deterministic summary back, so it can
// be rerun on every state change without coordination.
package stats

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/commons-data/shelter.report/internal/db"
)

const (
	// DefaultTopK is how many context labels the ranking keeps.
	DefaultTopK = 3
	// DefaultRecentWindow is how many most-recent events the summary carries.
	DefaultRecentWindow = 5
)

// Options tunes the aggregation. Zero values fall back to the defaults.
type Options struct {
	TopK         int
	RecentWindow int
}

// ContextCount is one entry of the context ranking.
type ContextCount struct {
	Context db.Setting `json:"context"`
	Count   int        `json:"count"`
}

// Summary is the aggregate over one event set.
type Summary struct {
	Total          int                   `json:"total"`
	ByObjectType   map[db.ObjectType]int `json:"by_object_type"`
	TopContexts    []ContextCount        `json:"top_contexts"`
	MeanConfidence float64               `json:"mean_confidence"`
	Recent         []db.Observation      `json:"recent"`
}

// Compute aggregates events. Every object type appears in ByObjectType even
// at zero; context ranking ties break by first appearance in the input so
// repeated runs over the same slice agree. The input is never mutated.
func Compute(events []db.Observation, opts Options) Summary {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	window := opts.RecentWindow
	if window <= 0 {
		window = DefaultRecentWindow
	}

	summary := Summary{
		Total:        len(events),
		ByObjectType: make(map[db.ObjectType]int, len(db.ObjectTypes)),
	}
	for _, t := range db.ObjectTypes {
		summary.ByObjectType[t] = 0
	}

	contextCounts := make(map[db.Setting]int)
	firstSeen := make(map[db.Setting]int)
	confidences := make([]float64, 0, len(events))

	for i, ev := range events {
		summary.ByObjectType[ev.ObjectType]++
		if _, ok := firstSeen[ev.Context]; !ok {
			firstSeen[ev.Context] = i
		}
		contextCounts[ev.Context]++
		confidences = append(confidences, ev.Confidence)
	}

	ranked := make([]ContextCount, 0, len(contextCounts))
	for setting, count := range contextCounts {
		ranked = append(ranked, ContextCount{Context: setting, Count: count})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return firstSeen[ranked[i].Context] < firstSeen[ranked[j].Context]
	})
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	summary.TopContexts = ranked

	if len(confidences) > 0 {
		summary.MeanConfidence = stat.Mean(confidences, nil)
	}

	recent := make([]db.Observation, len(events))
	copy(recent, events)
	sort.SliceStable(recent, func(i, j int) bool {
		if recent[i].ObservedAt != recent[j].ObservedAt {
			return recent[i].ObservedAt > recent[j].ObservedAt
		}
		return recent[i].ID < recent[j].ID
	})
	if len(recent) > window {
		recent = recent[:window]
	}
	summary.Recent = recent

	return summary
}
