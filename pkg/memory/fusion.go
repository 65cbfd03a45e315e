package memory

import (
	"cmp"
	"math"
	"slices"
)

// Batch is one backend's recall response as it arrived at the router.
type Batch struct {
	BackendID string
	Priority  int
	Results   []Result
}

// Fuse merges batches into one ordered list: score descending, ties broken
// by ascending backend priority, then by arrival order (batch order, then
// position within the batch). Scores are used as-is; backends are required
// to emit comparable scores in [0,1].
func Fuse(batches ...Batch) []Result {
	type ranked struct {
		result   Result
		priority int
	}

	total := 0
	for _, b := range batches {
		total += len(b.Results)
	}

	pool := make([]ranked, 0, total)
	for _, b := range batches {
		for _, r := range b.Results {
			r.Source = b.BackendID
			pool = append(pool, ranked{result: r, priority: b.Priority})
		}
	}

	// Stable sort keeps arrival order for full ties.
	slices.SortStableFunc(pool, func(a, b ranked) int {
		if c := cmp.Compare(sortableScore(b.result.Score), sortableScore(a.result.Score)); c != 0 {
			return c
		}
		return cmp.Compare(a.priority, b.priority)
	})

	out := make([]Result, len(pool))
	for i, p := range pool {
		out[i] = p.result
	}
	return out
}

// sortableScore sinks NaN scores to the bottom of the ranking.
func sortableScore(s float64) float64 {
	if math.IsNaN(s) {
		return math.Inf(-1)
	}
	return s
}

// filterMinScore keeps results scored at or above minScore.
func filterMinScore(results []Result, minScore float64) []Result {
	out := results[:0:0]
	for _, r := range results {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out
}

func limitResults(results []Result, limit int) []Result {
	if limit > 0 && len(results) > limit {
		return results[:limit]
	}
	return results
}
