package judge

import (
	"sort"

	"github.com/promptclash/promptclash-backend/db"
)

// DefaultCriteria is used when a battle's challenge carries no custom
// challenge type.
func DefaultCriteria() []db.Criterion {
	return []db.Criterion{
		{Name: "Creativity", Weight: 30},
		{Name: "Visual Impact", Weight: 25},
		{Name: "Relevance", Weight: 25},
		{Name: "Cohesion", Weight: 20},
	}
}

// Aggregate computes the weighted score: sum of score x weight over the
// criteria, divided by the weight sum. Criterion names must match the
// judge's response keys exactly; a missing key scores zero for that
// criterion rather than inventing a value.
func Aggregate(scores map[string]float64, criteria []db.Criterion) float64 {
	totalWeight := 0
	weighted := 0.0
	for _, c := range criteria {
		totalWeight += c.Weight
		weighted += scores[c.Name] * float64(c.Weight)
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / float64(totalWeight)
}

// ScoredEntry is one submission's scoring result as the tiebreak sees it.
type ScoredEntry struct {
	Aggregate float64
	Scores    map[string]float64
}

// Winner picks the winning index (0 or 1). Higher aggregate wins outright.
// On an exact aggregate tie the criteria are compared one at a time in
// descending weight order; a full tie across all criteria is resolved
// uniformly at random via intn.
func Winner(a, b ScoredEntry, criteria []db.Criterion, intn func(int) int) int {
	if a.Aggregate > b.Aggregate {
		return 0
	}
	if b.Aggregate > a.Aggregate {
		return 1
	}

	ordered := make([]db.Criterion, len(criteria))
	copy(ordered, criteria)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Weight > ordered[j].Weight
	})
	for _, c := range ordered {
		if a.Scores[c.Name] > b.Scores[c.Name] {
			return 0
		}
		if b.Scores[c.Name] > a.Scores[c.Name] {
			return 1
		}
	}
	return intn(2)
}
