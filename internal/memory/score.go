package memory

import (
	"math"
	"sort"
	"time"
)

// Scoring weights. Importance spans 0.88..1.20, recency decays towards a
// floor of 0.5 with a 120 day time constant, and the access boost is capped
// at +15%.
const (
	importanceBase     = 0.80
	importanceStep     = 0.08
	recencyFloor       = 0.5
	recencyTimeConst   = 120.0
	accessBoostPerLog  = 0.04
	accessBoostCeiling = 0.15
)

// ImportanceFactor maps importance 1..5 onto a multiplier.
func ImportanceFactor(importance int) float64 {
	return importanceBase + importanceStep*float64(ClampImportance(importance))
}

// RecencyFactor decays with the age of a memory but never drops below the
// floor, so old memories stay findable.
func RecencyFactor(ageDays float64) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	return recencyFloor + (1-recencyFloor)*math.Exp(-ageDays/recencyTimeConst)
}

// AccessFactor boosts frequently retrieved memories.
func AccessFactor(accessCount int) float64 {
	if accessCount < 0 {
		accessCount = 0
	}
	return 1 + math.Min(accessBoostCeiling, accessBoostPerLog*math.Log1p(float64(accessCount)))
}

// Score combines raw similarity with the memory's metadata.
func Score(similarity float64, m Memory, now time.Time) float64 {
	ageDays := now.Sub(m.CreatedAt).Hours() / 24
	return similarity *
		ImportanceFactor(m.Importance) *
		RecencyFactor(ageDays) *
		AccessFactor(m.AccessCount)
}

// rank scores candidates, drops those below threshold and returns the best
// limit results, highest score first with ties broken by ascending id.
func rank(cands []candidate, threshold float64, limit int, now time.Time) []Result {
	out := make([]Result, 0, len(cands))
	for _, c := range cands {
		s := Score(c.similarity, c.memory, now)
		if s < threshold {
			continue
		}
		out = append(out, Result{Memory: c.memory, Score: s, Similarity: c.similarity})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
