package analysis

import (
	"fmt"
	"sort"
)

// Recommend maps a score-descending candidate list to a novelty score and
// filing recommendation. Claims are informational only and do not enter the
// arithmetic. Pure: no I/O, no side effects.
//
// The formula weights the top match at 0.7 and subtracts 5 points per
// candidate scoring above 70, clamped to [0,100]:
//
//	novelty = clamp(100 - topScore*0.7 - highSimCount*5, 0, 100)
//
// Thresholds: novelty >= 70 pursue, >= 40 reconsider, else reject.
func Recommend(claims *ExtractedClaims, candidates []Candidate) Result {
	_ = claims

	if len(candidates) == 0 {
		return Result{
			NoveltyScore:   100,
			Recommendation: RecommendPursue,
			Reasoning:      "No similar prior art found. Proceed with patent application.",
		}
	}

	topScore := candidates[0].SimilarityScore
	highSimCount := 0
	for _, c := range candidates {
		if c.SimilarityScore > HighSimilarityThreshold {
			highSimCount++
		}
	}

	novelty := 100 - topScore*0.7 - float64(highSimCount)*5
	novelty = clamp(novelty, 0, 100)

	var rec Recommendation
	var reasoning string
	switch {
	case novelty >= 70:
		rec = RecommendPursue
		reasoning = fmt.Sprintf("High novelty (%.0f%%). Top match only %.0f%% similar. Strong patent potential.", novelty, topScore)
	case novelty >= 40:
		rec = RecommendReconsider
		reasoning = fmt.Sprintf("Medium novelty (%.0f%%). %d highly similar patents found. Consider narrow claims.", novelty, highSimCount)
	default:
		rec = RecommendReject
		reasoning = fmt.Sprintf("Low novelty (%.0f%%). Very similar prior art exists (top: %.0f%%). Consider publication instead.", novelty, topScore)
	}

	return Result{NoveltyScore: novelty, Recommendation: rec, Reasoning: reasoning}
}

// SortByScore orders candidates by similarity score descending, breaking ties
// by patent id so the ordering is deterministic regardless of scoring order.
func SortByScore(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].SimilarityScore != candidates[j].SimilarityScore {
			return candidates[i].SimilarityScore > candidates[j].SimilarityScore
		}
		return candidates[i].PatentID < candidates[j].PatentID
	})
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
