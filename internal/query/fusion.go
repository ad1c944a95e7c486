package query

import "sort"

// DefaultRRFK is the standard reciprocal-rank fusion constant. Larger values
// flatten the contribution of top ranks.
const DefaultRRFK = 60

// fuseRRF merges ranked result lists with reciprocal-rank fusion. Each
// occurrence of an ID contributes 1/(k+rank) to its final score, so a chunk
// ranked well in several lists beats one ranked well in a single list. The
// per-list scores are kept on the surviving result for inspection.
func fuseRRF(lists [][]Result, k int) []Result {
	if k <= 0 {
		k = DefaultRRFK
	}

	byID := make(map[string]*Result)
	var order []string
	for _, list := range lists {
		for rank, r := range list {
			contribution := 1.0 / float32(k+rank+1)
			if existing, ok := byID[r.ID]; ok {
				existing.Scores.Final += contribution
				if r.Scores.Vector > existing.Scores.Vector {
					existing.Scores.Vector = r.Scores.Vector
				}
				continue
			}
			merged := r
			merged.Scores.Final = contribution
			byID[r.ID] = &merged
			order = append(order, r.ID)
		}
	}

	fused := make([]Result, 0, len(order))
	for _, id := range order {
		fused = append(fused, *byID[id])
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Scores.Final > fused[j].Scores.Final
	})
	return fused
}

// mergeByScore flattens ranked lists whose scores share a scale, deduping by
// ID and keeping the best score for each chunk.
func mergeByScore(lists [][]Result) []Result {
	byID := make(map[string]Result)
	var order []string
	for _, list := range lists {
		for _, r := range list {
			existing, ok := byID[r.ID]
			if !ok {
				byID[r.ID] = r
				order = append(order, r.ID)
				continue
			}
			if r.Scores.Final > existing.Scores.Final {
				byID[r.ID] = r
			}
		}
	}

	merged := make([]Result, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Scores.Final > merged[j].Scores.Final
	})
	return merged
}
