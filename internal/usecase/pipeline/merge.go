package pipeline

import (
	"sort"

	"github.com/ritivel/regsearch/internal/domain"
)

// mergeHits deduplicates hits across sub-queries by ID, keeping the
// occurrence with the higher relevance score, then returns the top
// maxSources sorted by score descending. Ties keep a stable order by ID
// so the result is deterministic regardless of completion order.
func mergeHits(hitLists [][]domain.SourceHit, maxSources int) []domain.SourceHit {
	byID := make(map[string]domain.SourceHit)
	for _, hits := range hitLists {
		for _, h := range hits {
			if prev, ok := byID[h.ID]; ok && prev.RelevanceScore >= h.RelevanceScore {
				continue
			}
			byID[h.ID] = h
		}
	}

	merged := make([]domain.SourceHit, 0, len(byID))
	for _, h := range byID {
		merged = append(merged, h)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].RelevanceScore != merged[j].RelevanceScore {
			return merged[i].RelevanceScore > merged[j].RelevanceScore
		}
		return merged[i].ID < merged[j].ID
	})

	if len(merged) > maxSources {
		merged = merged[:maxSources]
	}
	return merged
}
