package jobs

import (
	"cmp"
	"slices"
	"time"

	"ripforge/internal/media"
)

// SelectTitles picks which disc titles to back up. Titles are ranked by
// duration, longest first. With all unset exactly one title is returned:
// the flagged main feature, or the longest title when none is flagged. With
// all set every title at least minDuration long is kept, and the main
// feature leads when it meets the threshold.
func SelectTitles(titles []media.Title, all bool, minDuration time.Duration) []media.Title {
	if len(titles) == 0 {
		return nil
	}
	ranked := slices.Clone(titles)
	slices.SortStableFunc(ranked, func(a, b media.Title) int {
		return cmp.Compare(b.Duration, a.Duration)
	})

	mainIdx := slices.IndexFunc(ranked, func(t media.Title) bool { return t.MainFeature })
	if !all {
		if mainIdx >= 0 {
			return []media.Title{ranked[mainIdx]}
		}
		return ranked[:1]
	}

	selected := make([]media.Title, 0, len(ranked))
	if mainIdx >= 0 && ranked[mainIdx].Duration >= minDuration {
		selected = append(selected, ranked[mainIdx])
	}
	for i, title := range ranked {
		if i == mainIdx || title.Duration < minDuration {
			continue
		}
		selected = append(selected, title)
	}
	return selected
}
