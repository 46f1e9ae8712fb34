// Package selector chooses which stories to feature for a content type.
package selector

import (
	"fmt"
	"sort"

	"github.com/newsreel/newsreel/internal/feed"
	"github.com/newsreel/newsreel/internal/grouper"
	"github.com/newsreel/newsreel/internal/logger"
	"github.com/newsreel/newsreel/internal/metrics"
	"github.com/newsreel/newsreel/internal/state"
)

// Mode controls how slots are filled.
type Mode int

const (
	// Ranked picks by distinct-source count, then recency. Used for daily
	// shorts.
	Ranked Mode = iota
	// Balanced spreads picks across topic categories before filling
	// remaining slots by rank. Used for the weekly roundup.
	Balanced
)

type Selector struct {
	used state.UsedStore
	// DuplicateThreshold is the Jaccard index at or above which two selected
	// titles count as the same story. Stricter than the event-grouping
	// threshold.
	DuplicateThreshold float64
}

func New(used state.UsedStore, duplicateThreshold float64) *Selector {
	return &Selector{used: used, DuplicateThreshold: duplicateThreshold}
}

// Select returns up to n representative stories from the given groups,
// excluding already-used stories and near-duplicate titles. It may return
// fewer than n when the batch cannot fill every slot; callers must report the
// actual count, never pad.
func (s *Selector) Select(groups []*grouper.EventGroup, n int, mode Mode, category string) ([]feed.Article, error) {
	if n <= 0 || len(groups) == 0 {
		return nil, nil
	}

	eligible, err := s.filterUsed(groups, category)
	if err != nil {
		return nil, err
	}

	var picked []feed.Article
	switch mode {
	case Balanced:
		picked = s.pickBalanced(eligible, n)
	default:
		picked = s.pickRanked(eligible, n)
	}

	if len(picked) < n {
		logger.Warn("fewer eligible stories than requested",
			"requested", n, "selected", len(picked), "category", category)
	}
	return picked, nil
}

func (s *Selector) filterUsed(groups []*grouper.EventGroup, category string) ([]*grouper.EventGroup, error) {
	var eligible []*grouper.EventGroup
	for _, g := range groups {
		used, err := s.used.Contains(category, g.Representative.Key())
		if err != nil {
			return nil, fmt.Errorf("checking used set: %w", err)
		}
		if used {
			metrics.Global.IncrementDuplicatesFiltered()
			continue
		}
		eligible = append(eligible, g)
	}
	return eligible, nil
}

// pickRanked fills slots from the best-corroborated groups, skipping titles
// too similar to an already-picked one.
func (s *Selector) pickRanked(groups []*grouper.EventGroup, n int) []feed.Article {
	ranked := rankGroups(groups)

	var picked []feed.Article
	for _, g := range ranked {
		if len(picked) >= n {
			break
		}
		if s.duplicateOfPicked(g.Representative.Title, picked) {
			metrics.Global.IncrementDuplicatesFiltered()
			continue
		}
		picked = append(picked, g.Representative)
	}
	return picked
}

// pickBalanced round-robins across topic categories so no single category
// dominates, then backfills remaining slots by rank from whatever is left.
func (s *Selector) pickBalanced(groups []*grouper.EventGroup, n int) []feed.Article {
	byCategory := map[string][]*grouper.EventGroup{}
	var categories []string
	for _, g := range rankGroups(groups) {
		cat := g.Representative.Category
		if _, ok := byCategory[cat]; !ok {
			categories = append(categories, cat)
		}
		byCategory[cat] = append(byCategory[cat], g)
	}

	var picked []feed.Article
	for len(picked) < n {
		progressed := false
		for _, cat := range categories {
			if len(picked) >= n {
				break
			}
			queue := byCategory[cat]
			for len(queue) > 0 {
				g := queue[0]
				queue = queue[1:]
				if s.duplicateOfPicked(g.Representative.Title, picked) {
					metrics.Global.IncrementDuplicatesFiltered()
					continue
				}
				picked = append(picked, g.Representative)
				progressed = true
				break
			}
			byCategory[cat] = queue
		}
		if !progressed {
			break
		}
	}
	return picked
}

func (s *Selector) duplicateOfPicked(title string, picked []feed.Article) bool {
	for _, p := range picked {
		if grouper.SimilarTitles(title, p.Title, s.DuplicateThreshold) {
			return true
		}
	}
	return false
}

// rankGroups orders by distinct-source count, then most recent first-seen.
func rankGroups(groups []*grouper.EventGroup) []*grouper.EventGroup {
	ranked := make([]*grouper.EventGroup, len(groups))
	copy(ranked, groups)
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := ranked[i].SourceCount(), ranked[j].SourceCount()
		if si != sj {
			return si > sj
		}
		return ranked[i].FirstSeen().After(ranked[j].FirstSeen())
	})
	return ranked
}
