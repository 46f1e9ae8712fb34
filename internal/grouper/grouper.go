// Package grouper clusters articles that report the same real-world event.
//
// Titles are compared as stop-word-filtered token sets via the Jaccard index,
// and grouping is the transitive closure over pairwise similarity. Shared
// region/topic keywords act as an extra merge signal for same-event articles
// with divergent headlines.
package grouper

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/newsreel/newsreel/internal/feed"
)

// EventGroup is a cluster of articles believed to report one happening.
// Membership is unique by link; the distinct-source count is derived from the
// members on every read.
type EventGroup struct {
	Representative feed.Article
	Members        []feed.Article
	RegionKeywords []string
}

// SourceCount returns the number of unique originating sources among members.
func (g *EventGroup) SourceCount() int {
	seen := map[string]struct{}{}
	for _, m := range g.Members {
		seen[strings.ToLower(m.Source)] = struct{}{}
	}
	return len(seen)
}

// FirstSeen returns the earliest publish time among members.
func (g *EventGroup) FirstSeen() time.Time {
	if len(g.Members) == 0 {
		return time.Time{}
	}
	first := g.Members[0].Published
	for _, m := range g.Members[1:] {
		if m.Published.Before(first) {
			first = m.Published
		}
	}
	return first
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {}, "of": {},
	"to": {}, "in": {}, "on": {}, "at": {}, "by": {}, "for": {}, "with": {},
	"from": {}, "as": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"has": {}, "have": {}, "had": {}, "will": {}, "would": {}, "could": {},
	"after": {}, "before": {}, "over": {}, "under": {}, "into": {}, "amid": {},
	"says": {}, "said": {}, "new": {}, "its": {}, "his": {}, "her": {},
	"this": {}, "that": {}, "their": {}, "it": {}, "not": {}, "up": {},
}

// Region/topic keywords whose co-occurrence in two titles is treated as
// evidence the articles cover the same event.
var regionKeywords = []string{
	"ukraine", "russia", "china", "taiwan", "korea", "japan", "india",
	"israel", "gaza", "iran", "syria", "yemen", "afghanistan",
	"europe", "africa", "nato", "un", "eu",
	"earthquake", "hurricane", "typhoon", "tsunami", "wildfire", "flood",
	"election", "summit", "ceasefire", "sanctions", "inflation", "recession",
}

// Tokenize lowercases the title, strips punctuation, and drops stop words
// and tokens shorter than three characters.
func Tokenize(title string) map[string]struct{} {
	var b []rune
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			b = append(b, r)
		} else {
			b = append(b, ' ')
		}
	}

	tokens := map[string]struct{}{}
	for _, w := range strings.Fields(string(b)) {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		tokens[w] = struct{}{}
	}
	return tokens
}

// Jaccard computes the similarity of two token sets.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// SimilarTitles reports whether two raw titles meet the given Jaccard
// threshold. The duplicate-title threshold (0.50 by default) is separate from
// the looser event-grouping threshold and the two must not be conflated.
func SimilarTitles(a, b string, threshold float64) bool {
	return Jaccard(Tokenize(a), Tokenize(b)) >= threshold
}

type Grouper struct {
	// Threshold is the Jaccard index at or above which two articles are
	// considered to report the same event.
	Threshold float64
}

func New(threshold float64) *Grouper {
	return &Grouper{Threshold: threshold}
}

// Group partitions the batch into event groups. Similarity is transitive:
// A~B and B~C puts all three in one group even when A and C alone fall below
// the threshold. Articles matching nothing form singleton groups.
func (g *Grouper) Group(articles []feed.Article) []*EventGroup {
	n := len(articles)
	if n == 0 {
		return nil
	}

	tokens := make([]map[string]struct{}, n)
	regions := make([][]string, n)
	for i, a := range articles {
		tokens[i] = Tokenize(a.Title)
		regions[i] = matchRegions(a.Title)
	}

	// Union-find over pairwise similarity. Batches are small (tens to low
	// hundreds), so O(n^2) is fine.
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if articles[i].Link != "" && articles[i].Link == articles[j].Link {
				union(i, j)
				continue
			}
			sim := Jaccard(tokens[i], tokens[j])
			if sim >= g.Threshold {
				union(i, j)
				continue
			}
			// Region co-occurrence merges divergent headlines about the
			// same event, but still demands half the lexical overlap so
			// unrelated stories about one country stay apart.
			if sharedRegion(regions[i], regions[j]) && sim >= g.Threshold/2 {
				union(i, j)
			}
		}
	}

	byRoot := map[int]*EventGroup{}
	var order []int
	for i, a := range articles {
		root := find(i)
		grp, ok := byRoot[root]
		if !ok {
			grp = &EventGroup{}
			byRoot[root] = grp
			order = append(order, root)
		}
		if containsLink(grp.Members, a.Link) {
			continue
		}
		grp.Members = append(grp.Members, a)
		grp.RegionKeywords = mergeKeywords(grp.RegionKeywords, regions[i])
	}

	groups := make([]*EventGroup, 0, len(order))
	for _, root := range order {
		grp := byRoot[root]
		grp.Representative = pickRepresentative(grp.Members)
		groups = append(groups, grp)
	}

	// Largest clusters first; stable enough for deterministic tests.
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].SourceCount() > groups[j].SourceCount()
	})
	return groups
}

// pickRepresentative prefers the earliest-published member, breaking ties
// with the longest (assumed most descriptive) title.
func pickRepresentative(members []feed.Article) feed.Article {
	best := members[0]
	for _, m := range members[1:] {
		switch {
		case m.Published.Before(best.Published):
			best = m
		case m.Published.Equal(best.Published) && len(m.Title) > len(best.Title):
			best = m
		}
	}
	return best
}

func matchRegions(title string) []string {
	text := strings.ToLower(title)
	var matched []string
	for _, kw := range regionKeywords {
		if containsWord(text, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// containsWord does whole-word matching so short keywords such as "un" do not
// fire inside longer words.
func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordRune(rune(text[start-1]))
		afterOK := end == len(text) || !isWordRune(rune(text[end]))
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

func sharedRegion(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func mergeKeywords(existing, extra []string) []string {
	for _, kw := range extra {
		found := false
		for _, have := range existing {
			if have == kw {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, kw)
		}
	}
	return existing
}

func containsLink(members []feed.Article, link string) bool {
	if link == "" {
		return false
	}
	for _, m := range members {
		if m.Link == link {
			return true
		}
	}
	return false
}
