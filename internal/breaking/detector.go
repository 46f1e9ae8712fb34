// Package breaking promotes at most one event group per evaluation cycle for
// urgent single-story generation.
package breaking

import (
	"fmt"
	"strings"
	"time"

	"github.com/newsreel/newsreel/internal/feed"
	"github.com/newsreel/newsreel/internal/grouper"
	"github.com/newsreel/newsreel/internal/logger"
	"github.com/newsreel/newsreel/internal/metrics"
	"github.com/newsreel/newsreel/internal/state"
)

// Case-insensitive substrings that mark a headline as potentially breaking.
// Grouped by flavor; matching is a flat scan over all of them.
var breakingKeywords = []string{
	// urgency
	"breaking", "urgent", "just in", "developing", "alert", "emergency",
	// casualty / death
	"dies", "dead", "killed", "death toll", "casualties", "fatal", "passes away",
	// conflict / disaster
	"war", "invasion", "attack", "airstrike", "missile", "explosion", "bombing",
	"earthquake", "tsunami", "hurricane", "typhoon", "wildfire", "eruption",
	"crash", "collapse", "derail",
	// political upheaval
	"resigns", "resignation", "impeach", "coup", "assassinat", "martial law",
	"declares war", "ceasefire", "arrested", "indicted",
	// superlative / record
	"historic", "unprecedented", "record high", "record low", "worst ever",
	"first ever", "largest ever",
}

// Kind tags a detection outcome. NoQualifying and Contended are normal
// negative results, not errors.
type Kind int

const (
	// Promoted means exactly one group was selected and the lock and daily
	// counter were claimed for it.
	Promoted Kind = iota
	// NoQualifying means no group passed the trigger rules this cycle.
	NoQualifying
	// Contended means a qualifying group exists but another breaking run is
	// in flight or the daily cap is reached.
	Contended
)

func (k Kind) String() string {
	switch k {
	case Promoted:
		return "promoted"
	case NoQualifying:
		return "no_qualifying"
	case Contended:
		return "contended"
	default:
		return "unknown"
	}
}

// Outcome is the detector's tagged result. Group is set only when Kind is
// Promoted; Reason explains negative outcomes for the run summary.
type Outcome struct {
	Kind   Kind
	Group  *grouper.EventGroup
	Reason string
}

type Detector struct {
	store      state.Store
	minSources int
	dailyCap   int
	staleness  time.Duration
	now        func() time.Time
}

func NewDetector(store state.Store, minSources, dailyCap int, staleness time.Duration) *Detector {
	return &Detector{
		store:      store,
		minSources: minSources,
		dailyCap:   dailyCap,
		staleness:  staleness,
		now:        time.Now,
	}
}

// HasBreakingKeyword reports whether the article's title or summary contains
// any breaking keyword.
func HasBreakingKeyword(a feed.Article) bool {
	text := strings.ToLower(a.Title + " " + a.Summary)
	for _, kw := range breakingKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func groupHasKeyword(g *grouper.EventGroup) bool {
	for _, m := range g.Members {
		if HasBreakingKeyword(m) {
			return true
		}
	}
	return false
}

// qualify applies trigger rules 1-3 and returns the best candidate, or nil
// when nothing qualifies.
func (d *Detector) qualify(groups []*grouper.EventGroup) (*grouper.EventGroup, error) {
	var candidates []*grouper.EventGroup
	for _, g := range groups {
		if !groupHasKeyword(g) {
			continue
		}
		if g.SourceCount() < d.minSources {
			logger.Debug("breaking candidate below source minimum",
				"title", g.Representative.Title,
				"sources", g.SourceCount(),
				"min", d.minSources)
			continue
		}
		used, err := d.store.Contains(state.CategoryBreaking, g.Representative.Key())
		if err != nil {
			return nil, fmt.Errorf("checking used set: %w", err)
		}
		if used {
			continue
		}
		candidates = append(candidates, g)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	best := candidates[0]
	for _, g := range candidates[1:] {
		switch {
		case g.SourceCount() > best.SourceCount():
			best = g
		case g.SourceCount() == best.SourceCount() && g.FirstSeen().Before(best.FirstSeen()):
			best = g
		}
	}
	return best, nil
}

// Peek evaluates the trigger rules without claiming the lock or counter.
// Used by dry runs.
func (d *Detector) Peek(groups []*grouper.EventGroup) (Outcome, error) {
	best, err := d.qualify(groups)
	if err != nil {
		return Outcome{}, err
	}
	if best == nil {
		return Outcome{Kind: NoQualifying, Reason: "no group passed trigger rules"}, nil
	}

	now := d.now()
	count, err := d.store.BreakingCount(state.DayKey(now))
	if err != nil {
		return Outcome{}, fmt.Errorf("reading daily counter: %w", err)
	}
	if count >= d.dailyCap {
		return Outcome{Kind: Contended, Reason: fmt.Sprintf("daily cap reached (%d/%d)", count, d.dailyCap)}, nil
	}
	held, err := d.store.LockHeld(now, d.staleness)
	if err != nil {
		return Outcome{}, fmt.Errorf("checking lock: %w", err)
	}
	if held {
		return Outcome{Kind: Contended, Reason: "another breaking run in flight"}, nil
	}
	return Outcome{Kind: Promoted, Group: best}, nil
}

// Detect applies the trigger rules over the cycle's groups and, on promotion,
// atomically claims the lock and bumps the daily counter before returning, so
// an overlapping cycle cannot double-trigger. Callers own releasing the lock
// once generation finishes.
func (d *Detector) Detect(groups []*grouper.EventGroup) (Outcome, error) {
	best, err := d.qualify(groups)
	if err != nil {
		return Outcome{}, err
	}
	if best == nil {
		metrics.Global.IncrementBreakingSkipped()
		return Outcome{Kind: NoQualifying, Reason: "no group passed trigger rules"}, nil
	}

	now := d.now()
	day := state.DayKey(now)

	count, err := d.store.BreakingCount(day)
	if err != nil {
		return Outcome{}, fmt.Errorf("reading daily counter: %w", err)
	}
	if count >= d.dailyCap {
		metrics.Global.IncrementBreakingSkipped()
		return Outcome{Kind: Contended, Reason: fmt.Sprintf("daily cap reached (%d/%d)", count, d.dailyCap)}, nil
	}

	acquired, err := d.store.AcquireLock(now, d.staleness)
	if err != nil {
		return Outcome{}, fmt.Errorf("acquiring lock: %w", err)
	}
	if !acquired {
		metrics.Global.IncrementBreakingSkipped()
		return Outcome{Kind: Contended, Reason: "another breaking run in flight"}, nil
	}

	if _, err := d.store.IncrBreakingCount(day); err != nil {
		// Roll the lock back so the event stays eligible next cycle.
		if relErr := d.store.ReleaseLock(); relErr != nil {
			logger.Error("failed to release lock after counter error", "error", relErr)
		}
		return Outcome{}, fmt.Errorf("incrementing daily counter: %w", err)
	}

	logger.Info("breaking event promoted",
		"title", best.Representative.Title,
		"sources", best.SourceCount(),
		"count_today", count+1)
	metrics.Global.IncrementBreakingPromoted()

	return Outcome{Kind: Promoted, Group: best}, nil
}
