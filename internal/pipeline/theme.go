package pipeline

import (
	"strings"
	"time"
)

// Theme drives the opening image's visual direction. Exactly one theme is
// chosen per run; breaking sentiment wins over calendar occasions, occasions
// win over the season default.
type Theme string

const (
	ThemeUrgent    Theme = "urgent" // disaster breaking news, red alert styling
	ThemeFormal    Theme = "formal" // political breaking news
	ThemeTense     Theme = "tense"  // economic-crisis breaking news
	ThemeSomber    Theme = "somber" // notable-death breaking news
	ThemeNewYear   Theme = "new-year"
	ThemeFestive   Theme = "festive" // late December holidays
	ThemeHalloween Theme = "halloween"
	ThemeSpring    Theme = "spring"
	ThemeSummer    Theme = "summer"
	ThemeAutumn    Theme = "autumn"
	ThemeWinter    Theme = "winter"
)

var sentimentKeywords = map[Theme][]string{
	ThemeSomber: {"dies", "dead", "death", "passes away", "funeral", "obituary", "killed"},
	ThemeUrgent: {"earthquake", "tsunami", "hurricane", "typhoon", "wildfire", "flood",
		"explosion", "crash", "attack", "eruption", "emergency", "evacuat"},
	ThemeFormal: {"election", "president", "parliament", "minister", "resigns",
		"impeach", "coup", "summit", "treaty", "sanctions"},
	ThemeTense: {"recession", "inflation", "crash", "default", "bailout",
		"collapse", "sell-off", "crisis"},
}

// sentimentOrder fixes precedence when a headline matches several sentiment
// classes. Death outranks disaster so "earthquake kills leader" reads somber.
var sentimentOrder = []Theme{ThemeSomber, ThemeUrgent, ThemeTense, ThemeFormal}

// SelectTheme picks the single theme for a run. breakingHeadline is empty for
// daily and weekly runs.
func SelectTheme(now time.Time, breakingHeadline string) Theme {
	if breakingHeadline != "" {
		if theme, ok := classifySentiment(breakingHeadline); ok {
			return theme
		}
		// A breaking story with no clear sentiment still reads urgent.
		return ThemeUrgent
	}

	if theme, ok := calendarOccasion(now); ok {
		return theme
	}
	return seasonTheme(now)
}

func classifySentiment(headline string) (Theme, bool) {
	text := strings.ToLower(headline)
	for _, theme := range sentimentOrder {
		for _, kw := range sentimentKeywords[theme] {
			if strings.Contains(text, kw) {
				return theme, true
			}
		}
	}
	return "", false
}

func calendarOccasion(now time.Time) (Theme, bool) {
	switch {
	case now.Month() == time.January && now.Day() <= 2:
		return ThemeNewYear, true
	case now.Month() == time.December && now.Day() == 31:
		return ThemeNewYear, true
	case now.Month() == time.December && now.Day() >= 20 && now.Day() <= 26:
		return ThemeFestive, true
	case now.Month() == time.October && now.Day() == 31:
		return ThemeHalloween, true
	}
	return "", false
}

// seasonTheme assumes the northern hemisphere.
func seasonTheme(now time.Time) Theme {
	switch now.Month() {
	case time.March, time.April, time.May:
		return ThemeSpring
	case time.June, time.July, time.August:
		return ThemeSummer
	case time.September, time.October, time.November:
		return ThemeAutumn
	default:
		return ThemeWinter
	}
}

// PromptHint returns the wording appended to the opening-image prompt.
func (t Theme) PromptHint() string {
	switch t {
	case ThemeUrgent:
		return "urgent breaking news atmosphere, dramatic red and dark tones"
	case ThemeFormal:
		return "formal, institutional atmosphere, muted blue and grey tones"
	case ThemeTense:
		return "tense financial atmosphere, dark tones with sharp contrast"
	case ThemeSomber:
		return "somber, respectful memorial atmosphere, soft dark tones"
	case ThemeNewYear:
		return "celebratory new year atmosphere, fireworks and gold accents"
	case ThemeFestive:
		return "warm festive holiday atmosphere, cozy lights"
	case ThemeHalloween:
		return "playful halloween atmosphere, orange and black accents"
	case ThemeSpring:
		return "fresh spring morning atmosphere, soft green and light tones"
	case ThemeSummer:
		return "bright summer atmosphere, warm vivid tones"
	case ThemeAutumn:
		return "calm autumn atmosphere, amber and brown tones"
	default:
		return "crisp winter atmosphere, cool blue tones"
	}
}
