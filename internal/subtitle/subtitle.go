// Package subtitle builds SRT subtitle tracks from narration segments and
// their measured spoken durations.
package subtitle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/newsreel/newsreel/internal/provider"
)

// Cue is one subtitle entry.
type Cue struct {
	Index int
	Start time.Duration
	End   time.Duration
	Text  string
}

const (
	// maxCueChars splits long sentences so a cue stays readable on a phone
	// screen.
	maxCueChars = 84
	minCueTime  = 700 * time.Millisecond
)

// BuildCues splits a narration segment into sentence-level cues and spreads
// the segment's spoken duration across them proportionally to text length.
// start is the segment's offset within the full track.
func BuildCues(text string, start, duration time.Duration) []Cue {
	chunks := splitChunks(text)
	if len(chunks) == 0 {
		return nil
	}

	total := 0
	for _, c := range chunks {
		total += len(c)
	}

	cues := make([]Cue, 0, len(chunks))
	offset := start
	for i, chunk := range chunks {
		share := time.Duration(float64(duration) * float64(len(chunk)) / float64(total))
		if share < minCueTime {
			share = minCueTime
		}
		end := offset + share
		// The last cue absorbs rounding drift so the track ends exactly with
		// the audio.
		if i == len(chunks)-1 {
			end = start + duration
			if end < offset+minCueTime {
				end = offset + minCueTime
			}
		}
		cues = append(cues, Cue{Start: offset, End: end, Text: chunk})
		offset = end
	}
	return cues
}

// Renumber assigns sequential 1-based indices across a combined track.
func Renumber(cues []Cue) []Cue {
	for i := range cues {
		cues[i].Index = i + 1
	}
	return cues
}

// Render serializes cues as an SRT document.
func Render(cues []Cue) string {
	var sb strings.Builder
	for _, c := range cues {
		fmt.Fprintf(&sb, "%d\n%s --> %s\n%s\n\n",
			c.Index, FormatTimestamp(c.Start), FormatTimestamp(c.End), c.Text)
	}
	return sb.String()
}

// FormatTimestamp renders an SRT timestamp (HH:MM:SS,mmm).
func FormatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	ms := (d - s*time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// Translate produces a translated copy of the track with identical timing.
// On a malformed provider response the original text is kept rather than
// shipping a broken track.
func Translate(ctx context.Context, tr provider.Translator, cues []Cue, targetLang string) ([]Cue, error) {
	if len(cues) == 0 {
		return nil, nil
	}

	lines := make([]string, len(cues))
	for i, c := range cues {
		lines[i] = c.Text
	}

	translated, err := tr.TranslateLines(ctx, lines, targetLang)
	if err != nil {
		return nil, fmt.Errorf("translating subtitles to %s: %w", targetLang, err)
	}
	if len(translated) != len(cues) {
		return nil, fmt.Errorf("translation returned %d lines for %d cues", len(translated), len(cues))
	}

	out := make([]Cue, len(cues))
	copy(out, cues)
	for i := range out {
		out[i].Text = translated[i]
	}
	return out, nil
}

// splitChunks breaks text into sentences, further splitting anything longer
// than maxCueChars at word boundaries.
func splitChunks(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	var chunks []string
	for _, s := range sentences {
		chunks = append(chunks, splitLong(s)...)
	}
	return chunks
}

func splitLong(s string) []string {
	if len(s) <= maxCueChars {
		return []string{s}
	}

	words := strings.Fields(s)
	var out []string
	var current strings.Builder
	for _, w := range words {
		if current.Len() > 0 && current.Len()+1+len(w) > maxCueChars {
			out = append(out, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(w)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}
