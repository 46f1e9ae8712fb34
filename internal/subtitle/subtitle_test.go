package subtitle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCuesCoversSegmentExactly(t *testing.T) {
	text := "The summit ended without a deal. Delegates will reconvene next month. Markets reacted calmly."
	cues := BuildCues(text, 10*time.Second, 9*time.Second)

	require.Len(t, cues, 3)
	assert.Equal(t, 10*time.Second, cues[0].Start)
	assert.Equal(t, 19*time.Second, cues[len(cues)-1].End)

	// Cues are contiguous.
	for i := 1; i < len(cues); i++ {
		assert.Equal(t, cues[i-1].End, cues[i].Start)
	}
}

func TestBuildCuesSplitsLongSentences(t *testing.T) {
	long := strings.Repeat("word ", 40) + "end."
	cues := BuildCues(long, 0, 12*time.Second)

	require.Greater(t, len(cues), 1)
	for _, c := range cues {
		assert.LessOrEqual(t, len(c.Text), 84)
	}
}

func TestBuildCuesEmptyText(t *testing.T) {
	assert.Nil(t, BuildCues("   ", 0, 5*time.Second))
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00,000"},
		{1500 * time.Millisecond, "00:00:01,500"},
		{61 * time.Second, "00:01:01,000"},
		{time.Hour + 2*time.Minute + 3*time.Second + 45*time.Millisecond, "01:02:03,045"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTimestamp(tt.d))
	}
}

func TestRender(t *testing.T) {
	cues := Renumber([]Cue{
		{Start: 0, End: 2 * time.Second, Text: "First line."},
		{Start: 2 * time.Second, End: 4 * time.Second, Text: "Second line."},
	})

	srt := Render(cues)
	assert.Contains(t, srt, "1\n00:00:00,000 --> 00:00:02,000\nFirst line.\n")
	assert.Contains(t, srt, "2\n00:00:02,000 --> 00:00:04,000\nSecond line.\n")
}

type fakeTranslator struct {
	out []string
	err error
}

func (f *fakeTranslator) TranslateLines(_ context.Context, lines []string, _ string) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return lines, nil
}

func TestTranslateKeepsTiming(t *testing.T) {
	cues := []Cue{
		{Index: 1, Start: 0, End: 2 * time.Second, Text: "Hello."},
		{Index: 2, Start: 2 * time.Second, End: 4 * time.Second, Text: "Goodbye."},
	}

	translated, err := Translate(context.Background(), &fakeTranslator{out: []string{"Hola.", "Adiós."}}, cues, "es")
	require.NoError(t, err)
	require.Len(t, translated, 2)
	assert.Equal(t, "Hola.", translated[0].Text)
	assert.Equal(t, cues[0].Start, translated[0].Start)
	assert.Equal(t, cues[1].End, translated[1].End)

	// Original cues untouched.
	assert.Equal(t, "Hello.", cues[0].Text)
}

func TestTranslateLineCountMismatch(t *testing.T) {
	cues := []Cue{{Index: 1, End: time.Second, Text: "Hello."}}
	_, err := Translate(context.Background(), &fakeTranslator{out: []string{"a", "b"}}, cues, "ko")
	require.Error(t, err)
}

func TestTranslatePropagatesProviderError(t *testing.T) {
	cues := []Cue{{Index: 1, End: time.Second, Text: "Hello."}}
	_, err := Translate(context.Background(), &fakeTranslator{err: errors.New("quota")}, cues, "ja")
	require.Error(t, err)
}
