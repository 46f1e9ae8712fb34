package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsreel/newsreel/internal/assemble"
	"github.com/newsreel/newsreel/internal/feed"
	"github.com/newsreel/newsreel/internal/provider"
)

type fakeScripts struct {
	scriptErr error
}

func (f *fakeScripts) GenerateScript(_ context.Context, stories []provider.StoryInput, _ string) (*provider.Script, error) {
	if f.scriptErr != nil {
		return nil, f.scriptErr
	}
	script := &provider.Script{Intro: "Welcome to the update.", Outro: "Goodbye for now."}
	for _, s := range stories {
		script.Segments = append(script.Segments, "Narration for "+s.Title+".")
	}
	return script, nil
}

func (f *fakeScripts) ImagePrompt(_ context.Context, story provider.StoryInput, mode provider.FaceMode) (string, error) {
	return fmt.Sprintf("img %s %s", story.Title, mode), nil
}

func (f *fakeScripts) Close() {}

// fakeImages refuses any prompt containing "REFUSE" and succeeds otherwise.
type fakeImages struct{}

func (f *fakeImages) GenerateImage(_ context.Context, prompt string, outPath string) error {
	if strings.Contains(prompt, "REFUSE") {
		return &provider.PolicyError{Provider: "fake", Reason: "blocked"}
	}
	return os.WriteFile(outPath, []byte("png"), 0o644)
}

// fakeSpeech refuses text containing "NOAUDIO" and can delay per call to
// scramble completion order.
type fakeSpeech struct {
	delays map[string]time.Duration
}

func (f *fakeSpeech) Synthesize(_ context.Context, text, _, outPath string) error {
	if strings.Contains(text, "NOAUDIO") {
		return &provider.PolicyError{Provider: "fake", Reason: "speech blocked"}
	}
	for marker, d := range f.delays {
		if strings.Contains(text, marker) {
			time.Sleep(d)
		}
	}
	return os.WriteFile(outPath, []byte("mp3"), 0o644)
}

type passthroughTranslator struct{}

func (passthroughTranslator) TranslateLines(_ context.Context, lines []string, _ string) ([]string, error) {
	return lines, nil
}

// fakeAssembler records clip order and fabricates durations.
type fakeAssembler struct {
	mu      sync.Mutex
	concats []string
}

func (f *fakeAssembler) ProbeDuration(_ context.Context, _ string) (time.Duration, error) {
	return 8 * time.Second, nil
}

func (f *fakeAssembler) RenderSegment(_ context.Context, _ assemble.Segment, outPath string) error {
	return os.WriteFile(outPath, []byte("mp4"), 0o644)
}

func (f *fakeAssembler) Concat(_ context.Context, clipPaths []string, outPath string) error {
	f.mu.Lock()
	f.concats = append([]string{}, clipPaths...)
	f.mu.Unlock()
	return os.WriteFile(outPath, []byte("mp4"), 0o644)
}

func (f *fakeAssembler) MuxSubtitles(_ context.Context, _ string, _ map[string]string, _ []string, outPath string) error {
	return os.WriteFile(outPath, []byte("mp4"), 0o644)
}

func stories(titles ...string) []feed.Article {
	out := make([]feed.Article, len(titles))
	for i, title := range titles {
		out[i] = feed.Article{
			Source:   "test-source",
			Category: "world",
			Title:    title,
			Link:     fmt.Sprintf("https://example.com/%d", i),
		}
	}
	return out
}

func newTestPipeline(t *testing.T, speech *fakeSpeech, scripts *fakeScripts) (*Pipeline, *fakeAssembler) {
	t.Helper()
	asm := &fakeAssembler{}
	p := New(scripts, &fakeImages{}, speech, passthroughTranslator{}, asm, Options{
		OutputDir:         t.TempDir(),
		Voice:             "nova",
		SubtitleLanguages: []string{"en"},
		ImageRetryBudget:  2,
	})
	return p, asm
}

func TestRunSuccess(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeSpeech{}, &fakeScripts{})
	job := NewJob(DailyShorts, stories("Story one", "Story two"))

	summary, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, summary.Status)
	assert.Equal(t, []string{"Story one", "Story two"}, summary.Stories)
	assert.Empty(t, summary.Dropped)
	assert.NotEmpty(t, summary.VideoPath)
	assert.FileExists(t, summary.VideoPath)

	// Exactly one summary record on disk.
	matches, err := filepath.Glob(filepath.Join(p.opts.OutputDir, "summary_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRunOrderingIndependentOfCompletionOrder(t *testing.T) {
	// The first story's audio finishes last; final clip order must still
	// follow story index.
	speech := &fakeSpeech{delays: map[string]time.Duration{
		"Alpha": 120 * time.Millisecond,
		"Beta":  60 * time.Millisecond,
	}}
	p, asm := newTestPipeline(t, speech, &fakeScripts{})
	job := NewJob(DailyShorts, stories("Alpha", "Beta", "Gamma"))

	summary, err := p.Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, summary.Status)
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, summary.Stories)

	require.Len(t, asm.concats, 5)
	assert.Contains(t, asm.concats[0], "clip_opening")
	assert.Contains(t, asm.concats[1], "clip_story_00")
	assert.Contains(t, asm.concats[2], "clip_story_01")
	assert.Contains(t, asm.concats[3], "clip_story_02")
	assert.Contains(t, asm.concats[4], "clip_ending")
}

func TestRunPartialWhenStoryImagesRefused(t *testing.T) {
	// Every fallback stage refuses this story's images, so the story is
	// dropped and the job ends partial instead of failed.
	p, asm := newTestPipeline(t, &fakeSpeech{}, &fakeScripts{})
	job := NewJob(DailyShorts, stories("Normal story", "REFUSE story"))

	summary, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, summary.Status)
	assert.Equal(t, []string{"Normal story"}, summary.Stories)
	require.Len(t, summary.Dropped, 1)
	assert.Equal(t, "REFUSE story", summary.Dropped[0].Title)

	// Dropped story contributes no clip.
	require.Len(t, asm.concats, 3)
	assert.Contains(t, asm.concats[1], "clip_story_00")
}

func TestRunPartialWhenNarrationRefused(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeSpeech{}, &fakeScripts{})
	job := NewJob(DailyShorts, stories("Fine story", "NOAUDIO story"))

	summary, err := p.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, summary.Status)
	require.Len(t, summary.Dropped, 1)
	assert.Contains(t, summary.Dropped[0].Reason, "narration audio")
}

func TestRunNoOpOnEmptySelection(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeSpeech{}, &fakeScripts{})
	job := NewJob(DailyShorts, nil)

	summary, err := p.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, StatusNoOp, summary.Status)
	assert.Empty(t, summary.VideoPath)
}

func TestRunFailsWhenScriptFails(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeSpeech{}, &fakeScripts{scriptErr: errors.New("quota exhausted")})
	job := NewJob(DailyShorts, stories("Story one"))

	summary, err := p.Run(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, summary.Status)
	assert.Contains(t, summary.Error, "script")
}

func TestRunFailsWhenAllStoriesDropped(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeSpeech{}, &fakeScripts{})
	job := NewJob(DailyShorts, stories("NOAUDIO one", "NOAUDIO two"))

	summary, err := p.Run(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, summary.Status)
	assert.Len(t, summary.Dropped, 2)
}

func TestBreakingJobUsesFiveImages(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeSpeech{}, &fakeScripts{})
	job := NewJob(BreakingShorts, stories("Earthquake strikes capital"))

	summary, err := p.Run(context.Background(), job)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, summary.Status)

	require.Len(t, job.Assets, 1)
	assert.Len(t, job.Assets[0].Images, 5)
	assert.Equal(t, ThemeUrgent, job.Theme)
}
