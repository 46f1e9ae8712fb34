package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newsreel/newsreel/internal/provider"
)

// promptRecorder satisfies ScriptProvider for fallback tests; only
// ImagePrompt matters here. errs feeds one error per call, nil meaning
// success.
type promptRecorder struct {
	modes []provider.FaceMode
	errs  []error
	calls int
}

func (p *promptRecorder) GenerateScript(context.Context, []provider.StoryInput, string) (*provider.Script, error) {
	return nil, errors.New("not used")
}

func (p *promptRecorder) ImagePrompt(_ context.Context, _ provider.StoryInput, mode provider.FaceMode) (string, error) {
	p.modes = append(p.modes, mode)
	var err error
	if p.calls < len(p.errs) {
		err = p.errs[p.calls]
	}
	p.calls++
	if err != nil {
		return "", err
	}
	return "prompt for " + string(mode), nil
}

func (p *promptRecorder) Close() {}

// scriptedImages fails or succeeds per call according to its queue.
type scriptedImages struct {
	calls   int
	results []error
}

func (s *scriptedImages) GenerateImage(_ context.Context, _ string, _ string) error {
	var err error
	if s.calls < len(s.results) {
		err = s.results[s.calls]
	}
	s.calls++
	return err
}

func policyErr() error {
	return &provider.PolicyError{Provider: "test", Reason: "blocked"}
}

func TestFallbackSucceedsAtNormal(t *testing.T) {
	prompts := &promptRecorder{}
	images := &scriptedImages{results: []error{nil}}
	f := NewImageFallback(prompts, images, 2)

	stage, err := f.Generate(context.Background(), provider.StoryInput{Title: "t"}, "out.png")
	require.NoError(t, err)
	assert.Equal(t, StageNormal, stage)
	assert.Equal(t, []provider.FaceMode{provider.FaceNormal}, prompts.modes)
}

func TestFallbackPolicyRefusalEscalatesImmediately(t *testing.T) {
	// A policy refusal at Normal must move straight to NoFace without a
	// second Normal attempt.
	prompts := &promptRecorder{}
	images := &scriptedImages{results: []error{policyErr(), nil}}
	f := NewImageFallback(prompts, images, 3)

	stage, err := f.Generate(context.Background(), provider.StoryInput{Title: "named person story"}, "out.png")
	require.NoError(t, err)
	assert.Equal(t, StageNoFace, stage)
	assert.Equal(t, 2, images.calls)
	assert.Equal(t, []provider.FaceMode{provider.FaceNormal, provider.FaceNone}, prompts.modes)
}

func TestFallbackTransientRetriesBeforeEscalating(t *testing.T) {
	// Two transient failures exhaust the budget at Normal, then NoFace
	// succeeds on its first attempt.
	prompts := &promptRecorder{}
	images := &scriptedImages{results: []error{
		errors.New("timeout"),
		errors.New("timeout"),
		nil,
	}}
	f := NewImageFallback(prompts, images, 2)

	stage, err := f.Generate(context.Background(), provider.StoryInput{Title: "t"}, "out.png")
	require.NoError(t, err)
	assert.Equal(t, StageNoFace, stage)
	assert.Equal(t, 3, images.calls)
}

func TestFallbackPromptTransientRetriesAtSameStage(t *testing.T) {
	// A rate-limit blip while authoring the prompt must retry at Normal,
	// not degrade the image to NoFace.
	prompts := &promptRecorder{errs: []error{errors.New("rate limited"), nil}}
	images := &scriptedImages{results: []error{nil}}
	f := NewImageFallback(prompts, images, 2)

	stage, err := f.Generate(context.Background(), provider.StoryInput{Title: "t"}, "out.png")
	require.NoError(t, err)
	assert.Equal(t, StageNormal, stage)
	assert.Equal(t, []provider.FaceMode{provider.FaceNormal, provider.FaceNormal}, prompts.modes)
	assert.Equal(t, 1, images.calls)
}

func TestFallbackPromptPolicyRefusalEscalates(t *testing.T) {
	// A refused prompt skips straight to NoFace without burning Normal
	// attempts.
	prompts := &promptRecorder{errs: []error{policyErr(), nil}}
	images := &scriptedImages{results: []error{nil}}
	f := NewImageFallback(prompts, images, 3)

	stage, err := f.Generate(context.Background(), provider.StoryInput{Title: "t"}, "out.png")
	require.NoError(t, err)
	assert.Equal(t, StageNoFace, stage)
	assert.Equal(t, []provider.FaceMode{provider.FaceNormal, provider.FaceNone}, prompts.modes)
}

func TestFallbackExhaustsAllStages(t *testing.T) {
	var results []error
	for i := 0; i < 6; i++ {
		results = append(results, fmt.Errorf("failure %d", i))
	}
	prompts := &promptRecorder{}
	images := &scriptedImages{results: results}
	f := NewImageFallback(prompts, images, 2)

	stage, err := f.Generate(context.Background(), provider.StoryInput{Title: "t"}, "out.png")
	require.Error(t, err)
	assert.Equal(t, StageDropped, stage)
	// Two attempts at each of the three stages.
	assert.Equal(t, 6, images.calls)
	assert.Equal(t, []provider.FaceMode{
		provider.FaceNormal, provider.FaceNone, provider.FaceAbstract,
	}, prompts.modes)
}

func TestFallbackPolicyAtEveryStageDrops(t *testing.T) {
	prompts := &promptRecorder{}
	images := &scriptedImages{results: []error{policyErr(), policyErr(), policyErr()}}
	f := NewImageFallback(prompts, images, 3)

	stage, err := f.Generate(context.Background(), provider.StoryInput{Title: "t"}, "out.png")
	require.Error(t, err)
	assert.Equal(t, StageDropped, stage)
	assert.Equal(t, 3, images.calls)
	assert.True(t, provider.IsPolicyRefusal(err))
}
