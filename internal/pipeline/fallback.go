package pipeline

import (
	"context"
	"fmt"

	"github.com/newsreel/newsreel/internal/logger"
	"github.com/newsreel/newsreel/internal/metrics"
	"github.com/newsreel/newsreel/internal/provider"
)

// Stage is a step on the image-generation fallback ladder.
type Stage int

const (
	StageNormal Stage = iota
	StageNoFace
	StageAbstract
	// StageDropped means every stage was exhausted and the story loses its
	// image set.
	StageDropped
)

func (s Stage) String() string {
	switch s {
	case StageNormal:
		return "normal"
	case StageNoFace:
		return "noface"
	case StageAbstract:
		return "abstract"
	default:
		return "dropped"
	}
}

func (s Stage) faceMode() provider.FaceMode {
	switch s {
	case StageNoFace:
		return provider.FaceNone
	case StageAbstract:
		return provider.FaceAbstract
	default:
		return provider.FaceNormal
	}
}

// next returns the stage to escalate to.
func (s Stage) next() Stage {
	switch s {
	case StageNormal:
		return StageNoFace
	case StageNoFace:
		return StageAbstract
	default:
		return StageDropped
	}
}

// ImageFallback generates one story image, escalating Normal -> NoFace ->
// Abstract. A policy refusal escalates immediately; a transient failure is
// retried at the same stage until the attempt budget runs out, then
// escalates.
type ImageFallback struct {
	scripts provider.ScriptProvider
	images  provider.ImageProvider
	// retryBudget is the number of attempts per stage for transient
	// failures.
	retryBudget int
}

func NewImageFallback(scripts provider.ScriptProvider, images provider.ImageProvider, retryBudget int) *ImageFallback {
	if retryBudget < 1 {
		retryBudget = 1
	}
	return &ImageFallback{scripts: scripts, images: images, retryBudget: retryBudget}
}

// Generate walks the ladder for one image. It returns the stage that
// produced the image, or StageDropped with the last error when all stages
// are exhausted.
func (f *ImageFallback) Generate(ctx context.Context, story provider.StoryInput, outPath string) (Stage, error) {
	var lastErr error

	for stage := StageNormal; stage != StageDropped; stage = stage.next() {
		prompt, err := f.promptStage(ctx, stage, story)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return StageDropped, ctx.Err()
			}
			continue
		}

		stageErr := f.attemptStage(ctx, stage, prompt, outPath, story.Title)
		if stageErr == nil {
			metrics.Global.IncrementImageStage(stage.String())
			return stage, nil
		}
		lastErr = stageErr

		if ctx.Err() != nil {
			return StageDropped, ctx.Err()
		}
	}

	return StageDropped, fmt.Errorf("all image stages exhausted: %w", lastErr)
}

// promptStage authors the stage's image prompt, retrying transient failures
// up to the attempt budget. Only a policy refusal returns early so the caller
// escalates; anything else gets its full budget at the same stage.
func (f *ImageFallback) promptStage(ctx context.Context, stage Stage, story provider.StoryInput) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= f.retryBudget; attempt++ {
		prompt, err := f.scripts.ImagePrompt(ctx, story, stage.faceMode())
		if err == nil {
			return prompt, nil
		}
		if provider.IsPolicyRefusal(err) {
			logger.Info("image prompt refused, escalating",
				"story", story.Title, "stage", stage.String())
			return "", err
		}
		lastErr = err
		logger.Warn("image prompt failed",
			"story", story.Title, "stage", stage.String(),
			"attempt", attempt, "max", f.retryBudget, "error", err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", lastErr
}

// attemptStage tries one stage up to the retry budget. Policy refusals
// return immediately so the caller escalates without burning attempts.
func (f *ImageFallback) attemptStage(ctx context.Context, stage Stage, prompt, outPath, title string) error {
	var lastErr error
	for attempt := 1; attempt <= f.retryBudget; attempt++ {
		err := f.images.GenerateImage(ctx, prompt, outPath)
		if err == nil {
			return nil
		}
		if provider.IsPolicyRefusal(err) {
			logger.Info("image refused by policy, escalating",
				"story", title, "stage", stage.String())
			return err
		}
		lastErr = err
		logger.Warn("image generation failed",
			"story", title, "stage", stage.String(),
			"attempt", attempt, "max", f.retryBudget, "error", err)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return lastErr
}
