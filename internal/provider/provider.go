// Package provider defines the generation backends the pipeline calls for
// scripts, images, narration audio, and subtitle translation.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// FaceMode parameterizes image prompts for the fallback ladder. Each step
// strips more of what content filters tend to refuse.
type FaceMode string

const (
	FaceNormal   FaceMode = "normal"   // people and faces allowed
	FaceNone     FaceMode = "noface"   // scene only, no identifiable people
	FaceAbstract FaceMode = "abstract" // abstract/symbolic composition
)

// PolicyError marks a request the upstream provider refused on content
// grounds. It must never be retried at the same stage.
type PolicyError struct {
	Provider string
	Reason   string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s refused request: %s", e.Provider, e.Reason)
}

// IsPolicyRefusal reports whether err is (or wraps) a content-policy refusal.
func IsPolicyRefusal(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe)
}

// StoryInput is what the script provider sees per selected story.
type StoryInput struct {
	Title    string
	Summary  string
	FullText string // scraped body, breaking runs only
	Source   string
	Category string
}

// Script is the generated narration, segmented so each story's audio can be
// timed independently.
type Script struct {
	Intro    string
	Segments []string // one narration segment per story, same order as input
	Outro    string
}

type ScriptProvider interface {
	// GenerateScript writes narration for the given stories. The returned
	// segment list is index-aligned with the input.
	GenerateScript(ctx context.Context, stories []StoryInput, tone string) (*Script, error)
	// ImagePrompt produces a visual prompt for one story under the given
	// face mode.
	ImagePrompt(ctx context.Context, story StoryInput, mode FaceMode) (string, error)
	Close()
}

type ImageProvider interface {
	// GenerateImage renders the prompt and writes the image to outPath.
	GenerateImage(ctx context.Context, prompt string, outPath string) error
}

type SpeechProvider interface {
	// Synthesize converts text to spoken audio at outPath using the given
	// voice.
	Synthesize(ctx context.Context, text, voice, outPath string) error
}

type Translator interface {
	// TranslateLines translates each line into the target language,
	// preserving count and order. Used for subtitle cues.
	TranslateLines(ctx context.Context, lines []string, targetLang string) ([]string, error)
}
