package provider

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/newsreel/newsreel/internal/logger"
)

const (
	geminiModel     = "gemini-1.5-flash"
	maxStoryChars   = 6000
	segmentMarker   = "STORY"
	introMarker     = "INTRO"
	outroMarker     = "OUTRO"
	budgetKeyGemini = "gemini"
)

// GeminiClient implements ScriptProvider and Translator on the Gemini API.
type GeminiClient struct {
	client *genai.Client
	budget *CallBudget
}

func NewGeminiClient(apiKey string, budget *CallBudget) (*GeminiClient, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, budget: budget}, nil
}

func (c *GeminiClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// GenerateScript asks the model for an intro, one narration segment per
// story, and an outro, delimited by labeled markers so the response can be
// split deterministically.
func (c *GeminiClient) GenerateScript(ctx context.Context, stories []StoryInput, tone string) (*Script, error) {
	if len(stories) == 0 {
		return nil, fmt.Errorf("no stories to script")
	}
	if err := c.budget.Use(budgetKeyGemini); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for i, story := range stories {
		body := story.FullText
		if body == "" {
			body = story.Summary
		}
		fmt.Fprintf(&sb, "STORY %d (%s, via %s):\nTitle: %s\n%s\n\n",
			i+1, story.Category, story.Source, story.Title, truncateRunes(body, maxStoryChars))
	}

	prompt := fmt.Sprintf(`You are writing a narration script for a short news video.
Tone: %s.

Write spoken narration for the %d stories below. Keep each story segment to
3-4 sentences of clear, conversational English. No headlines, no lists, no
stage directions.

Respond EXACTLY in this format, keeping the marker lines verbatim:

===%s===
<one or two sentence opening for the whole video>
===%s 1===
<narration for story 1>
===%s 2===
<narration for story 2>
(continue for every story)
===%s===
<one sentence closing>

%s`, tone, len(stories), introMarker, segmentMarker, segmentMarker, outroMarker, sb.String())

	text, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	script, err := parseScript(text, len(stories))
	if err != nil {
		return nil, fmt.Errorf("parsing script response: %w", err)
	}
	return script, nil
}

// ImagePrompt builds a visual prompt for one story. The face mode tightens
// the prompt step by step so a refused request can be retried with a safer
// variant.
func (c *GeminiClient) ImagePrompt(ctx context.Context, story StoryInput, mode FaceMode) (string, error) {
	if err := c.budget.Use(budgetKeyGemini); err != nil {
		return "", err
	}

	var constraint string
	switch mode {
	case FaceNone:
		constraint = "Do not depict any people, faces, or human figures. Show only places, objects, and atmosphere."
	case FaceAbstract:
		constraint = "Produce a fully abstract, symbolic composition: shapes, colors, and mood only. No people, no real places, no text."
	default:
		constraint = "A realistic editorial photo style is fine; people may appear."
	}

	prompt := fmt.Sprintf(`Write a single-paragraph image generation prompt (under 80 words)
illustrating this news story for a vertical video background.
%s
Never include text, captions, logos, or watermarks in the image.

Story: %s
Context: %s

Respond with the prompt only.`, constraint, story.Title, truncateRunes(story.Summary, 500))

	text, err := c.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// TranslateLines uses a numbered-line protocol so translations map back to
// cues by position even when the model reorders nothing else.
func (c *GeminiClient) TranslateLines(ctx context.Context, lines []string, targetLang string) ([]string, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	if err := c.budget.Use(budgetKeyGemini); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, line)
	}

	prompt := fmt.Sprintf(`Translate the numbered lines below into %s.
Rules:
- Keep the same numbering, one translated line per number.
- Translate naturally, not word for word.
- Do not translate proper names of people, brands, or organizations.
- No notes, no disclaimers, no extra lines.

%s`, targetLang, sb.String())

	text, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	translated, err := ParseNumberedLines(text, len(lines))
	if err != nil {
		logger.Warn("translation response malformed, keeping original lines",
			"lang", targetLang, "error", err)
		return lines, nil
	}
	return translated, nil
}

func (c *GeminiClient) generate(ctx context.Context, prompt string) (string, error) {
	model := c.client.GenerativeModel(geminiModel)

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no response from Gemini")
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", &PolicyError{Provider: "gemini", Reason: "response blocked by safety filter"}
	}
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from Gemini")
	}
	return fmt.Sprintf("%v", cand.Content.Parts[0]), nil
}

// parseScript splits a marker-delimited response into intro, per-story
// segments, and outro. Every story must have a non-empty segment.
func parseScript(text string, storyCount int) (*Script, error) {
	script := &Script{Segments: make([]string, storyCount)}

	sections := splitMarked(text)
	for label, body := range sections {
		switch {
		case label == introMarker:
			script.Intro = body
		case label == outroMarker:
			script.Outro = body
		case strings.HasPrefix(label, segmentMarker+" "):
			var idx int
			if _, err := fmt.Sscanf(label, segmentMarker+" %d", &idx); err != nil {
				continue
			}
			if idx >= 1 && idx <= storyCount {
				script.Segments[idx-1] = body
			}
		}
	}

	for i, seg := range script.Segments {
		if strings.TrimSpace(seg) == "" {
			return nil, fmt.Errorf("missing narration for story %d", i+1)
		}
	}
	return script, nil
}

// splitMarked parses "===LABEL===" delimited sections into a label->body map.
func splitMarked(text string) map[string]string {
	sections := map[string]string{}

	var label string
	var body strings.Builder
	flush := func() {
		if label != "" {
			sections[label] = strings.TrimSpace(body.String())
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "===") && strings.HasSuffix(trimmed, "===") && len(trimmed) > 6 {
			flush()
			label = strings.TrimSpace(strings.Trim(trimmed, "="))
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return sections
}

// ParseNumberedLines extracts exactly want lines from a "1. text" style
// response, tolerating blank lines and stray prose around the list.
func ParseNumberedLines(text string, want int) ([]string, error) {
	out := make([]string, want)
	found := 0

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var idx int
		var rest string
		if n, _ := fmt.Sscanf(line, "%d.", &idx); n != 1 {
			continue
		}
		dot := strings.Index(line, ".")
		rest = strings.TrimSpace(line[dot+1:])
		if idx >= 1 && idx <= want && rest != "" {
			if out[idx-1] == "" {
				found++
			}
			out[idx-1] = rest
		}
	}

	if found != want {
		return nil, fmt.Errorf("expected %d numbered lines, found %d", want, found)
	}
	return out, nil
}

func truncateRunes(s string, max int) string {
	s = strings.Join(strings.Fields(strings.ReplaceAll(s, "\r", "")), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	trimmed := string(runes[:max])
	if idx := strings.LastIndex(trimmed, ". "); idx > max/4 {
		trimmed = trimmed[:idx+1]
	}
	return trimmed
}
