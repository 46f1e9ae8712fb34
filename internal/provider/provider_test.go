package provider

import (
	"errors"
	"fmt"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPolicyRefusal(t *testing.T) {
	policyErr := &PolicyError{Provider: "openai", Reason: "blocked"}

	assert.True(t, IsPolicyRefusal(policyErr))
	assert.True(t, IsPolicyRefusal(fmt.Errorf("generating image: %w", policyErr)))
	assert.False(t, IsPolicyRefusal(errors.New("connection reset")))
	assert.False(t, IsPolicyRefusal(nil))
}

func TestClassifyOpenAIError(t *testing.T) {
	policy := &openai.APIError{Code: "content_policy_violation", Message: "request rejected"}
	got := classifyOpenAIError(policy)
	assert.True(t, IsPolicyRefusal(got))

	transient := &openai.APIError{Code: "rate_limit_exceeded", Message: "slow down"}
	got = classifyOpenAIError(transient)
	assert.False(t, IsPolicyRefusal(got))

	plain := errors.New("dial tcp: timeout")
	assert.Equal(t, plain, classifyOpenAIError(plain))
}

func TestCallBudget(t *testing.T) {
	b := NewCallBudget(map[string]int{"gemini": 2}, 3)

	require.NoError(t, b.Use("gemini"))
	require.NoError(t, b.Use("gemini"))
	assert.Error(t, b.Use("gemini"))

	// Total cap applies across providers.
	require.NoError(t, b.Use("openai"))
	assert.Error(t, b.Use("openai"))

	assert.Equal(t, 0, b.Remaining("gemini"))
	assert.Equal(t, -1, b.Remaining("openai"))
}

func TestParseScript(t *testing.T) {
	text := `===INTRO===
Welcome to today's update.
===STORY 1===
First story narration, with two sentences. Here is the second.
===STORY 2===
Second story narration.
===OUTRO===
That's all for now.`

	script, err := parseScript(text, 2)
	require.NoError(t, err)
	assert.Equal(t, "Welcome to today's update.", script.Intro)
	assert.Equal(t, "That's all for now.", script.Outro)
	require.Len(t, script.Segments, 2)
	assert.Contains(t, script.Segments[0], "First story")
	assert.Equal(t, "Second story narration.", script.Segments[1])
}

func TestParseScriptMissingSegment(t *testing.T) {
	text := `===INTRO===
Hello.
===STORY 1===
Only one story here.
===OUTRO===
Bye.`

	_, err := parseScript(text, 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "story 2")
}

func TestParseNumberedLines(t *testing.T) {
	text := `Here are the translations:

1. Primera línea
2. Segunda línea
3. Tercera línea
`
	lines, err := ParseNumberedLines(text, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Primera línea", "Segunda línea", "Tercera línea"}, lines)
}

func TestParseNumberedLinesCountMismatch(t *testing.T) {
	_, err := ParseNumberedLines("1. only one", 2)
	require.Error(t, err)
}
