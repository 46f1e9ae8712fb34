package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const budgetKeyOpenAI = "openai"

// OpenAIClient implements ImageProvider and SpeechProvider.
type OpenAIClient struct {
	client *openai.Client
	budget *CallBudget
}

func NewOpenAIClient(apiKey, baseURL string, budget *CallBudget) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), budget: budget}
}

// GenerateImage renders the prompt with DALL-E and writes a PNG to outPath.
// Content-policy refusals surface as *PolicyError so the caller's fallback
// ladder can react without retrying.
func (c *OpenAIClient) GenerateImage(ctx context.Context, prompt string, outPath string) error {
	if err := c.budget.Use(budgetKeyOpenAI); err != nil {
		return err
	}

	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          openai.CreateImageModelDallE3,
		N:              1,
		Size:           openai.CreateImageSize1024x1792,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return fmt.Errorf("no image data in response")
	}

	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return fmt.Errorf("decoding image data: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(outPath, raw, 0o644)
}

// Synthesize converts text to MP3 narration at outPath.
func (c *OpenAIClient) Synthesize(ctx context.Context, text, voice, outPath string) error {
	if err := c.budget.Use(budgetKeyOpenAI); err != nil {
		return err
	}

	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return classifyOpenAIError(err)
	}
	defer resp.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return err
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, resp); err != nil {
		return fmt.Errorf("writing audio file: %w", err)
	}
	return nil
}

// classifyOpenAIError turns content-policy API errors into *PolicyError and
// passes everything else through.
func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		if code == "content_policy_violation" ||
			strings.Contains(strings.ToLower(apiErr.Message), "content policy") {
			return &PolicyError{Provider: "openai", Reason: apiErr.Message}
		}
	}
	return err
}
