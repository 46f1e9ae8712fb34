// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Feed ingestion
	FeedsConfigPath string
	MaxItemsPerFeed int
	MinTitleLength  int
	MaxSummaryChars int
	DailyMaxAge     time.Duration // freshness window for daily/breaking stories
	WeeklyMaxAge    time.Duration // freshness window for weekly stories
	FeedCacheTTL    time.Duration // parsed-feed cache between breaking cycles

	// Similarity grouping
	GroupSimilarityThreshold float64 // Jaccard threshold for event grouping
	DuplicateTitleThreshold  float64 // Jaccard threshold for duplicate-title filtering

	// Breaking detection
	BreakingMinSources   int
	BreakingDailyCap     int
	LockStaleness        time.Duration
	BreakingEvalInterval time.Duration

	// Selection
	DailyStoryCount  int
	WeeklyStoryCount int

	// Generation
	ImageRetryBudget  int // transient retries per fallback stage
	SubtitleLanguages []string
	Voice             string

	// Providers
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	// Provider call budget (0 = unlimited)
	MaxScriptCalls int
	MaxImageCalls  int
	MaxSpeechCalls int
	MaxTotalCalls  int

	// Notification (optional; disabled when token empty)
	TelegramToken  string
	TelegramChatID string

	// Persistence
	StateBackend string // "bolt" or "file"
	StatePath    string

	// Duplicate tracker pruning
	UsedRetention   time.Duration
	UsedMaxPerGroup int

	// Paths
	OutputDir string
	AssetsDir string

	// App settings
	Debug          bool
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		FeedsConfigPath:          "configs/feeds.yaml",
		MaxItemsPerFeed:          10,
		MinTitleLength:           20,
		MaxSummaryChars:          500,
		DailyMaxAge:              24 * time.Hour,
		WeeklyMaxAge:             7 * 24 * time.Hour,
		FeedCacheTTL:             5 * time.Minute,
		GroupSimilarityThreshold: 0.40,
		DuplicateTitleThreshold:  0.50,
		BreakingMinSources:       5,
		BreakingDailyCap:         2,
		LockStaleness:            30 * time.Minute,
		BreakingEvalInterval:     10 * time.Minute,
		DailyStoryCount:          6,
		WeeklyStoryCount:         16,
		ImageRetryBudget:         2,
		SubtitleLanguages:        []string{"en", "ko", "ja", "zh", "es"},
		Voice:                    "nova",
		OpenAIBaseURL:            "https://api.openai.com/v1",
		MaxScriptCalls:           40,
		MaxImageCalls:            60,
		MaxSpeechCalls:           40,
		StateBackend:             "bolt",
		StatePath:                "state/newsreel.db",
		UsedRetention:            30 * 24 * time.Hour,
		UsedMaxPerGroup:          500,
		OutputDir:                "./output",
		AssetsDir:                "./assets",
		RequestTimeout:           30 * time.Second,
		RetryAttempts:            3,
		RetryDelay:               5 * time.Second,
	}

	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	cfg.TelegramChatID = os.Getenv("TELEGRAM_CHAT_ID")

	cfg.FeedsConfigPath = getEnvOrDefault("FEEDS_CONFIG_PATH", cfg.FeedsConfigPath)
	cfg.StatePath = getEnvOrDefault("STATE_PATH", cfg.StatePath)
	cfg.OutputDir = getEnvOrDefault("OUTPUT_DIR", cfg.OutputDir)
	cfg.AssetsDir = getEnvOrDefault("ASSETS_DIR", cfg.AssetsDir)
	cfg.Voice = getEnvOrDefault("TTS_VOICE", cfg.Voice)
	cfg.OpenAIBaseURL = getEnvOrDefault("OPENAI_API_BASE", cfg.OpenAIBaseURL)

	if backend := os.Getenv("STATE_BACKEND"); backend != "" {
		cfg.StateBackend = backend
	}

	if v := os.Getenv("SUBTITLE_LANGUAGES"); v != "" {
		var langs []string
		for _, l := range strings.Split(v, ",") {
			if l = strings.TrimSpace(l); l != "" {
				langs = append(langs, l)
			}
		}
		if len(langs) > 0 {
			cfg.SubtitleLanguages = langs
		}
	}

	if v := os.Getenv("GROUP_SIMILARITY_THRESHOLD"); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil && val > 0 && val <= 1 {
			cfg.GroupSimilarityThreshold = val
		}
	}
	if v := os.Getenv("DUPLICATE_TITLE_THRESHOLD"); v != "" {
		if val, err := strconv.ParseFloat(v, 64); err == nil && val > 0 && val <= 1 {
			cfg.DuplicateTitleThreshold = val
		}
	}

	cfg.BreakingMinSources = getEnvIntOrDefault("BREAKING_MIN_SOURCES", cfg.BreakingMinSources)
	cfg.BreakingDailyCap = getEnvIntOrDefault("BREAKING_DAILY_CAP", cfg.BreakingDailyCap)
	cfg.DailyStoryCount = getEnvIntOrDefault("DAILY_STORY_COUNT", cfg.DailyStoryCount)
	cfg.WeeklyStoryCount = getEnvIntOrDefault("WEEKLY_STORY_COUNT", cfg.WeeklyStoryCount)
	cfg.ImageRetryBudget = getEnvIntOrDefault("IMAGE_RETRY_BUDGET", cfg.ImageRetryBudget)
	cfg.MaxItemsPerFeed = getEnvIntOrDefault("MAX_ITEMS_PER_FEED", cfg.MaxItemsPerFeed)
	cfg.MaxScriptCalls = getEnvIntOrDefault("MAX_SCRIPT_CALLS", cfg.MaxScriptCalls)
	cfg.MaxImageCalls = getEnvIntOrDefault("MAX_IMAGE_CALLS", cfg.MaxImageCalls)
	cfg.MaxSpeechCalls = getEnvIntOrDefault("MAX_SPEECH_CALLS", cfg.MaxSpeechCalls)
	cfg.MaxTotalCalls = getEnvIntOrDefault("MAX_TOTAL_CALLS", cfg.MaxTotalCalls)
	cfg.UsedMaxPerGroup = getEnvIntOrDefault("USED_MAX_PER_CATEGORY", cfg.UsedMaxPerGroup)
	cfg.RetryAttempts = getEnvIntOrDefault("RETRY_ATTEMPTS", cfg.RetryAttempts)

	if v := os.Getenv("LOCK_STALENESS_MINUTES"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			cfg.LockStaleness = time.Duration(val) * time.Minute
		}
	}
	if v := os.Getenv("BREAKING_EVAL_INTERVAL_MINUTES"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			cfg.BreakingEvalInterval = time.Duration(val) * time.Minute
		}
	}
	if v := os.Getenv("USED_RETENTION_DAYS"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 {
			cfg.UsedRetention = time.Duration(val) * 24 * time.Hour
		}
	}

	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
	}

	return cfg, cfg.Validate()
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if c.StateBackend != "bolt" && c.StateBackend != "file" {
		return fmt.Errorf("STATE_BACKEND must be 'bolt' or 'file'")
	}
	if c.BreakingMinSources < 1 {
		return fmt.Errorf("BREAKING_MIN_SOURCES must be positive")
	}
	if c.BreakingDailyCap < 1 || c.BreakingDailyCap > 3 {
		return fmt.Errorf("BREAKING_DAILY_CAP must be between 1 and 3")
	}
	return nil
}

// ValidateProviders checks the keys required for content generation.
// Detection-only and dry runs work without them.
func (c *Config) ValidateProviders() error {
	if c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	return nil
}
