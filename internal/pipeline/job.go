// Package pipeline drives content generation for a selected set of stories:
// script, narration audio, images with fallback, subtitles, and assembly.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/newsreel/newsreel/internal/feed"
	"github.com/newsreel/newsreel/internal/state"
)

type ContentType string

const (
	DailyShorts    ContentType = "daily-shorts"
	WeeklyVideo    ContentType = "weekly-video"
	BreakingShorts ContentType = "breaking-shorts"
)

// ImageCount returns how many images each story gets for this content type.
func (ct ContentType) ImageCount() int {
	switch ct {
	case WeeklyVideo:
		return 3
	case BreakingShorts:
		return 5
	default:
		return 2
	}
}

// StateCategory maps the content type to its duplicate-tracker category.
func (ct ContentType) StateCategory() string {
	switch ct {
	case WeeklyVideo:
		return state.CategoryWeekly
	case BreakingShorts:
		return state.CategoryBreaking
	default:
		return state.CategoryDaily
	}
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusNoOp    Status = "noop"
)

// StoryAsset holds everything generated for one story. Index is the story's
// position in the selector's output and fixes its place in the final video.
type StoryAsset struct {
	Index     int
	Story     feed.Article
	Narration string
	AudioPath string
	Duration  time.Duration
	Images    []string
	// ImageStage records which fallback stage produced the images.
	ImageStage string
	Dropped    bool
	DropReason string
}

// Job is one generation run.
type Job struct {
	ID        string
	Type      ContentType
	CreatedAt time.Time
	Stories   []feed.Article
	// FullTexts maps a story link to scraped article body, populated for
	// breaking runs to give the script provider more than the feed summary.
	FullTexts map[string]string
	Theme     Theme
	Assets    []*StoryAsset
	VideoPath string
	Status    Status
}

func NewJob(ct ContentType, stories []feed.Article) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Type:      ct,
		CreatedAt: time.Now(),
		Stories:   stories,
	}
}

// DroppedStory appears in the run summary for every story that did not make
// the final cut.
type DroppedStory struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Summary is the terminal record of a run, persisted as JSON and consumed by
// the notification and upload sides. Every run produces exactly one.
type Summary struct {
	JobID       string         `json:"job_id"`
	ContentType ContentType    `json:"content_type"`
	Status      Status         `json:"status"`
	Theme       string         `json:"theme,omitempty"`
	Stories     []string       `json:"stories"`
	Dropped     []DroppedStory `json:"dropped,omitempty"`
	VideoPath   string         `json:"video_path,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// IncludedStories returns the articles that survived generation, in selector
// order. These are the ones to mark used.
func (j *Job) IncludedStories() []feed.Article {
	var out []feed.Article
	for _, a := range j.Assets {
		if !a.Dropped {
			out = append(out, a.Story)
		}
	}
	return out
}
