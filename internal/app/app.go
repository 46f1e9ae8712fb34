// Package app wires ingestion, detection, selection, generation, and
// notification into runnable workflows.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/newsreel/newsreel/internal/assemble"
	"github.com/newsreel/newsreel/internal/breaking"
	"github.com/newsreel/newsreel/internal/config"
	"github.com/newsreel/newsreel/internal/feed"
	"github.com/newsreel/newsreel/internal/grouper"
	"github.com/newsreel/newsreel/internal/logger"
	"github.com/newsreel/newsreel/internal/metrics"
	"github.com/newsreel/newsreel/internal/notify"
	"github.com/newsreel/newsreel/internal/pipeline"
	"github.com/newsreel/newsreel/internal/provider"
	"github.com/newsreel/newsreel/internal/schedule"
	"github.com/newsreel/newsreel/internal/scraper"
	"github.com/newsreel/newsreel/internal/selector"
	"github.com/newsreel/newsreel/internal/state"
)

type App struct {
	cfg      *config.Config
	store    state.Store
	reader   *feed.Reader
	grouper  *grouper.Grouper
	selector *selector.Selector
	detector *breaking.Detector
	scraper  *scraper.Scraper
	notifier *notify.Notifier

	// Generation dependencies, initialized lazily so detection-only and
	// dry runs work without provider credentials.
	scripts provider.ScriptProvider
	pipe    *pipeline.Pipeline
}

func New(cfg *config.Config) (*App, error) {
	catalog, err := feed.LoadCatalog(cfg.FeedsConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading feed catalog: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	reader := feed.NewReader(catalog, feed.ReaderOptions{
		Timeout:         cfg.RequestTimeout,
		CacheTTL:        cfg.FeedCacheTTL,
		MaxItemsPerFeed: cfg.MaxItemsPerFeed,
		MinTitleLength:  cfg.MinTitleLength,
		MaxSummaryChars: cfg.MaxSummaryChars,
	})

	return &App{
		cfg:      cfg,
		store:    store,
		reader:   reader,
		grouper:  grouper.New(cfg.GroupSimilarityThreshold),
		selector: selector.New(store, cfg.DuplicateTitleThreshold),
		detector: breaking.NewDetector(store, cfg.BreakingMinSources, cfg.BreakingDailyCap, cfg.LockStaleness),
		scraper:  scraper.New(),
		notifier: notify.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID),
	}, nil
}

func openStore(cfg *config.Config) (state.Store, error) {
	switch cfg.StateBackend {
	case "file":
		return state.NewFileStore(cfg.StatePath)
	default:
		return state.NewBoltStore(cfg.StatePath)
	}
}

func (a *App) Close() {
	if a.scripts != nil {
		a.scripts.Close()
	}
	if err := a.store.Close(); err != nil {
		logger.Error("failed to close state store", "error", err)
	}
}

// ensureProviders builds the generation pipeline on first use.
func (a *App) ensureProviders() error {
	if a.pipe != nil {
		return nil
	}
	if err := a.cfg.ValidateProviders(); err != nil {
		return err
	}

	budget := provider.NewCallBudget(map[string]int{
		"gemini": a.cfg.MaxScriptCalls,
		"openai": a.cfg.MaxImageCalls + a.cfg.MaxSpeechCalls,
	}, a.cfg.MaxTotalCalls)

	gemini, err := provider.NewGeminiClient(a.cfg.GeminiAPIKey, budget)
	if err != nil {
		return err
	}
	openAI := provider.NewOpenAIClient(a.cfg.OpenAIAPIKey, a.cfg.OpenAIBaseURL, budget)

	a.scripts = gemini
	a.pipe = pipeline.New(gemini, openAI, openAI, gemini,
		assemble.New(a.cfg.OutputDir), pipeline.Options{
			OutputDir:         a.cfg.OutputDir,
			Voice:             a.cfg.Voice,
			SubtitleLanguages: a.cfg.SubtitleLanguages,
			ImageRetryBudget:  a.cfg.ImageRetryBudget,
		})
	return nil
}

// RunDaily produces the daily shorts video.
func (a *App) RunDaily(ctx context.Context) error {
	return a.runScheduled(ctx, pipeline.DailyShorts, a.cfg.DailyStoryCount, selector.Ranked, a.cfg.DailyMaxAge)
}

// RunWeekly produces the category-balanced weekly roundup.
func (a *App) RunWeekly(ctx context.Context) error {
	return a.runScheduled(ctx, pipeline.WeeklyVideo, a.cfg.WeeklyStoryCount, selector.Balanced, a.cfg.WeeklyMaxAge)
}

func (a *App) runScheduled(ctx context.Context, ct pipeline.ContentType, count int, mode selector.Mode, maxAge time.Duration) error {
	if err := a.ensureProviders(); err != nil {
		return err
	}

	category := ct.StateCategory()
	if err := a.store.Prune(category, a.cfg.UsedRetention, a.cfg.UsedMaxPerGroup); err != nil {
		logger.Warn("used-set pruning failed", "category", category, "error", err)
	}

	articles := a.reader.FetchAll(maxAge)
	groups := a.grouper.Group(articles)
	metrics.Global.AddGroupsFormed(len(groups))

	picked, err := a.selector.Select(groups, count, mode, category)
	if err != nil {
		return err
	}

	job := pipeline.NewJob(ct, picked)
	summary, runErr := a.pipe.Run(ctx, job)
	a.notify(summary)
	if runErr != nil {
		return runErr
	}

	// Stories are marked used only after the video exists, so a failed run
	// leaves them eligible for the next cycle.
	a.markUsed(category, job)
	metrics.Global.SetLastRun()
	return nil
}

// RunBreakingCycle evaluates one breaking-detection cycle and, on promotion,
// generates the single-story video. With dryRun the trigger rules are
// evaluated without claiming the lock or generating anything.
func (a *App) RunBreakingCycle(ctx context.Context, dryRun bool) (*pipeline.Summary, error) {
	return a.runBreakingCycle(ctx, dryRun, true)
}

// runBreakingCycle is the shared cycle body. notifyIdle controls whether a
// no-op outcome sends a notification; the watch loop turns it off because
// idle cycles are routine on a 10-minute cadence, while the one-shot command
// reports its outcome either way.
func (a *App) runBreakingCycle(ctx context.Context, dryRun, notifyIdle bool) (*pipeline.Summary, error) {
	articles := a.reader.FetchAll(a.cfg.DailyMaxAge)
	groups := a.grouper.Group(articles)
	metrics.Global.AddGroupsFormed(len(groups))

	if dryRun {
		outcome, err := a.detector.Peek(groups)
		if err != nil {
			return nil, err
		}
		if outcome.Kind == breaking.Promoted {
			logger.Info("dry run: would promote",
				"title", outcome.Group.Representative.Title,
				"sources", outcome.Group.SourceCount())
		} else {
			logger.Info("dry run: no promotion", "outcome", outcome.Kind.String(), "reason", outcome.Reason)
		}
		return nil, nil
	}

	if err := a.ensureProviders(); err != nil {
		return nil, err
	}
	if err := a.store.Prune(state.CategoryBreaking, a.cfg.UsedRetention, a.cfg.UsedMaxPerGroup); err != nil {
		logger.Warn("used-set pruning failed", "category", state.CategoryBreaking, "error", err)
	}

	outcome, err := a.detector.Detect(groups)
	if err != nil {
		return nil, err
	}
	if outcome.Kind != breaking.Promoted {
		logger.Info("breaking cycle idle", "outcome", outcome.Kind.String(), "reason", outcome.Reason)
		metrics.Global.RecordJobStatus(string(pipeline.StatusNoOp))
		now := time.Now()
		summary := &pipeline.Summary{
			JobID:       uuid.NewString(),
			ContentType: pipeline.BreakingShorts,
			Status:      pipeline.StatusNoOp,
			Error:       outcome.Reason,
			StartedAt:   now,
			FinishedAt:  now,
		}
		if err := pipeline.WriteSummary(a.cfg.OutputDir, summary); err != nil {
			logger.Error("failed to write run summary", "job_id", summary.JobID, "error", err)
		}
		if notifyIdle {
			a.notify(summary)
		}
		return summary, nil
	}

	// The lock is held from promotion until this cycle finishes, however it
	// finishes.
	defer func() {
		if err := a.store.ReleaseLock(); err != nil {
			logger.Error("failed to release breaking lock", "error", err)
		}
	}()

	story := outcome.Group.Representative
	job := pipeline.NewJob(pipeline.BreakingShorts, []feed.Article{story})

	job.FullTexts = map[string]string{}
	for link, content := range a.scraper.EnrichGroup(ctx, outcome.Group.Members) {
		if link == story.Link {
			job.FullTexts[story.Link] = content.Content
		} else if _, ok := job.FullTexts[story.Link]; !ok {
			// Corroborating coverage is better than the bare feed summary.
			job.FullTexts[story.Link] = content.Content
		}
	}

	summary, runErr := a.pipe.Run(ctx, job)
	a.notify(summary)
	if runErr != nil {
		return summary, runErr
	}

	a.markUsed(state.CategoryBreaking, job)
	metrics.Global.SetLastRun()
	return summary, nil
}

// Watch runs the breaking evaluation loop until the context is cancelled.
func (a *App) Watch(ctx context.Context) error {
	if err := a.ensureProviders(); err != nil {
		return err
	}

	ticker := schedule.NewTicker(a.cfg.BreakingEvalInterval)
	ticker.Start(ctx, "breaking-watch", func(ctx context.Context) error {
		_, err := a.runBreakingCycle(ctx, false, false)
		return err
	})

	<-ctx.Done()
	ticker.Stop()
	return nil
}

func (a *App) markUsed(category string, job *pipeline.Job) {
	for _, s := range job.IncludedStories() {
		if err := a.store.Insert(category, s.Key()); err != nil {
			logger.Error("failed to record used story", "title", s.Title, "error", err)
		}
	}
}

func (a *App) notify(summary *pipeline.Summary) {
	if summary == nil {
		return
	}
	if err := a.notifier.NotifySummary(summary); err != nil {
		logger.Error("failed to send run summary", "error", err)
	}
}
