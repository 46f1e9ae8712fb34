package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/newsreel/newsreel/internal/assemble"
	"github.com/newsreel/newsreel/internal/logger"
	"github.com/newsreel/newsreel/internal/metrics"
	"github.com/newsreel/newsreel/internal/provider"
	"github.com/newsreel/newsreel/internal/retry"
	"github.com/newsreel/newsreel/internal/subtitle"
)

// Assembler is the video-building collaborator; *assemble.Assembler is the
// real implementation.
type Assembler interface {
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
	RenderSegment(ctx context.Context, seg assemble.Segment, outPath string) error
	Concat(ctx context.Context, clipPaths []string, outPath string) error
	MuxSubtitles(ctx context.Context, videoPath string, langs map[string]string, langOrder []string, outPath string) error
}

type Options struct {
	OutputDir         string
	Voice             string
	SubtitleLanguages []string
	ImageRetryBudget  int
}

type Pipeline struct {
	scripts    provider.ScriptProvider
	images     provider.ImageProvider
	speech     provider.SpeechProvider
	translator provider.Translator
	assembler  Assembler
	fallback   *ImageFallback
	opts       Options
	now        func() time.Time
}

func New(scripts provider.ScriptProvider, images provider.ImageProvider, speech provider.SpeechProvider,
	translator provider.Translator, assembler Assembler, opts Options) *Pipeline {
	return &Pipeline{
		scripts:    scripts,
		images:     images,
		speech:     speech,
		translator: translator,
		assembler:  assembler,
		fallback:   NewImageFallback(scripts, images, opts.ImageRetryBudget),
		opts:       opts,
		now:        time.Now,
	}
}

var speechRetry = retry.RetryConfig{MaxAttempts: 3, Delay: 2 * time.Second, Backoff: true}

// Run executes the full generation sequence for the job. It always produces
// exactly one summary; an error return accompanies a Failed summary and
// means a required global asset could not be produced.
func (p *Pipeline) Run(ctx context.Context, job *Job) (*Summary, error) {
	started := p.now()

	if len(job.Stories) == 0 {
		job.Status = StatusNoOp
		metrics.Global.RecordJobStatus(string(StatusNoOp))
		return p.finish(job, started, nil, "no eligible stories")
	}

	workDir := filepath.Join(p.opts.OutputDir, job.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return p.fail(job, started, fmt.Errorf("creating work directory: %w", err))
	}

	var breakingHeadline string
	if job.Type == BreakingShorts {
		breakingHeadline = job.Stories[0].Title
	}
	job.Theme = SelectTheme(started, breakingHeadline)
	logger.Info("starting generation job",
		"job_id", job.ID, "type", string(job.Type),
		"stories", len(job.Stories), "theme", string(job.Theme))

	inputs := storyInputs(job)

	// Script and opening assets are global: without them the job fails.
	script, err := p.scripts.GenerateScript(ctx, inputs, toneFor(job.Type))
	if err != nil {
		return p.fail(job, started, fmt.Errorf("generating script: %w", err))
	}

	openingImage := filepath.Join(workDir, "opening.png")
	if err := p.generateThemedImage(ctx, job.Theme, openingImage); err != nil {
		return p.fail(job, started, fmt.Errorf("generating opening image: %w", err))
	}
	endingImage := filepath.Join(workDir, "ending.png")
	if err := p.generateEndingImage(ctx, endingImage); err != nil {
		logger.Warn("ending image failed, reusing opening", "error", err)
		endingImage = openingImage
	}

	introAudio := filepath.Join(workDir, "intro.mp3")
	introDur, err := p.synthesize(ctx, script.Intro, introAudio)
	if err != nil {
		return p.fail(job, started, fmt.Errorf("synthesizing intro: %w", err))
	}
	outroAudio := filepath.Join(workDir, "outro.mp3")
	outroDur, err := p.synthesize(ctx, script.Outro, outroAudio)
	if err != nil {
		return p.fail(job, started, fmt.Errorf("synthesizing outro: %w", err))
	}

	// Per-story assets are generated concurrently; the indexed slice keeps
	// final ordering equal to selector order no matter which story finishes
	// first.
	job.Assets = make([]*StoryAsset, len(job.Stories))
	var wg sync.WaitGroup
	for i := range job.Stories {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			job.Assets[idx] = p.buildStoryAsset(ctx, job, script.Segments[idx], inputs[idx], idx, workDir)
		}(i)
	}
	wg.Wait()

	included := 0
	for _, a := range job.Assets {
		if !a.Dropped {
			included++
		}
	}
	if included == 0 {
		return p.fail(job, started, fmt.Errorf("all %d stories dropped during generation", len(job.Stories)))
	}

	subtitlePaths, langOrder, err := p.buildSubtitles(ctx, job, script, introDur, workDir)
	if err != nil {
		// Subtitles degrade the run, they do not kill it.
		logger.Warn("subtitle generation failed", "error", err)
		subtitlePaths = nil
	}

	videoPath, err := p.assemble(ctx, job, introAudio, introDur, outroAudio, outroDur,
		openingImage, endingImage, subtitlePaths, langOrder, workDir)
	if err != nil {
		return p.fail(job, started, fmt.Errorf("assembling video: %w", err))
	}
	job.VideoPath = videoPath

	if included < len(job.Stories) {
		job.Status = StatusPartial
		metrics.Global.RecordJobStatus(string(StatusPartial))
	} else {
		job.Status = StatusSuccess
		metrics.Global.RecordJobStatus(string(StatusSuccess))
	}

	return p.finish(job, started, nil, "")
}

// buildStoryAsset generates narration audio and the image set for one story.
// Failures drop the story, never the job.
func (p *Pipeline) buildStoryAsset(ctx context.Context, job *Job, narration string, input provider.StoryInput, idx int, workDir string) *StoryAsset {
	asset := &StoryAsset{Index: idx, Story: job.Stories[idx], Narration: narration}

	audioPath := filepath.Join(workDir, fmt.Sprintf("story_%02d.mp3", idx))
	duration, err := p.synthesize(ctx, narration, audioPath)
	if err != nil {
		asset.Dropped = true
		asset.DropReason = fmt.Sprintf("narration audio: %v", err)
		metrics.Global.IncrementStoriesDropped()
		logger.Warn("story dropped", "title", input.Title, "reason", asset.DropReason)
		return asset
	}
	asset.AudioPath = audioPath
	asset.Duration = duration

	maxStage := StageNormal
	for n := 0; n < job.Type.ImageCount(); n++ {
		imgPath := filepath.Join(workDir, fmt.Sprintf("story_%02d_img_%d.png", idx, n))
		stage, err := p.fallback.Generate(ctx, input, imgPath)
		if err != nil {
			asset.Dropped = true
			asset.DropReason = fmt.Sprintf("image %d: %v", n+1, err)
			asset.Images = nil
			metrics.Global.IncrementStoriesDropped()
			logger.Warn("story dropped", "title", input.Title, "reason", asset.DropReason)
			return asset
		}
		if stage > maxStage {
			maxStage = stage
		}
		asset.Images = append(asset.Images, imgPath)
	}
	asset.ImageStage = maxStage.String()
	return asset
}

func (p *Pipeline) synthesize(ctx context.Context, text, outPath string) (time.Duration, error) {
	err := retry.WithRetry(ctx, speechRetry, func() error {
		err := p.speech.Synthesize(ctx, text, p.opts.Voice, outPath)
		if provider.IsPolicyRefusal(err) {
			// No fallback stage for audio; surface without retrying.
			return retry.Permanent{Err: err}
		}
		return err
	})
	if err != nil {
		return 0, err
	}
	return p.assembler.ProbeDuration(ctx, outPath)
}

func (p *Pipeline) generateThemedImage(ctx context.Context, theme Theme, outPath string) error {
	prompt := "Vertical 9:16 news program opening background, " + theme.PromptHint() +
		", clean composition, no text or logos"
	return retry.WithRetry(ctx, speechRetry, func() error {
		err := p.images.GenerateImage(ctx, prompt, outPath)
		if provider.IsPolicyRefusal(err) {
			return retry.Permanent{Err: err}
		}
		return err
	})
}

func (p *Pipeline) generateEndingImage(ctx context.Context, outPath string) error {
	prompt := "Vertical 9:16 news program closing background, calm minimal gradient, " +
		"subtle light rays, no text or logos"
	return retry.WithRetry(ctx, speechRetry, func() error {
		err := p.images.GenerateImage(ctx, prompt, outPath)
		if provider.IsPolicyRefusal(err) {
			return retry.Permanent{Err: err}
		}
		return err
	})
}

// buildSubtitles writes one SRT per configured language, with cue timing
// derived from measured segment durations.
func (p *Pipeline) buildSubtitles(ctx context.Context, job *Job, script *provider.Script, introDur time.Duration, workDir string) (map[string]string, []string, error) {
	var cues []subtitle.Cue
	cues = append(cues, subtitle.BuildCues(script.Intro, 0, introDur)...)

	offset := introDur
	for _, a := range job.Assets {
		if a.Dropped {
			continue
		}
		cues = append(cues, subtitle.BuildCues(a.Narration, offset, a.Duration)...)
		offset += a.Duration
	}
	cues = subtitle.Renumber(cues)

	paths := map[string]string{}
	var order []string
	for _, lang := range p.opts.SubtitleLanguages {
		track := cues
		if lang != "en" {
			translated, err := subtitle.Translate(ctx, p.translator, cues, lang)
			if err != nil {
				logger.Warn("subtitle translation failed, skipping language",
					"lang", lang, "error", err)
				continue
			}
			track = translated
		}

		path := filepath.Join(workDir, "subtitles_"+lang+".srt")
		if err := os.WriteFile(path, []byte(subtitle.Render(track)), 0o644); err != nil {
			return nil, nil, err
		}
		paths[lang] = path
		order = append(order, lang)
	}

	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("no subtitle track produced")
	}
	return paths, order, nil
}

// assemble renders opening + story clips + ending in selector order and
// muxes subtitles when available.
func (p *Pipeline) assemble(ctx context.Context, job *Job,
	introAudio string, introDur time.Duration,
	outroAudio string, outroDur time.Duration,
	openingImage, endingImage string,
	subtitlePaths map[string]string, langOrder []string, workDir string) (string, error) {

	openingClip := filepath.Join(workDir, "clip_opening.mp4")
	if err := p.assembler.RenderSegment(ctx, assemble.Segment{
		AudioPath: introAudio,
		Images:    []string{openingImage},
		Duration:  introDur,
	}, openingClip); err != nil {
		return "", err
	}
	clips := []string{openingClip}

	for _, a := range job.Assets {
		if a.Dropped {
			continue
		}
		clipPath := filepath.Join(workDir, fmt.Sprintf("clip_story_%02d.mp4", a.Index))
		if err := p.assembler.RenderSegment(ctx, assemble.Segment{
			AudioPath: a.AudioPath,
			Images:    a.Images,
			Duration:  a.Duration,
		}, clipPath); err != nil {
			return "", err
		}
		clips = append(clips, clipPath)
	}

	endingClip := filepath.Join(workDir, "clip_ending.mp4")
	if err := p.assembler.RenderSegment(ctx, assemble.Segment{
		AudioPath: outroAudio,
		Images:    []string{endingImage},
		Duration:  outroDur,
	}, endingClip); err != nil {
		return "", err
	}
	clips = append(clips, endingClip)

	combined := filepath.Join(workDir, "combined.mp4")
	if err := p.assembler.Concat(ctx, clips, combined); err != nil {
		return "", err
	}

	final := filepath.Join(p.opts.OutputDir, fmt.Sprintf("%s_%s.mp4", job.Type, job.CreatedAt.Format("20060102_150405")))
	if len(subtitlePaths) > 0 {
		if err := p.assembler.MuxSubtitles(ctx, combined, subtitlePaths, langOrder, final); err != nil {
			return "", err
		}
	} else {
		if err := os.Rename(combined, final); err != nil {
			return "", err
		}
	}
	return final, nil
}

func (p *Pipeline) fail(job *Job, started time.Time, cause error) (*Summary, error) {
	job.Status = StatusFailed
	metrics.Global.RecordJobStatus(string(StatusFailed))
	metrics.Global.SetError(cause.Error())
	summary, _ := p.finish(job, started, cause, "")
	return summary, cause
}

// finish writes the run summary to disk. Every terminal path goes through
// here exactly once.
func (p *Pipeline) finish(job *Job, started time.Time, cause error, note string) (*Summary, error) {
	summary := &Summary{
		JobID:       job.ID,
		ContentType: job.Type,
		Status:      job.Status,
		Theme:       string(job.Theme),
		StartedAt:   started,
		FinishedAt:  p.now(),
		VideoPath:   job.VideoPath,
	}
	if cause != nil {
		summary.Error = cause.Error()
	} else if note != "" {
		summary.Error = note
	}
	for _, a := range job.Assets {
		if a == nil {
			continue
		}
		if a.Dropped {
			summary.Dropped = append(summary.Dropped, DroppedStory{Title: a.Story.Title, Reason: a.DropReason})
		} else {
			summary.Stories = append(summary.Stories, a.Story.Title)
		}
	}
	if len(job.Assets) == 0 {
		for _, s := range job.Stories {
			summary.Stories = append(summary.Stories, s.Title)
		}
	}

	metrics.Global.RecordRunDuration(summary.FinishedAt.Sub(started))

	if err := WriteSummary(p.opts.OutputDir, summary); err != nil {
		logger.Error("failed to write run summary", "job_id", job.ID, "error", err)
	}
	return summary, nil
}

// WriteSummary persists a run summary as JSON next to the generated videos.
// Callers producing a terminal outcome outside Run use it too, so every run
// leaves a summary file.
func WriteSummary(dir string, s *Summary) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "summary_"+s.JobID+".json"), data, 0o644)
}

func storyInputs(job *Job) []provider.StoryInput {
	inputs := make([]provider.StoryInput, len(job.Stories))
	for i, s := range job.Stories {
		inputs[i] = provider.StoryInput{
			Title:    s.Title,
			Summary:  s.Summary,
			FullText: job.FullTexts[s.Link],
			Source:   s.Source,
			Category: s.Category,
		}
	}
	return inputs
}

func toneFor(ct ContentType) string {
	switch ct {
	case BreakingShorts:
		return "urgent but factual breaking news"
	case WeeklyVideo:
		return "measured weekly recap"
	default:
		return "brisk daily briefing"
	}
}
