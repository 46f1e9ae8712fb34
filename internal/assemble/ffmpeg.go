// Package assemble turns per-story images and narration audio into the final
// video using ffmpeg.
package assemble

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/newsreel/newsreel/internal/logger"
)

// Segment is one story's renderable unit: its narration audio and the images
// shown while it plays. Each image gets an equal share of the audio duration.
type Segment struct {
	AudioPath string
	Images    []string
	Duration  time.Duration
}

type Assembler struct {
	FFmpegPath  string
	FFprobePath string
	WorkDir     string
}

func New(workDir string) *Assembler {
	return &Assembler{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		WorkDir:     workDir,
	}
}

// ProbeDuration measures a media file's duration with ffprobe.
func (a *Assembler) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, a.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing ffprobe output %q: %w", out, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// RenderSegment builds one story's clip: a slideshow of the segment's images
// timed to cover the narration exactly, muxed with the audio.
func (a *Assembler) RenderSegment(ctx context.Context, seg Segment, outPath string) error {
	if len(seg.Images) == 0 {
		return fmt.Errorf("segment has no images")
	}
	if seg.Duration <= 0 {
		return fmt.Errorf("segment has no measured duration")
	}

	perImage := seg.Duration / time.Duration(len(seg.Images))

	listPath, err := a.writeConcatList(seg.Images, perImage)
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	args := []string{
		"-y",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-i", seg.AudioPath,
		"-c:v", "libx264", "-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-vf", "scale=1080:1920:force_original_aspect_ratio=decrease,pad=1080:1920:(ow-iw)/2:(oh-ih)/2",
		"-shortest",
		outPath,
	}
	return a.run(ctx, args)
}

// Concat joins already-rendered clips in order into outPath without
// re-encoding.
func (a *Assembler) Concat(ctx context.Context, clipPaths []string, outPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("nothing to concatenate")
	}

	var sb strings.Builder
	for _, p := range clipPaths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(&sb, "file '%s'\n", abs)
	}

	listPath := filepath.Join(a.WorkDir, "concat_clips.txt")
	if err := os.WriteFile(listPath, []byte(sb.String()), 0o644); err != nil {
		return err
	}
	defer os.Remove(listPath)

	args := []string{
		"-y",
		"-f", "concat", "-safe", "0", "-i", listPath,
		"-c", "copy",
		outPath,
	}
	return a.run(ctx, args)
}

// MuxSubtitles embeds SRT tracks as soft subtitles. langs maps a language
// code to its SRT path; track order follows langOrder for determinism.
func (a *Assembler) MuxSubtitles(ctx context.Context, videoPath string, langs map[string]string, langOrder []string, outPath string) error {
	if len(langs) == 0 {
		return fmt.Errorf("no subtitle tracks")
	}

	args := []string{"-y", "-i", videoPath}
	var mapped []string
	for _, lang := range langOrder {
		path, ok := langs[lang]
		if !ok {
			continue
		}
		args = append(args, "-i", path)
		mapped = append(mapped, lang)
	}

	args = append(args, "-map", "0")
	for i := range mapped {
		args = append(args, "-map", strconv.Itoa(i+1))
	}
	args = append(args, "-c", "copy", "-c:s", "mov_text")
	for i, lang := range mapped {
		args = append(args, fmt.Sprintf("-metadata:s:s:%d", i), "language="+lang)
	}
	args = append(args, outPath)

	return a.run(ctx, args)
}

// writeConcatList produces a concat-demuxer file showing each image for an
// equal share of the segment duration. The final image is repeated without a
// duration line, which the demuxer requires.
func (a *Assembler) writeConcatList(images []string, perImage time.Duration) (string, error) {
	var sb strings.Builder
	for _, img := range images {
		abs, err := filepath.Abs(img)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "file '%s'\nduration %.3f\n", abs, perImage.Seconds())
	}
	last, err := filepath.Abs(images[len(images)-1])
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, "file '%s'\n", last)

	f, err := os.CreateTemp(a.WorkDir, "concat_images_*.txt")
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := f.WriteString(sb.String()); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func (a *Assembler) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, a.FFmpegPath, args...)

	out, err := cmd.CombinedOutput()
	if err != nil {
		logger.Error("ffmpeg failed", "args", strings.Join(args, " "), "output", tail(string(out), 500))
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
