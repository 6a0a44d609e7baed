// Package engine runs the per-job render pipeline: timeline, narration,
// frames, encode, mix, mux.
package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/stopcast/internal/audio"
	"github.com/ivlev/stopcast/internal/config"
	"github.com/ivlev/stopcast/internal/cue"
	"github.com/ivlev/stopcast/internal/effects"
	"github.com/ivlev/stopcast/internal/publish"
	"github.com/ivlev/stopcast/internal/queue"
	"github.com/ivlev/stopcast/internal/renderer"
	"github.com/ivlev/stopcast/internal/scenario"
	"github.com/ivlev/stopcast/internal/source"
	"github.com/ivlev/stopcast/internal/system"
	"github.com/ivlev/stopcast/internal/timeline"
	"github.com/ivlev/stopcast/internal/tts"
	"github.com/ivlev/stopcast/internal/video"
)

var (
	ErrNoStops       = errors.New("scenario has no stops")
	ErrEmptyTimeline = errors.New("scenario has no positive duration")
)

// TempPrefix starts every job temp directory; startup cleanup matches on it.
const TempPrefix = "scenario_"

const framePattern = "frame_%06d.png"

type CueRecorder interface {
	IncCueFailures()
}

type Pipeline struct {
	Config    *config.Config
	Log       *slog.Logger
	TTS       tts.Synthesizer
	Scheduler *cue.Scheduler
	Mixer     *audio.Mixer
	Encoder   video.Encoder
	Renderer  source.FrameRenderer
	Publisher publish.Publisher
	Metrics   CueRecorder
}

// New wires the production pipeline from cfg.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, runner system.Runner, rec CueRecorder) (*Pipeline, error) {
	r, err := renderer.New(cfg.Render.Width, cfg.Render.Height)
	if err != nil {
		return nil, err
	}
	synth, err := tts.New(cfg.TTS, runner)
	if err != nil {
		return nil, err
	}
	pub, err := publish.New(cfg.Publish)
	if err != nil {
		return nil, err
	}

	codec := cfg.Render.VideoEncoder
	if codec == "" || codec == "auto" {
		codec = system.BestH264Encoder(ctx, runner, cfg.Render.FFmpeg)
		log.Info("video encoder selected", "encoder", codec)
	}

	n := cfg.Narration
	templates := cue.DefaultTemplates().Merge(n.Welcome, n.NextStop, n.FinalStop, n.Emergency)
	fx := effects.NewRegistry(cfg.Paths.Media, cfg.Audio.Effects, cfg.Audio.EffectGain)
	for _, src := range fx.Sources() {
		if _, err := os.Stat(src); err != nil {
			log.Warn("effect file missing", "path", src)
		}
	}

	return &Pipeline{
		Config:    cfg,
		Log:       log,
		TTS:       synth,
		Scheduler: cue.NewScheduler(cue.Policy{LeadSeconds: n.LeadSeconds, SuppressWelcomeOnEmergency: n.SuppressWelcomeOnEmergency}, templates),
		Mixer: &audio.Mixer{
			Runner:     runner,
			FFmpeg:     cfg.Render.FFmpeg,
			SampleRate: cfg.Audio.SampleRate,
			Codec:      cfg.Audio.AudioCodec,
			Gains:      audio.Gains{Narration: cfg.Audio.NarrationGain, Emergency: cfg.Audio.EmergencyGain},
			Effects:    fx,
		},
		Encoder: &video.FFmpegEncoder{
			Runner:  runner,
			FFmpeg:  cfg.Render.FFmpeg,
			Codec:   codec,
			Quality: cfg.Render.Quality,
			Preset:  cfg.Render.Preset,
			Tune:    cfg.Render.Tune,
		},
		Renderer:  r,
		Publisher: pub,
		Metrics:   rec,
	}, nil
}

// Report holds the timings of one finished job.
type Report struct {
	ScenarioID string
	Frames     int
	Cues       int
	CueFailed  int
	Physical   float64
	Total      time.Duration
	Synthesis  time.Duration
	Render     time.Duration
	Encode     time.Duration
	Mix        time.Duration
	Stats      system.Stats
}

func (r Report) FPS() float64 {
	if r.Render <= 0 {
		return 0
	}
	return float64(r.Frames) / r.Render.Seconds()
}

// Process implements queue.Processor.
func (p *Pipeline) Process(ctx context.Context, job queue.Job) error {
	sc := job.Scenario
	if sc.ID == "" {
		sc.ID = job.ScenarioID
	}
	_, err := p.RenderFile(ctx, &sc, job.OutputPath)
	return err
}

// RenderFile renders sc into out. The job temp directory is removed on every
// exit path and out only appears once the video is complete.
func (p *Pipeline) RenderFile(ctx context.Context, sc *scenario.Scenario, out string) (Report, error) {
	start := time.Now()
	rep := Report{ScenarioID: sc.ID}
	log := p.Log.With("scenario_id", sc.ID)

	if len(sc.Stops) == 0 {
		return rep, ErrNoStops
	}
	tl := timeline.Build(sc.Stops, sc.Emergencies)
	if tl.LogicalDuration <= 0 {
		return rep, ErrEmptyTimeline
	}
	if err := tl.Validate(); err != nil {
		return rep, fmt.Errorf("timeline: %w", err)
	}
	if tl.Skipped > 0 {
		log.Warn("emergencies without duration skipped", "count", tl.Skipped)
	}
	rep.Physical = tl.PhysicalDuration

	tmp, err := os.MkdirTemp(p.Config.Paths.Temp, fmt.Sprintf("%s%s_%s_", TempPrefix, safeName(sc.ID), uuid.NewString()[:8]))
	if err != nil {
		return rep, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	// 1. Озвучка
	t0 := time.Now()
	cues := p.synthesize(ctx, log, p.Scheduler.Schedule(sc, tl, tmp), &rep)
	if err := ctx.Err(); err != nil {
		return rep, err
	}
	rep.Synthesis = time.Since(t0)

	// 2. Кадры
	t0 = time.Now()
	framesDir := filepath.Join(tmp, "frames")
	if err := os.Mkdir(framesDir, 0755); err != nil {
		return rep, err
	}
	src := source.NewTimelineSource(sc, tl, p.Renderer, p.Config.Render.FPS)
	defer src.Close()
	if err := p.renderFrames(ctx, log, src, framesDir); err != nil {
		return rep, fmt.Errorf("render frames: %w", err)
	}
	rep.Frames = src.FrameCount()
	rep.Render = time.Since(t0)

	// 3. Видео
	t0 = time.Now()
	videoOnly := filepath.Join(tmp, "video_only.mp4")
	if err := p.Encoder.EncodeFrames(ctx, filepath.Join(framesDir, framePattern), p.Config.Render.FPS, videoOnly); err != nil {
		return rep, err
	}
	rep.Encode = time.Since(t0)

	// 4. Звук и сборка
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return rep, err
	}
	part := partPath(out)
	defer os.Remove(part)

	if len(cues) > 0 {
		t0 = time.Now()
		merged := filepath.Join(tmp, "merged_audio.aac")
		if err := p.Mixer.Mix(ctx, tl.PhysicalDuration, cues, merged); err != nil {
			return rep, err
		}
		rep.Mix = time.Since(t0)
		if err := p.Encoder.Mux(ctx, videoOnly, merged, part); err != nil {
			return rep, err
		}
	} else if err := copyFile(videoOnly, part); err != nil {
		return rep, err
	}
	if err := os.Rename(part, out); err != nil {
		return rep, fmt.Errorf("finalize video: %w", err)
	}

	if err := p.publisher().Publish(ctx, out, filepath.Base(out)); err != nil {
		log.Warn("publish failed", "error", err)
	}

	rep.Total = time.Since(start)
	rep.Stats = system.Snapshot()
	p.report(log, rep)
	return rep, nil
}

// synthesize generates every clip in order. A failed clip is dropped from
// the mix; the job goes on without it.
func (p *Pipeline) synthesize(ctx context.Context, log *slog.Logger, cues []cue.Cue, rep *Report) []cue.Cue {
	ok := make([]cue.Cue, 0, len(cues))
	for _, c := range cues {
		if ctx.Err() != nil {
			return ok
		}
		if err := p.TTS.Synthesize(ctx, c.Text, c.Path); err != nil {
			rep.CueFailed++
			if p.Metrics != nil {
				p.Metrics.IncCueFailures()
			}
			log.Warn("cue synthesis failed", "cue", c.Name, "start", c.Start, "error", err)
			continue
		}
		ok = append(ok, c)
	}
	rep.Cues = len(ok)
	return ok
}

type frame struct {
	index int
	img   *image.RGBA
}

// renderFrames: один рендерер по порядку, PNG пишет второй этап.
// Каждые YieldEvery кадров отдаем планировщик и проверяем отмену.
func (p *Pipeline) renderFrames(ctx context.Context, log *slog.Logger, src source.Source, dir string) error {
	total := src.FrameCount()
	yield := p.Config.Render.YieldEvery
	if yield <= 0 {
		yield = 10
	}

	g, gctx := errgroup.WithContext(ctx)
	frames := make(chan frame, yield)

	g.Go(func() (err error) {
		defer close(frames)
		defer recoverStage(&err, "render")
		for i := 0; i < total; i++ {
			img, err := src.RenderFrame(i)
			if err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
			select {
			case frames <- frame{index: i, img: img}:
			case <-gctx.Done():
				system.PutImage(img)
				return gctx.Err()
			}
			if (i+1)%yield == 0 {
				runtime.Gosched()
				log.Debug("frames rendered", "frame", i+1, "total", total)
				if err := gctx.Err(); err != nil {
					return err
				}
			}
		}
		return nil
	})

	g.Go(func() (err error) {
		defer recoverStage(&err, "png writer")
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		for f := range frames {
			err := writePNG(&enc, filepath.Join(dir, fmt.Sprintf(framePattern, f.index)), f.img)
			system.PutImage(f.img)
			if err != nil {
				// дочитываем канал, чтобы вернуть кадры в пул
				for rest := range frames {
					system.PutImage(rest.img)
				}
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// recoverStage turns a panic in a pipeline goroutine into its error.
// The worker's own recover does not reach errgroup goroutines.
func recoverStage(err *error, stage string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s panic: %v", stage, r)
	}
}

func writePNG(enc *png.Encoder, path string, img *image.RGBA) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := enc.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (p *Pipeline) report(log *slog.Logger, rep Report) {
	log.Info("job report",
		"build", p.Config.BuildVersion,
		"duration", rep.Physical,
		"frames", rep.Frames,
		"cues", rep.Cues,
		"cue_failures", rep.CueFailed,
		"total", rep.Total.Round(time.Millisecond),
		"synthesis", rep.Synthesis.Round(time.Millisecond),
		"render", rep.Render.Round(time.Millisecond),
		"encode", rep.Encode.Round(time.Millisecond),
		"mix", rep.Mix.Round(time.Millisecond),
		"fps", fmt.Sprintf("%.2f", rep.FPS()),
		"rss_mb", rep.Stats.ProcessRSS>>20,
		"host_used_percent", fmt.Sprintf("%.1f", rep.Stats.HostUsedPercent),
	)

	if !p.Config.Render.ShowStats {
		return
	}
	// Логирование в файл
	entry := fmt.Sprintf("[%s] Build: %s | Scenario: %s | Frames: %d | Total: %.2fs | Render: %.2fs | Encode: %.2fs | Mix: %.2fs | FPS: %.2f\n",
		time.Now().Format("2006-01-02 15:04:05"),
		p.Config.BuildVersion, rep.ScenarioID, rep.Frames,
		rep.Total.Seconds(), rep.Render.Seconds(), rep.Encode.Seconds(), rep.Mix.Seconds(), rep.FPS(),
	)
	f, err := os.OpenFile(filepath.Join(p.Config.Paths.Videos, "benchmark.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn("benchmark log unavailable", "error", err)
		return
	}
	f.WriteString(entry)
	f.Close()
}

func (p *Pipeline) publisher() publish.Publisher {
	if p.Publisher == nil {
		return publish.Nop{}
	}
	return p.Publisher
}

// partPath keeps the container extension so ffmpeg picks the muxer.
func partPath(out string) string {
	dir, base := filepath.Split(out)
	ext := filepath.Ext(base)
	return filepath.Join(dir, "."+strings.TrimSuffix(base, ext)+".part"+ext)
}

func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, id)
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
