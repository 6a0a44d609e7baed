package engine

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ivlev/stopcast/internal/audio"
	"github.com/ivlev/stopcast/internal/config"
	"github.com/ivlev/stopcast/internal/cue"
	"github.com/ivlev/stopcast/internal/logger"
	"github.com/ivlev/stopcast/internal/queue"
	"github.com/ivlev/stopcast/internal/renderer"
	"github.com/ivlev/stopcast/internal/scenario"
	"github.com/ivlev/stopcast/internal/system"
)

type fakeSynth struct {
	fail map[string]bool
}

func (f *fakeSynth) Synthesize(ctx context.Context, text, out string) error {
	if f.fail[filepath.Base(out)] {
		return errors.New("tts request: unexpected status 503")
	}
	return os.WriteFile(out, []byte("ID3"), 0644)
}

type fakeEncoder struct {
	frames    int
	muxed     bool
	encodeErr error
}

func (f *fakeEncoder) EncodeFrames(ctx context.Context, pattern string, fps float64, out string) error {
	if f.encodeErr != nil {
		return f.encodeErr
	}
	files, _ := filepath.Glob(filepath.Join(filepath.Dir(pattern), "frame_*.png"))
	f.frames = len(files)
	return os.WriteFile(out, []byte("video-only"), 0644)
}

func (f *fakeEncoder) Mux(ctx context.Context, videoPath, audioPath, out string) error {
	f.muxed = true
	return os.WriteFile(out, []byte("muxed"), 0644)
}

// mixRunner pretends to be ffmpeg: writes the output file named last.
type mixRunner struct {
	mu   sync.Mutex
	args []string
}

func (m *mixRunner) Run(ctx context.Context, name string, args ...string) (system.Result, error) {
	m.mu.Lock()
	m.args = args
	m.mu.Unlock()
	return system.Result{}, os.WriteFile(args[len(args)-1], []byte("aac"), 0644)
}

type flatRenderer struct{}

func (flatRenderer) Render(*scenario.Scenario, renderer.State) *image.RGBA {
	return system.GetImage(image.Rect(0, 0, 16, 8))
}

func (flatRenderer) Bounds() image.Rectangle { return image.Rect(0, 0, 16, 8) }

type panicRenderer struct{ flatRenderer }

func (panicRenderer) Render(*scenario.Scenario, renderer.State) *image.RGBA {
	panic("nil face")
}

type cueCounter struct{ n int }

func (c *cueCounter) IncCueFailures() { c.n++ }

type fixture struct {
	pipeline *Pipeline
	synth    *fakeSynth
	encoder  *fakeEncoder
	mixer    *mixRunner
	failures *cueCounter
	tmp      string
	out      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.Temp = t.TempDir()
	cfg.Paths.Videos = t.TempDir()

	f := &fixture{
		synth:    &fakeSynth{},
		encoder:  &fakeEncoder{},
		mixer:    &mixRunner{},
		failures: &cueCounter{},
		tmp:      cfg.Paths.Temp,
		out:      filepath.Join(cfg.Paths.Videos, "scenario_line7.mp4"),
	}
	f.pipeline = &Pipeline{
		Config:    cfg,
		Log:       logger.Discard(),
		TTS:       f.synth,
		Scheduler: cue.NewScheduler(cue.DefaultPolicy(), cue.DefaultTemplates()),
		Mixer:     &audio.Mixer{Runner: f.mixer, Gains: audio.Gains{Narration: 5, Emergency: 7}},
		Encoder:   f.encoder,
		Renderer:  flatRenderer{},
		Metrics:   f.failures,
	}
	return f
}

func (f *fixture) assertTempClean(t *testing.T) {
	t.Helper()
	entries, _ := os.ReadDir(f.tmp)
	if len(entries) != 0 {
		t.Errorf("Expected job temp dir to be removed, found %d entries", len(entries))
	}
}

func line7() *scenario.Scenario {
	return &scenario.Scenario{
		ID:   "line7",
		Name: "Line 7",
		Stops: []scenario.Stop{
			{Name: "Depot", StaySeconds: 30, BetweenSeconds: 60},
			{Name: "Harbor"},
		},
	}
}

func TestRenderFileProducesVideo(t *testing.T) {
	f := newFixture(t)

	rep, err := f.pipeline.RenderFile(context.Background(), line7(), f.out)
	if err != nil {
		t.Fatalf("RenderFile failed: %v", err)
	}
	if rep.Frames != 45 || f.encoder.frames != 45 {
		t.Errorf("Expected 45 frames for 90s at 0.5 fps, got report=%d encoder=%d", rep.Frames, f.encoder.frames)
	}
	if rep.Cues != 2 || !f.encoder.muxed {
		t.Errorf("Expected welcome and final cues mixed and muxed, got %+v", rep)
	}
	data, err := os.ReadFile(f.out)
	if err != nil || string(data) != "muxed" {
		t.Errorf("Expected final muxed video, got %q (%v)", data, err)
	}
	if _, err := os.Stat(partPath(f.out)); !os.IsNotExist(err) {
		t.Error("Partial file must not survive a successful job")
	}
	f.assertTempClean(t)
}

func TestRenderFileOmitsFailedCue(t *testing.T) {
	f := newFixture(t)
	f.synth.fail = map[string]bool{"welcome.mp3": true}

	rep, err := f.pipeline.RenderFile(context.Background(), line7(), f.out)
	if err != nil {
		t.Fatalf("A failed cue must not fail the job: %v", err)
	}
	if rep.Cues != 1 || rep.CueFailed != 1 || f.failures.n != 1 {
		t.Errorf("Expected one cue dropped, got report %+v, metric %d", rep, f.failures.n)
	}
	if strings.Contains(strings.Join(f.mixer.args, " "), "welcome.mp3") {
		t.Error("Failed cue must not reach the mixer")
	}
}

func TestRenderFileWithoutCuesCopiesVideo(t *testing.T) {
	f := newFixture(t)
	f.synth.fail = map[string]bool{"welcome.mp3": true, "announcement_1.mp3": true}

	if _, err := f.pipeline.RenderFile(context.Background(), line7(), f.out); err != nil {
		t.Fatal(err)
	}
	if f.encoder.muxed || f.mixer.args != nil {
		t.Error("Without cues nothing should be mixed or muxed")
	}
	data, _ := os.ReadFile(f.out)
	if string(data) != "video-only" {
		t.Errorf("Expected the video-only file as output, got %q", data)
	}
}

func TestRenderFileInputErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.pipeline.RenderFile(ctx, &scenario.Scenario{ID: "x"}, f.out); !errors.Is(err, ErrNoStops) {
		t.Errorf("Expected ErrNoStops, got %v", err)
	}
	zero := &scenario.Scenario{ID: "z", Stops: []scenario.Stop{{Name: "A"}, {Name: "B"}}}
	if _, err := f.pipeline.RenderFile(ctx, zero, f.out); !errors.Is(err, ErrEmptyTimeline) {
		t.Errorf("Expected ErrEmptyTimeline, got %v", err)
	}
	if _, err := os.Stat(f.out); !os.IsNotExist(err) {
		t.Error("No output may be produced for invalid input")
	}
	f.assertTempClean(t)
}

func TestRenderFileEncoderFailureCleansUp(t *testing.T) {
	f := newFixture(t)
	f.encoder.encodeErr = &system.CommandError{Command: "ffmpeg", ExitCode: 1, Err: errors.New("exit status 1")}

	_, err := f.pipeline.RenderFile(context.Background(), line7(), f.out)
	var ce *system.CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected CommandError, got %v", err)
	}
	if _, err := os.Stat(f.out); !os.IsNotExist(err) {
		t.Error("No output may be produced when encoding fails")
	}
	f.assertTempClean(t)
}

func TestRenderPanicFailsJob(t *testing.T) {
	f := newFixture(t)
	f.pipeline.Renderer = panicRenderer{}
	job := queue.Job{ScenarioID: "line7", Scenario: *line7(), OutputPath: f.out}

	err := f.pipeline.Process(context.Background(), job)
	if err == nil || !strings.Contains(err.Error(), "render panic: nil face") {
		t.Fatalf("Expected render panic error, got %v", err)
	}
	if _, err := os.Stat(f.out); !os.IsNotExist(err) {
		t.Error("No output may be produced when a frame fails")
	}
	f.assertTempClean(t)
}

func TestProcessUsesJobSnapshot(t *testing.T) {
	f := newFixture(t)
	sc := line7()
	sc.ID = ""
	job := queue.Job{ScenarioID: "line7", Scenario: *sc, OutputPath: f.out}

	if err := f.pipeline.Process(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(f.out); err != nil {
		t.Errorf("Expected output at %s: %v", f.out, err)
	}
}

func TestRenderFileCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.pipeline.RenderFile(ctx, line7(), f.out); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	f.assertTempClean(t)
}

func TestHelpers(t *testing.T) {
	if got := partPath("/videos/scenario_a.mp4"); got != "/videos/.scenario_a.part.mp4" {
		t.Errorf("partPath = %s", got)
	}
	if got := safeName("../etc/passwd"); got != "___etc_passwd" {
		t.Errorf("safeName = %s", got)
	}
}
