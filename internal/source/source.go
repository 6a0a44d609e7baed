package source

import (
	"errors"
	"image"
	"math"

	"github.com/ivlev/stopcast/internal/renderer"
	"github.com/ivlev/stopcast/internal/scenario"
	"github.com/ivlev/stopcast/internal/timeline"
)

var ErrFrameOutOfRange = errors.New("frame index out of range")

// Source produces the frames of one video.
type Source interface {
	FrameCount() int
	Dimensions() (width, height int)
	RenderFrame(index int) (*image.RGBA, error)
	Close() error
}

// FrameRenderer draws a single frame for a resolved board state.
type FrameRenderer interface {
	Render(sc *scenario.Scenario, st renderer.State) *image.RGBA
	Bounds() image.Rectangle
}

// TimelineSource samples the timeline at i/fps for frame i.
type TimelineSource struct {
	scenario *scenario.Scenario
	timeline *timeline.Timeline
	renderer FrameRenderer
	fps      float64
	frames   int
}

func NewTimelineSource(sc *scenario.Scenario, tl *timeline.Timeline, r FrameRenderer, fps float64) *TimelineSource {
	return &TimelineSource{
		scenario: sc,
		timeline: tl,
		renderer: r,
		fps:      fps,
		frames:   FrameCount(tl.PhysicalDuration, fps),
	}
}

// FrameCount is ceil(total*fps); at least one frame for a non-empty video.
func FrameCount(total, fps float64) int {
	if total <= 0 || fps <= 0 {
		return 0
	}
	n := int(math.Ceil(total*fps - 1e-9))
	if n < 1 {
		n = 1
	}
	return n
}

func (s *TimelineSource) FrameCount() int { return s.frames }

func (s *TimelineSource) Dimensions() (int, int) {
	b := s.renderer.Bounds()
	return b.Dx(), b.Dy()
}

// FrameTime returns the physical time shown by frame index.
func (s *TimelineSource) FrameTime(index int) float64 {
	return float64(index) / s.fps
}

func (s *TimelineSource) RenderFrame(index int) (*image.RGBA, error) {
	if index < 0 || index >= s.frames {
		return nil, ErrFrameOutOfRange
	}
	st := renderer.StateAt(s.timeline, s.scenario.Stops, s.FrameTime(index))
	return s.renderer.Render(s.scenario, st), nil
}

func (s *TimelineSource) Close() error { return nil }
