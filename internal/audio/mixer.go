// Package audio mixes scheduled cue clips into one track of the full video length.
package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/ivlev/stopcast/internal/cue"
	"github.com/ivlev/stopcast/internal/effects"
	"github.com/ivlev/stopcast/internal/system"
)

var ErrNonPositiveDuration = errors.New("mix duration must be positive")

type Gains struct {
	Narration float64
	Emergency float64
}

type Mixer struct {
	Runner     system.Runner
	FFmpeg     string
	SampleRate int
	Codec      string
	Gains      Gains
	Effects    effects.Registry
}

// Plan is a fully built ffmpeg invocation.
type Plan struct {
	Inputs []string
	Filter string
	Args   []string
}

// BuildPlan constructs the ffmpeg arguments. Identical input always yields an
// identical plan; sub-mixes follow the cue order.
//
// Graph layout: input 0 is silence of the full length; every cue becomes
// [cN] (volume + adelay), emergencies with an effect get the looped underlay
// mixed in first; the master amix uses duration=longest so the result is never
// shorter than the silence.
func (m *Mixer) BuildPlan(total float64, cues []cue.Cue, out string) (Plan, error) {
	if total <= 0 {
		return Plan{}, ErrNonPositiveDuration
	}
	rate := m.SampleRate
	if rate <= 0 {
		rate = 44100
	}
	codec := m.Codec
	if codec == "" {
		codec = "aac"
	}

	inputs := []string{
		"-f", "lavfi", "-i", fmt.Sprintf("anullsrc=r=%d:cl=stereo:d=%s", rate, effects.FormatSeconds(total)),
	}
	var graph strings.Builder
	labels := []string{"[0:a]"}
	next := 1

	for n, c := range cues {
		clip := next
		inputs = append(inputs, "-i", c.Path)
		next++

		delay := delayMs(c.Start)
		gain := m.Gains.Narration
		if c.IsEmergency {
			gain = m.Gains.Emergency
		}
		label := fmt.Sprintf("c%d", n)

		var eff effects.Effect
		hasEffect := false
		if c.IsEmergency && c.Duration > 0 && m.Effects != nil {
			eff, hasEffect = m.Effects.For(c.EmergencyType)
		}

		if !hasEffect {
			fmt.Fprintf(&graph, "[%d:a]volume=%s,adelay=%d|%d[%s];",
				clip, effects.FormatGain(gain), delay, delay, label)
			labels = append(labels, "["+label+"]")
			continue
		}

		fx := next
		inputs = append(inputs, "-i", eff.Source())
		next++

		voice := fmt.Sprintf("v%d", n)
		under := fmt.Sprintf("fx%d", n)
		fmt.Fprintf(&graph, "[%d:a]volume=%s,adelay=%d|%d[%s];",
			clip, effects.FormatGain(gain), delay, delay, voice)
		graph.WriteString(eff.GenerateFilter(fmt.Sprintf("%d:a", fx), under, c.Duration, delay))
		graph.WriteString(";")
		fmt.Fprintf(&graph, "[%s][%s]amix=inputs=2:duration=longest[%s];", voice, under, label)
		labels = append(labels, "["+label+"]")
	}

	fmt.Fprintf(&graph, "%samix=inputs=%d:duration=longest[outa]", strings.Join(labels, ""), len(labels))

	filter := graph.String()
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	args = append(args, inputs...)
	args = append(args, "-filter_complex", filter, "-map", "[outa]", "-c:a", codec, out)

	return Plan{Inputs: inputs, Filter: filter, Args: args}, nil
}

// Mix renders the mixed track into out.
func (m *Mixer) Mix(ctx context.Context, total float64, cues []cue.Cue, out string) error {
	plan, err := m.BuildPlan(total, cues, out)
	if err != nil {
		return err
	}
	bin := m.FFmpeg
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, err := m.Runner.Run(ctx, bin, plan.Args...); err != nil {
		return fmt.Errorf("mix audio: %w", err)
	}
	return nil
}

func delayMs(start float64) int64 {
	if start <= 0 {
		return 0
	}
	return int64(math.Round(start * 1000))
}
