package audio

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ivlev/stopcast/internal/cue"
	"github.com/ivlev/stopcast/internal/effects"
	"github.com/ivlev/stopcast/internal/scenario"
	"github.com/ivlev/stopcast/internal/system"
)

type fakeRunner struct {
	args []string
	err  error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (system.Result, error) {
	f.args = append([]string{name}, args...)
	return system.Result{}, f.err
}

func newMixer(r system.Runner) *Mixer {
	return &Mixer{
		Runner:     r,
		SampleRate: 44100,
		Gains:      Gains{Narration: 5, Emergency: 7},
		Effects: effects.Registry{
			scenario.EmergencyDanger: effects.LoopEffect{Path: "/media/siren.mp3", Gain: 0.5},
		},
	}
}

func TestBuildPlanGraph(t *testing.T) {
	cues := []cue.Cue{
		{Path: "/j/welcome.mp3", Start: 0},
		{Path: "/j/emergency_0.mp3", Start: 40, IsEmergency: true, Duration: 20, EmergencyType: scenario.EmergencyDanger},
		{Path: "/j/emergency_1.mp3", Start: 61.25, IsEmergency: true, Duration: 5, EmergencyType: scenario.EmergencyTraffic},
		{Path: "/j/announcement_1.mp3", Start: 70},
	}

	plan, err := newMixer(nil).BuildPlan(110, cues, "/j/merged_audio.aac")
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}

	want := strings.Join([]string{
		"[1:a]volume=5.0,adelay=0|0[c0]",
		"[2:a]volume=7.0,adelay=40000|40000[v1]",
		"[3:a]aloop=loop=-1:size=2e+09,atrim=0:20,volume=0.5,adelay=40000|40000[fx1]",
		"[v1][fx1]amix=inputs=2:duration=longest[c1]",
		"[4:a]volume=7.0,adelay=61250|61250[c2]",
		"[5:a]volume=5.0,adelay=70000|70000[c3]",
		"[0:a][c0][c1][c2][c3]amix=inputs=5:duration=longest[outa]",
	}, ";")
	if plan.Filter != want {
		t.Errorf("Unexpected graph:\n got: %s\nwant: %s", plan.Filter, want)
	}

	wantInputs := []string{
		"-f", "lavfi", "-i", "anullsrc=r=44100:cl=stereo:d=110",
		"-i", "/j/welcome.mp3",
		"-i", "/j/emergency_0.mp3",
		"-i", "/media/siren.mp3",
		"-i", "/j/emergency_1.mp3",
		"-i", "/j/announcement_1.mp3",
	}
	if !reflect.DeepEqual(plan.Inputs, wantInputs) {
		t.Errorf("Unexpected inputs %v", plan.Inputs)
	}
	tail := plan.Args[len(plan.Args)-5:]
	if !reflect.DeepEqual(tail, []string{"-map", "[outa]", "-c:a", "aac", "/j/merged_audio.aac"}) {
		t.Errorf("Unexpected output args %v", tail)
	}
}

func TestBuildPlanIsDeterministic(t *testing.T) {
	cues := []cue.Cue{
		{Path: "a.mp3", Start: 3},
		{Path: "b.mp3", Start: 3, IsEmergency: true, Duration: 4, EmergencyType: scenario.EmergencyDanger},
	}
	m := newMixer(nil)
	p1, _ := m.BuildPlan(10, cues, "out.aac")
	p2, _ := m.BuildPlan(10, cues, "out.aac")
	if !reflect.DeepEqual(p1, p2) {
		t.Error("Expected identical plans for identical input")
	}
}

func TestBuildPlanOnlySilence(t *testing.T) {
	plan, err := newMixer(nil).BuildPlan(30, nil, "out.aac")
	if err != nil {
		t.Fatal(err)
	}
	if plan.Filter != "[0:a]amix=inputs=1:duration=longest[outa]" {
		t.Errorf("Unexpected graph %s", plan.Filter)
	}
	if _, err := newMixer(nil).BuildPlan(0, nil, "out.aac"); !errors.Is(err, ErrNonPositiveDuration) {
		t.Errorf("Expected ErrNonPositiveDuration, got %v", err)
	}
}

func TestMixRunsFFmpeg(t *testing.T) {
	r := &fakeRunner{}
	m := newMixer(r)
	if err := m.Mix(context.Background(), 10, []cue.Cue{{Path: "a.mp3", Start: 1}}, "out.aac"); err != nil {
		t.Fatalf("Mix failed: %v", err)
	}
	if r.args[0] != "ffmpeg" || r.args[len(r.args)-1] != "out.aac" {
		t.Errorf("Unexpected invocation %v", r.args)
	}

	r.err = errors.New("boom")
	if err := m.Mix(context.Background(), 10, nil, "out.aac"); err == nil {
		t.Error("Expected runner error to propagate")
	}
}
