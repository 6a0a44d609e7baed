// Package cue schedules narration and emergency announcements on the
// physical timeline.
package cue

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ivlev/stopcast/internal/scenario"
	"github.com/ivlev/stopcast/internal/timeline"
)

// Cue is one audio clip with an absolute physical start time.
type Cue struct {
	Name          string
	Text          string
	Path          string
	Start         float64
	IsEmergency   bool
	Duration      float64
	EmergencyType scenario.EmergencyType
}

// Templates hold narration texts. Placeholders: {destination}, {stop}, {text}.
type Templates struct {
	Welcome   string
	NextStop  string
	FinalStop string
	Emergency map[scenario.EmergencyType]string
}

func DefaultTemplates() Templates {
	return Templates{
		Welcome:   "Welcome aboard. This bus is heading to {destination}. Please remain seated and enjoy your journey.",
		NextStop:  "Next stop, {stop}",
		FinalStop: "Arriving at final stop, {stop}, Please leave the bus, thank you for riding with us.",
		Emergency: map[scenario.EmergencyType]string{
			scenario.EmergencyDanger:       "Emergency alert! {text}.",
			scenario.EmergencyTraffic:      "Traffic alert. {text}. Please remain patient. Thank you.",
			scenario.EmergencyWeather:      "Weather alert. {text}. Please be cautious. Thank you.",
			scenario.EmergencyInformation:  "Attention passengers. {text}. Thank you.",
			scenario.EmergencyAnnouncement: "Announcement. {text}. Thank you for your attention.",
		},
	}
}

// Merge returns t with every non-empty field of override applied.
func (t Templates) Merge(welcome, next, final string, emergency map[string]string) Templates {
	out := t
	if welcome != "" {
		out.Welcome = welcome
	}
	if next != "" {
		out.NextStop = next
	}
	if final != "" {
		out.FinalStop = final
	}
	out.Emergency = make(map[scenario.EmergencyType]string, len(t.Emergency))
	for k, v := range t.Emergency {
		out.Emergency[k] = v
	}
	for k, v := range emergency {
		if v != "" {
			out.Emergency[scenario.EmergencyType(k)] = v
		}
	}
	return out
}

func (t Templates) emergencyText(em scenario.Emergency) string {
	tpl, ok := t.Emergency[em.Type]
	if !ok {
		tpl = t.Emergency[scenario.EmergencyDanger]
	}
	if tpl == "" {
		tpl = "{text}"
	}
	return expand(tpl, "", "", strings.TrimRight(em.Text, ". "))
}

func expand(tpl, destination, stop, text string) string {
	return strings.NewReplacer(
		"{destination}", destination,
		"{stop}", stop,
		"{text}", text,
	).Replace(tpl)
}

// Policy controls cue timing.
type Policy struct {
	// Stop announcements start this many seconds before the physical arrival.
	LeadSeconds float64
	// The welcome cue is dropped when the timeline contains an emergency.
	SuppressWelcomeOnEmergency bool
}

func DefaultPolicy() Policy {
	return Policy{LeadSeconds: 20, SuppressWelcomeOnEmergency: true}
}

type Scheduler struct {
	Policy    Policy
	Templates Templates
}

func NewScheduler(p Policy, t Templates) *Scheduler {
	return &Scheduler{Policy: p, Templates: t}
}

// Schedule returns all cues for the scenario ordered by start time. Cues with
// the same start keep the order welcome, stops, emergencies. Clip paths point
// into dir.
func (s *Scheduler) Schedule(sc *scenario.Scenario, tl *timeline.Timeline, dir string) []Cue {
	var cues []Cue

	var emergencies []timeline.EmergencyEvent
	for _, ev := range tl.Events {
		if em, ok := ev.(timeline.EmergencyEvent); ok {
			emergencies = append(emergencies, em)
		}
	}

	if len(sc.Stops) > 0 && !(s.Policy.SuppressWelcomeOnEmergency && len(emergencies) > 0) {
		cues = append(cues, Cue{
			Name:  "welcome",
			Text:  expand(s.Templates.Welcome, sc.Destination(), "", ""),
			Path:  filepath.Join(dir, "welcome.mp3"),
			Start: 0,
		})
	}

	last := len(sc.Stops) - 1
	for i := 1; i <= last; i++ {
		tpl := s.Templates.NextStop
		if i == last {
			tpl = s.Templates.FinalStop
		}
		start := math.Max(0, tl.ArrivalPhysical(i)-s.Policy.LeadSeconds)
		cues = append(cues, Cue{
			Name:  fmt.Sprintf("announcement_%d", i),
			Text:  expand(tpl, sc.Destination(), sc.Stops[i].Name, ""),
			Path:  filepath.Join(dir, fmt.Sprintf("announcement_%d.mp3", i)),
			Start: start,
		})
	}

	for n, em := range emergencies {
		cues = append(cues, Cue{
			Name:          fmt.Sprintf("emergency_%d", n),
			Text:          s.Templates.emergencyText(em.Emergency),
			Path:          filepath.Join(dir, fmt.Sprintf("emergency_%d.mp3", n)),
			Start:         em.Start,
			IsEmergency:   true,
			Duration:      em.Duration(),
			EmergencyType: em.Emergency.Type,
		})
	}

	sort.SliceStable(cues, func(i, j int) bool { return cues[i].Start < cues[j].Start })
	return cues
}
