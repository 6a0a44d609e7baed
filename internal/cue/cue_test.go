package cue

import (
	"path/filepath"
	"testing"

	"github.com/ivlev/stopcast/internal/scenario"
	"github.com/ivlev/stopcast/internal/timeline"
)

func route() *scenario.Scenario {
	return &scenario.Scenario{
		ID: "r1",
		Stops: []scenario.Stop{
			{Name: "Depot", StaySeconds: 10, BetweenSeconds: 15},
			{Name: "Market", StaySeconds: 30, BetweenSeconds: 60},
			{Name: "Harbor"},
		},
	}
}

func schedule(t *testing.T, sc *scenario.Scenario, p Policy) []Cue {
	t.Helper()
	tl := timeline.Build(sc.Stops, sc.Emergencies)
	return NewScheduler(p, DefaultTemplates()).Schedule(sc, tl, "/tmp/job")
}

func TestScheduleWithoutEmergencies(t *testing.T) {
	cues := schedule(t, route(), DefaultPolicy())

	want := []struct {
		name  string
		start float64
		text  string
	}{
		// Market прибывает в 25s, 25-20 = 5
		{"welcome", 0, "Welcome aboard. This bus is heading to Harbor. Please remain seated and enjoy your journey."},
		{"announcement_1", 5, "Next stop, Market"},
		// Harbor прибывает в 115s
		{"announcement_2", 95, "Arriving at final stop, Harbor, Please leave the bus, thank you for riding with us."},
	}
	if len(cues) != len(want) {
		t.Fatalf("Expected %d cues, got %d: %+v", len(want), len(cues), cues)
	}
	for i, w := range want {
		if cues[i].Name != w.name || cues[i].Start != w.start || cues[i].Text != w.text {
			t.Errorf("Cue %d: expected %+v, got %+v", i, w, cues[i])
		}
	}
	if cues[1].Path != filepath.Join("/tmp/job", "announcement_1.mp3") {
		t.Errorf("Unexpected path %s", cues[1].Path)
	}
}

func TestLeadTimeIsClamped(t *testing.T) {
	sc := route()
	sc.Stops[0] = scenario.Stop{Name: "Depot", StaySeconds: 3, BetweenSeconds: 4}
	cues := schedule(t, sc, Policy{LeadSeconds: 20})

	for _, c := range cues {
		if c.Start < 0 {
			t.Errorf("Cue %s has negative start %v", c.Name, c.Start)
		}
	}
	if cues[1].Name != "announcement_1" || cues[1].Start != 0 {
		t.Errorf("Expected announcement_1 clamped to 0, got %+v", cues[1])
	}
}

func TestEmergencyCueStartsWithEmergency(t *testing.T) {
	sc := route()
	sc.Emergencies = []scenario.Emergency{
		{Text: "Flooded road.", Type: scenario.EmergencyWeather, StartSecond: 50, Seconds: 40},
	}
	cues := schedule(t, sc, DefaultPolicy())

	var em *Cue
	for i := range cues {
		if cues[i].Name == "welcome" {
			t.Error("Welcome should be suppressed when an emergency is present")
		}
		if cues[i].IsEmergency {
			em = &cues[i]
		}
	}
	if em == nil {
		t.Fatal("Expected an emergency cue")
	}
	if em.Start != 50 || em.Duration != 40 || em.EmergencyType != scenario.EmergencyWeather {
		t.Errorf("Unexpected emergency cue: %+v", em)
	}
	if em.Text != "Weather alert. Flooded road. Please be cautious. Thank you." {
		t.Errorf("Unexpected emergency text: %q", em.Text)
	}

	// Harbor смещается на длительность аварии: 115 + 40 - 20
	for _, c := range cues {
		if c.Name == "announcement_2" && c.Start != 135 {
			t.Errorf("Expected final announcement at 135, got %v", c.Start)
		}
	}
}

func TestWelcomeKeptWhenPolicyDisabled(t *testing.T) {
	sc := route()
	sc.Emergencies = []scenario.Emergency{{Text: "x", Type: scenario.EmergencyDanger, StartSecond: 0, Seconds: 5}}
	cues := schedule(t, sc, Policy{LeadSeconds: 20, SuppressWelcomeOnEmergency: false})

	if cues[0].Name != "welcome" {
		t.Fatalf("Expected welcome first, got %+v", cues[0])
	}
	// одинаковое время старта: порядок построения сохраняется
	if !cues[1].IsEmergency || cues[1].Start != 0 {
		t.Errorf("Expected emergency cue second at 0, got %+v", cues[1])
	}
}

func TestScheduleIsSorted(t *testing.T) {
	sc := route()
	sc.Emergencies = []scenario.Emergency{
		{Text: "b", StartSecond: 80, Seconds: 5},
		{Text: "a", StartSecond: 5, Seconds: 5},
	}
	cues := schedule(t, sc, DefaultPolicy())
	for i := 1; i < len(cues); i++ {
		if cues[i].Start < cues[i-1].Start {
			t.Fatalf("Cues not sorted: %+v", cues)
		}
	}
}

func TestTemplatesMerge(t *testing.T) {
	tpl := DefaultTemplates().Merge("", "Now approaching {stop}", "", map[string]string{"traffic": "Jam: {text}"})
	if tpl.NextStop != "Now approaching {stop}" {
		t.Errorf("Unexpected next stop template %q", tpl.NextStop)
	}
	if tpl.Emergency[scenario.EmergencyTraffic] != "Jam: {text}" {
		t.Errorf("Unexpected traffic template %q", tpl.Emergency[scenario.EmergencyTraffic])
	}
	if DefaultTemplates().Emergency[scenario.EmergencyTraffic] == "Jam: {text}" {
		t.Error("Merge must not modify the receiver")
	}
}
