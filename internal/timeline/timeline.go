// Package timeline turns a logical stop schedule plus emergency interruptions
// into a contiguous physical timeline.
//
// Logical time ignores emergencies; physical time is what the viewer sees.
// Every emergency is spliced into the physical timeline at its logical start
// and pushes everything after it back by its duration.
package timeline

import (
	"fmt"
	"math"
	"sort"

	"github.com/ivlev/stopcast/internal/scenario"
)

type Kind int

const (
	KindStay Kind = iota
	KindTravel
	KindEmergency
)

func (k Kind) String() string {
	switch k {
	case KindStay:
		return "stay"
	case KindTravel:
		return "travel"
	case KindEmergency:
		return "emergency"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start float64
	End   float64
}

func (i Interval) Duration() float64       { return i.End - i.Start }
func (i Interval) Contains(t float64) bool { return t >= i.Start && t < i.End }
func (i Interval) Span() Interval          { return i }

// Phase is one stay or travel activity on the logical timeline.
// NextStop is -1 for stay phases.
type Phase struct {
	Kind     Kind
	Stop     int
	NextStop int
	Logical  Interval
}

// Event is one entry of the physical timeline: StayEvent, TravelEvent or EmergencyEvent.
type Event interface {
	Kind() Kind
	Span() Interval
	// LogicalOffset is the logical time at the start of the event.
	LogicalOffset() float64
}

// StayEvent is a (possibly partial) dwell at a stop.
type StayEvent struct {
	Interval
	Stop    int
	Logical float64
}

func (StayEvent) Kind() Kind                 { return KindStay }
func (e StayEvent) LogicalOffset() float64 { return e.Logical }

// TravelEvent is a (possibly partial) drive between two stops.
type TravelEvent struct {
	Interval
	From    int
	To      int
	Logical float64
}

func (TravelEvent) Kind() Kind                 { return KindTravel }
func (e TravelEvent) LogicalOffset() float64 { return e.Logical }

// EmergencyEvent is an interruption. Logical time is frozen for its whole span.
// Index refers to the position in the scenario emergency list; Stop and
// NextStop describe the phase it interrupted (NextStop is -1 at a stop or
// after the end of the route).
type EmergencyEvent struct {
	Interval
	Emergency scenario.Emergency
	Index     int
	Stop      int
	NextStop  int
	Logical   float64
	Trailing  bool
}

func (EmergencyEvent) Kind() Kind                 { return KindEmergency }
func (e EmergencyEvent) LogicalOffset() float64 { return e.Logical }

// Timeline is the result of Build.
type Timeline struct {
	Phases []Phase
	Events []Event

	// Arrivals and Departures are logical times per stop.
	// The final stop departs at its arrival.
	Arrivals   []float64
	Departures []float64

	LogicalDuration  float64
	PhysicalDuration float64

	// Skipped counts emergencies dropped for a non-positive duration.
	Skipped int
}

type pendingEmergency struct {
	em    scenario.Emergency
	index int
	start float64
}

// Build computes the logical phases and the physical events for a route.
//
// Boundary policy: phases are half-open, so an emergency whose logical start
// equals a phase boundary belongs to the following phase and plays before it.
// Emergencies starting at or after the end of the route are appended after the
// last phase in start order. Emergencies with a non-positive duration are skipped.
// Negative starts are treated as 0.
func Build(stops []scenario.Stop, emergencies []scenario.Emergency) *Timeline {
	tl := &Timeline{
		Arrivals:   make([]float64, len(stops)),
		Departures: make([]float64, len(stops)),
	}

	logical := 0.0
	for i, st := range stops {
		tl.Arrivals[i] = logical
		if i == len(stops)-1 {
			tl.Departures[i] = logical
			break
		}
		if st.StaySeconds > 0 {
			tl.Phases = append(tl.Phases, Phase{
				Kind:     KindStay,
				Stop:     i,
				NextStop: -1,
				Logical:  Interval{logical, logical + st.StaySeconds},
			})
			logical += st.StaySeconds
		}
		tl.Departures[i] = logical
		if st.BetweenSeconds > 0 {
			tl.Phases = append(tl.Phases, Phase{
				Kind:     KindTravel,
				Stop:     i,
				NextStop: i + 1,
				Logical:  Interval{logical, logical + st.BetweenSeconds},
			})
			logical += st.BetweenSeconds
		}
	}
	tl.LogicalDuration = logical

	pending := make([]pendingEmergency, 0, len(emergencies))
	for i, em := range emergencies {
		if em.Seconds <= 0 {
			tl.Skipped++
			continue
		}
		pending = append(pending, pendingEmergency{em: em, index: i, start: math.Max(0, em.StartSecond)})
	}
	sort.SliceStable(pending, func(a, b int) bool { return pending[a].start < pending[b].start })

	physical := 0.0
	k := 0
	for _, ph := range tl.Phases {
		cursor := ph.Logical.Start
		for k < len(pending) && pending[k].start < ph.Logical.End {
			p := pending[k]
			if p.start > cursor {
				tl.Events = append(tl.Events, fragment(ph, cursor, p.start, physical))
				physical += p.start - cursor
				cursor = p.start
			}
			ev := EmergencyEvent{
				Interval:  Interval{physical, physical + p.em.Seconds},
				Emergency: p.em,
				Index:     p.index,
				Stop:      ph.Stop,
				NextStop:  ph.NextStop,
				Logical:   p.start,
			}
			if ph.Kind == KindStay {
				ev.NextStop = -1
			}
			tl.Events = append(tl.Events, ev)
			physical = ev.End
			k++
		}
		if ph.Logical.End > cursor {
			tl.Events = append(tl.Events, fragment(ph, cursor, ph.Logical.End, physical))
			physical += ph.Logical.End - cursor
		}
	}

	last := len(stops) - 1
	for ; k < len(pending); k++ {
		p := pending[k]
		ev := EmergencyEvent{
			Interval:  Interval{physical, physical + p.em.Seconds},
			Emergency: p.em,
			Index:     p.index,
			Stop:      last,
			NextStop:  -1,
			Logical:   tl.LogicalDuration,
			Trailing:  true,
		}
		tl.Events = append(tl.Events, ev)
		physical = ev.End
	}

	tl.PhysicalDuration = physical
	return tl
}

func fragment(ph Phase, from, to, physical float64) Event {
	span := Interval{physical, physical + (to - from)}
	if ph.Kind == KindTravel {
		return TravelEvent{Interval: span, From: ph.Stop, To: ph.NextStop, Logical: from}
	}
	return StayEvent{Interval: span, Stop: ph.Stop, Logical: from}
}

// EmergencyTotal sums the durations of all spliced emergencies.
func (tl *Timeline) EmergencyTotal() float64 {
	total := 0.0
	for _, ev := range tl.Events {
		if ev.Kind() == KindEmergency {
			total += ev.Span().Duration()
		}
	}
	return total
}

// Validate checks that events are contiguous, start at 0 and cover the whole
// physical duration.
func (tl *Timeline) Validate() error {
	const eps = 1e-9
	prev := 0.0
	for i, ev := range tl.Events {
		span := ev.Span()
		if math.Abs(span.Start-prev) > eps {
			return fmt.Errorf("event %d (%s) starts at %.3f, expected %.3f", i, ev.Kind(), span.Start, prev)
		}
		if span.Duration() <= 0 {
			return fmt.Errorf("event %d (%s) has non-positive duration %.3f", i, ev.Kind(), span.Duration())
		}
		prev = span.End
	}
	if math.Abs(prev-tl.PhysicalDuration) > eps {
		return fmt.Errorf("events end at %.3f, physical duration is %.3f", prev, tl.PhysicalDuration)
	}
	if d := tl.LogicalDuration + tl.EmergencyTotal(); math.Abs(d-tl.PhysicalDuration) > 1e-6 {
		return fmt.Errorf("physical duration %.3f != logical %.3f + emergencies", tl.PhysicalDuration, tl.LogicalDuration)
	}
	return nil
}
