package renderer

import (
	"fmt"
	"math"

	"github.com/ivlev/stopcast/internal/scenario"
	"github.com/ivlev/stopcast/internal/timeline"
)

// UpcomingStops is how many stops ahead the board shows.
const UpcomingStops = 3

// Arrival is one row of the upcoming-stops list.
type Arrival struct {
	Stop    int
	Name    string
	Seconds int
}

// State is everything a frame shows at elapsed time t.
type State struct {
	Time    float64
	Logical float64
	Event   timeline.Event

	InEmergency bool
	Emergency   scenario.Emergency

	// CurrentStop is the stop the vehicle is at or last departed from.
	CurrentStop int
	AtStop      bool

	// DepartureIn is the dwell countdown; HasDeparture is false on the road
	// and at the final stop.
	DepartureIn  int
	HasDeparture bool

	Upcoming   []Arrival
	Terminal   string
	TerminalIn int
}

// StateAt resolves physical time t against the timeline. Countdowns use
// logical time, so they pause while an emergency is on screen.
func StateAt(tl *timeline.Timeline, stops []scenario.Stop, t float64) State {
	st := State{Time: t}
	if len(stops) == 0 {
		return st
	}
	last := len(stops) - 1
	st.Terminal = stops[last].Name

	_, ev := tl.Locate(t)
	st.Event = ev
	if em, ok := ev.(timeline.EmergencyEvent); ok {
		st.InEmergency = true
		st.Emergency = em.Emergency
	}

	l := tl.LogicalAt(t)
	st.Logical = l

	ph, inRoute := tl.PhaseAt(l)
	switch {
	case !inRoute:
		st.CurrentStop = last
		st.AtStop = true
	case ph.Kind == timeline.KindStay:
		st.CurrentStop = ph.Stop
		st.AtStop = true
		st.HasDeparture = true
		st.DepartureIn = remaining(tl.DepartureLogical(ph.Stop), l)
	default:
		st.CurrentStop = ph.Stop
	}

	for j := st.CurrentStop + 1; j <= last && len(st.Upcoming) < UpcomingStops; j++ {
		st.Upcoming = append(st.Upcoming, Arrival{
			Stop:    j,
			Name:    stops[j].Name,
			Seconds: remaining(tl.ArrivalLogical(j), l),
		})
	}
	st.TerminalIn = remaining(tl.ArrivalLogical(last), l)
	return st
}

func remaining(target, now float64) int {
	return int(math.Max(0, math.Ceil(target-now)))
}

// FormatMinutes renders a countdown the way the board shows it: whole minutes rounded up.
func FormatMinutes(seconds int) string {
	return fmt.Sprintf("%d Min.", int(math.Ceil(float64(seconds)/60)))
}
