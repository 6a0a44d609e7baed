package timeline

import "sort"

// Locate returns the event that contains physical time t. Times before 0 map
// to the first event, times at or past the end map to the last one.
// It returns -1 and nil for an empty timeline.
func (tl *Timeline) Locate(t float64) (int, Event) {
	n := len(tl.Events)
	if n == 0 {
		return -1, nil
	}
	i := sort.Search(n, func(i int) bool { return tl.Events[i].Span().End > t })
	if i == n {
		i = n - 1
	}
	return i, tl.Events[i]
}

// LogicalAt maps physical time t to logical time. Inside an emergency the
// logical clock stands still.
func (tl *Timeline) LogicalAt(t float64) float64 {
	_, ev := tl.Locate(t)
	if ev == nil {
		return 0
	}
	if ev.Kind() == KindEmergency {
		return ev.LogicalOffset()
	}
	span := ev.Span()
	if t < span.Start {
		t = span.Start
	}
	if t > span.End {
		t = span.End
	}
	return ev.LogicalOffset() + (t - span.Start)
}

// PhaseAt returns the logical phase that contains logical time l.
// Past the end of the route it returns the last phase and false.
func (tl *Timeline) PhaseAt(l float64) (Phase, bool) {
	n := len(tl.Phases)
	if n == 0 {
		return Phase{}, false
	}
	i := sort.Search(n, func(i int) bool { return tl.Phases[i].Logical.End > l })
	if i == n {
		return tl.Phases[n-1], false
	}
	return tl.Phases[i], true
}

// ArrivalPhysical returns the physical time the vehicle arrives at stop:
// the end of the last travel event into the stop, otherwise the start of the
// stop's own stay, otherwise the physical position of its logical arrival.
func (tl *Timeline) ArrivalPhysical(stop int) float64 {
	for i := len(tl.Events) - 1; i >= 0; i-- {
		if tr, ok := tl.Events[i].(TravelEvent); ok && tr.To == stop {
			return tr.End
		}
	}
	for _, ev := range tl.Events {
		if st, ok := ev.(StayEvent); ok && st.Stop == stop {
			return st.Start
		}
	}
	if stop < 0 || stop >= len(tl.Arrivals) {
		return tl.PhysicalDuration
	}
	return tl.PhysicalAtLogical(tl.Arrivals[stop])
}

// PhysicalAtLogical returns the first physical time at which the logical clock
// reads l outside of an emergency. Past the route it returns the end of the
// last non-emergency event.
func (tl *Timeline) PhysicalAtLogical(l float64) float64 {
	last := 0.0
	for _, ev := range tl.Events {
		if ev.Kind() == KindEmergency {
			continue
		}
		span := ev.Span()
		from := ev.LogicalOffset()
		if l >= from && l <= from+span.Duration() {
			return span.Start + (l - from)
		}
		last = span.End
	}
	return last
}

// ArrivalLogical returns the undisturbed arrival time at stop.
func (tl *Timeline) ArrivalLogical(stop int) float64 {
	if stop < 0 || stop >= len(tl.Arrivals) {
		return tl.LogicalDuration
	}
	return tl.Arrivals[stop]
}

// DepartureLogical returns the undisturbed departure time from stop.
// The final stop departs at its arrival.
func (tl *Timeline) DepartureLogical(stop int) float64 {
	if stop < 0 || stop >= len(tl.Departures) {
		return tl.LogicalDuration
	}
	return tl.Departures[stop]
}
