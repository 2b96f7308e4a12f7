package itip

import (
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// detachedOverrideLookahead bounds how far past DTSTART the engine's
// detached-override check (DetachedOverrides, run by ProposeCreate and
// ProposeUpdate) expands the master RRULE set when checking whether an
// override's RECURRENCE-ID corresponds to a real occurrence. Chosen
// generously enough to cover any reasonably-scheduled recurring event
// without expanding an unbounded or COUNT-less rule forever.
const detachedOverrideLookahead = 5 * 365 * 24 * time.Hour

// liveOccurrences expands rruleValue (and rdates) from dtstart out to
// detachedOverrideLookahead, removes exdates, and returns the result —
// adapted from pkg/ical/recurrence.go's RecurrenceExpander.expandEvent,
// narrowed to the single "does this RECURRENCE-ID exist" question the
// engine needs instead of that package's display-range expansion.
func liveOccurrences(rruleValue string, dtstart time.Time, rdates, exdates []time.Time) ([]time.Time, error) {
	var occurrences []time.Time

	if rruleValue != "" {
		rruleStr := "DTSTART:" + dtstart.UTC().Format("20060102T150405Z") + "\nRRULE:" + rruleValue
		rule, err := rrule.StrToRRule(rruleStr)
		if err != nil {
			return nil, err
		}
		occurrences = rule.Between(dtstart, dtstart.Add(detachedOverrideLookahead), true)
	}
	occurrences = append(occurrences, rdates...)

	if len(exdates) == 0 {
		return occurrences, nil
	}
	excluded := make(map[int64]bool, len(exdates))
	for _, t := range exdates {
		excluded[t.UTC().Unix()] = true
	}
	out := occurrences[:0]
	for _, t := range occurrences {
		if !excluded[t.UTC().Unix()] {
			out = append(out, t)
		}
	}
	return out, nil
}

// isLiveOccurrence reports whether candidate matches (to the second)
// one of the master's generated occurrences.
func isLiveOccurrence(occurrences []time.Time, candidate time.Time) bool {
	c := candidate.UTC().Unix()
	for _, t := range occurrences {
		if t.UTC().Unix() == c {
			return true
		}
	}
	return false
}

// DetachedOverrides reports the RECURRENCE-ID overrides in cal that
// don't correspond to any occurrence the main component's recurrence
// rule would generate. Purely advisory — callers may log it, never
// need to act on it.
func DetachedOverrides(cal *CalendarObject) []InstanceID {
	comps := schedulingComponents(cal)
	var mainComp *Component
	for _, c := range comps {
		if c.Props.Get(goical.PropRecurrenceID) == nil {
			mainComp = c
			break
		}
	}
	return detachedOverrides(mainComp, comps)
}

// detachedOverrides returns the InstanceIDs of comps whose
// RECURRENCE-ID does not correspond to any occurrence the main
// component's RRULE/RDATE set (minus EXDATE) would generate. A
// detached override is legal per RFC 5545 §3.8.4.4 — the result is
// purely advisory for logging, never an error.
func detachedOverrides(mainComp *Component, comps []*Component) []InstanceID {
	if mainComp == nil {
		return nil
	}
	dtstartProp := mainComp.Props.Get(goical.PropDateTimeStart)
	if dtstartProp == nil {
		return nil
	}
	dtstart, _, err := parseDateTimeValue(dtstartProp)
	if err != nil {
		return nil
	}

	var rruleValue string
	if p := mainComp.Props.Get(goical.PropRecurrenceRule); p != nil {
		rruleValue = p.Value
	}

	var rdates, exdates []time.Time
	for _, p := range mainComp.Props.Values(goical.PropRecurrenceDates) {
		if dates, err := parseMultiDate(p.Value); err == nil {
			rdates = append(rdates, dates...)
		}
	}
	for _, p := range mainComp.Props.Values(goical.PropExceptionDates) {
		if dates, err := parseMultiDate(p.Value); err == nil {
			exdates = append(exdates, dates...)
		}
	}

	if rruleValue == "" && len(rdates) == 0 {
		return nil // no recurrence rule at all; nothing to validate against
	}

	occurrences, err := liveOccurrences(rruleValue, dtstart, rdates, exdates)
	if err != nil {
		return nil
	}

	var detached []InstanceID
	for _, c := range comps {
		recIDProp := c.Props.Get(goical.PropRecurrenceID)
		if recIDProp == nil {
			continue
		}
		t, _, err := parseDateTimeValue(recIDProp)
		if err != nil {
			continue
		}
		if !isLiveOccurrence(occurrences, t) {
			detached = append(detached, RecurrenceInstance(t))
		}
	}
	return detached
}
