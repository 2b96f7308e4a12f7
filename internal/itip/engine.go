package itip

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Engine is the top-level entry point tying the Snapshot Builder (C1),
// Diff Classifier (C2), Organizer/Attendee Workflows (C3/C4), Inbound
// Processor (C5), Message Builder (C6) and Finalizer (C7) together.
// It is stateless beyond an optional logger — all per-object state
// (stored copies, watermarks, pending counters) is owned by the
// caller, matching the teacher's Store-passed-in-by-caller convention.
type Engine struct {
	ProdID string
	Now    func() time.Time
	Log    zerolog.Logger
}

// NewEngine builds an Engine. prodID is used verbatim as PRODID on
// every outbound envelope (spec §4.6); it should identify the server,
// e.g. "-//Example Corp//Scheduling Engine//EN".
func NewEngine(prodID string, log zerolog.Logger) *Engine {
	return &Engine{ProdID: prodID, Now: time.Now, Log: log}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ProposeCreate computes the scheduling messages for a brand-new
// locally-authored object.
func (e *Engine) ProposeCreate(newCal *CalendarObject, identities []string) ([]Message, error) {
	newSnap, err := BuildSnapshot(newCal, identities, false)
	if err != nil {
		return nil, err
	}
	if newSnap.Role != RoleOrganizer {
		return nil, fmt.Errorf("itip: create requires local organizer: %w", ErrNotOrganizer)
	}
	e.logDetachedOverrides(newCal)

	msgs, bumps, err := organizerWorkflow(nil, newSnap, nil, newCal, e.ProdID, e.now())
	if err != nil {
		return nil, err
	}
	ApplyBumps(newCal, bumps)
	return msgs, nil
}

// ProposeUpdate computes the scheduling messages for a locally-authored
// edit to an existing object and, as a side effect, bumps SEQUENCE and
// resets attendee PARTSTATs on newCal in place (C7) so the caller's
// persisted copy reflects what was actually sent.
func (e *Engine) ProposeUpdate(oldCal, newCal *CalendarObject, identities []string) ([]Message, error) {
	oldSnap, err := BuildSnapshot(oldCal, identities, false)
	if err != nil {
		return nil, err
	}
	newSnap, err := BuildSnapshot(newCal, identities, false)
	if err != nil {
		if oldSnap.Role == RoleOrganizer && isRoleRelated(err) {
			// The edit removed the scheduling information entirely
			// (no ORGANIZER or no attendees left on the new object) —
			// treat it as a cancel rather than erroring. A new object
			// whose ORGANIZER is a different address still builds a
			// snapshot and is rejected below with ErrOrganizerMismatch.
			msg, cerr := organizerDelete(oldSnap, oldCal, e.ProdID, e.now())
			if cerr != nil {
				return nil, cerr
			}
			return []Message{msg}, nil
		}
		return nil, err
	}
	e.logDetachedOverrides(newCal)

	var (
		msgs  []Message
		bumps []SequenceBump
	)
	switch {
	case oldSnap.Role == RoleOrganizer || newSnap.Role == RoleOrganizer:
		msgs, bumps, err = organizerWorkflow(oldSnap, newSnap, oldCal, newCal, e.ProdID, e.now())
	case oldSnap.Role == RoleAttendee || newSnap.Role == RoleAttendee:
		msgs, bumps, err = attendeeWorkflow(oldSnap, newSnap, oldCal, newCal, identities, e.ProdID, e.now())
	default:
		return nil, fmt.Errorf("itip: %w", ErrNotOrganizerNorAttendee)
	}
	if err != nil {
		return nil, err
	}

	ApplyBumps(newCal, bumps)
	return msgs, nil
}

// ProposeCancel computes the scheduling messages for deleting an
// existing locally-authored (or locally-held, if attendee) object.
func (e *Engine) ProposeCancel(oldCal *CalendarObject, identities []string) ([]Message, error) {
	oldSnap, err := BuildSnapshot(oldCal, identities, false)
	if err != nil {
		return nil, err
	}

	switch oldSnap.Role {
	case RoleOrganizer:
		msgs, _, err := organizerWorkflow(oldSnap, nil, oldCal, nil, e.ProdID, e.now())
		return msgs, err
	case RoleAttendee:
		msgs, _, err := attendeeWorkflow(oldSnap, nil, oldCal, nil, identities, e.ProdID, e.now())
		return msgs, err
	default:
		return nil, fmt.Errorf("itip: %w", ErrNotOrganizerNorAttendee)
	}
}

// BuildRefresh emits a standalone REFRESH for the local attendee on an
// object it already holds.
func (e *Engine) BuildRefresh(cal *CalendarObject, identities []string) (Message, error) {
	snap, err := BuildSnapshot(cal, identities, false)
	if err != nil {
		return Message{}, err
	}
	if snap.Role != RoleAttendee {
		return Message{}, fmt.Errorf("itip: REFRESH requires local attendee: %w", ErrNotOrganizer)
	}
	return BuildRefresh(snap, identities, e.ProdID)
}

// ProcessInbound applies an inbound iTIP message (already decoded by
// the caller) against the caller-owned InboundState (C5). The incoming
// object is first run through the Snapshot Builder in inbound mode
// (single UID, a main component, an ORGANIZER and at least one
// attendee; SCHEDULE-AGENT is not enforced); matching the organizer
// and UID against the stored object is done by ProcessInbound.
func (e *Engine) ProcessInbound(incoming *CalendarObject, state *InboundState, identities []string) (*CalendarObject, []Notification, error) {
	if _, err := BuildSnapshot(incoming, identities, true); err != nil {
		return nil, nil, err
	}
	return ProcessInbound(incoming, state)
}

// logDetachedOverrides surfaces RECURRENCE-ID overrides that don't
// match any occurrence the main component's RRULE/RDATE would
// generate. Diagnostic only: it never changes what gets sent.
func (e *Engine) logDetachedOverrides(cal *CalendarObject) {
	detached := DetachedOverrides(cal)
	if len(detached) == 0 {
		return
	}
	ids := make([]string, len(detached))
	for i, id := range detached {
		ids[i] = id.String()
	}
	e.Log.Debug().Strs("recurrence_ids", ids).Msg("override RECURRENCE-ID matches no generated occurrence")
}

func isRoleRelated(err error) bool {
	return errors.Is(err, ErrNoSchedulingInfo) || errors.Is(err, ErrNotOrganizerNorAttendee)
}
