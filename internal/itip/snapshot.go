package itip

import (
	"fmt"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/hashicorp/go-multierror"
)

// BuildSnapshot projects a parsed calendar object into a normalized
// per-instance Snapshot, classifying the local account's role. This
// is Snapshot Builder (C1) from spec §4.1.
//
// asInbound disables the SCHEDULE-AGENT enforcement in rule 5: inbound
// messages are, by definition, already the server's to act on.
func BuildSnapshot(cal *CalendarObject, identities []string, asInbound bool) (*Snapshot, error) {
	if cal == nil {
		return nil, fmt.Errorf("itip: nil calendar object: %w", ErrNoSchedulingInfo)
	}

	comps := schedulingComponents(cal)
	if len(comps) == 0 {
		return nil, fmt.Errorf("itip: no VEVENT/VTODO/VJOURNAL/VFREEBUSY components: %w", ErrNoSchedulingInfo)
	}

	uid, err := uniqueUID(comps)
	if err != nil {
		return nil, err
	}

	var mainComp *Component
	for _, c := range comps {
		if c.Props.Get(goical.PropRecurrenceID) == nil {
			mainComp = c
			break
		}
	}
	if mainComp == nil {
		return nil, fmt.Errorf("itip: object has no main component: %w", ErrNoSchedulingInfo)
	}

	orgProp := firstOrganizer(comps)
	if orgProp == nil {
		return nil, fmt.Errorf("itip: no ORGANIZER property: %w", ErrNoSchedulingInfo)
	}

	if !asInbound {
		if err := checkScheduleAgent(comps); err != nil {
			return nil, err
		}
	}

	organizer := Participant{
		Email:         NewEmailAddress(orgProp.Value, identities),
		ScheduleAgent: scheduleAgentOf(orgProp),
	}
	if cn := orgProp.Params.Get(goical.ParamCommonName); cn != "" {
		organizer.SentBy = cn
	}

	snap := &Snapshot{
		UID:       uid,
		Organizer: organizer,
		Instances: make(map[InstanceID]InstanceSnapshot),
	}

	var errs *multierror.Error
	hasAnyAttendee := false

	for _, c := range comps {
		instID := MainInstance
		if recID := c.Props.Get(goical.PropRecurrenceID); recID != nil {
			t, _, perr := parseDateTimeValue(recID)
			if perr != nil {
				errs = multierror.Append(errs, fmt.Errorf("itip: component RECURRENCE-ID: %w", perr))
				continue
			}
			instID = RecurrenceInstance(t)
		}

		inst, ierr := buildInstanceSnapshot(instID, c, identities)
		if ierr != nil {
			errs = multierror.Append(errs, ierr)
			continue
		}
		if len(inst.Attendees) > 0 {
			hasAnyAttendee = true
		}
		snap.Instances[instID] = inst
	}

	if errs.ErrorOrNil() != nil {
		return nil, fmt.Errorf("itip: %w: %w", ErrMalformed, errs)
	}
	if !hasAnyAttendee {
		return nil, fmt.Errorf("itip: object has no attendees: %w", ErrNoSchedulingInfo)
	}

	snap.Role = determineRole(snap)
	return snap, nil
}

func determineRole(snap *Snapshot) Role {
	if snap.Organizer.Email.IsLocal {
		return RoleOrganizer
	}
	for _, inst := range snap.Instances {
		for _, p := range inst.Attendees {
			if p.Email.IsLocal {
				return RoleAttendee
			}
		}
	}
	return RoleNone
}

func buildInstanceSnapshot(id InstanceID, c *Component, identities []string) (InstanceSnapshot, error) {
	inst := InstanceSnapshot{
		ID:        id,
		CompType:  ComponentType(c.Name),
		Attendees: make(map[string]Participant),
	}

	if seqProp := c.Props.Get(goical.PropSequence); seqProp != nil {
		var seq int
		if _, err := fmt.Sscanf(seqProp.Value, "%d", &seq); err == nil {
			inst.Sequence = seq
		}
	}

	if statusProp := c.Props.Get(goical.PropStatus); statusProp != nil {
		inst.Status = statusProp.Value
	}

	if dtstampProp := c.Props.Get(goical.PropDateTimeStamp); dtstampProp != nil {
		if t, _, err := parseDateTimeValue(dtstampProp); err == nil {
			inst.DTStamp = t
		}
	}

	for _, exProp := range c.Props.Values(goical.PropExceptionDates) {
		if dates, err := parseMultiDate(exProp.Value); err == nil {
			inst.ExDates = append(inst.ExDates, dates...)
		}
	}

	for _, attProp := range c.Props.Values(goical.PropAttendee) {
		p := Participant{
			Email:         NewEmailAddress(attProp.Value, identities),
			PartStat:      PartStat(orDefault(attProp.Params.Get(goical.ParamParticipationStatus), string(PartStatNeedsAction))),
			ScheduleRole:  orDefault(attProp.Params.Get("ROLE"), "REQ-PARTICIPANT"),
			CUType:        orDefault(attProp.Params.Get("CUTYPE"), "INDIVIDUAL"),
			ScheduleAgent: scheduleAgentOf(&attProp),
			RSVP:          strings.EqualFold(attProp.Params.Get(goical.ParamRSVP), "TRUE"),
		}
		if _, dup := inst.Attendees[p.Email.Address]; dup {
			continue // rule 3: skip duplicates keyed by address
		}
		inst.Attendees[p.Email.Address] = p
	}

	inst.Fingerprint = fingerprintComponent(c)
	return inst, nil
}

func schedulingComponents(cal *CalendarObject) []*Component {
	var out []*Component
	for _, c := range cal.Children {
		switch c.Name {
		case goical.CompEvent, goical.CompToDo, goical.CompJournal, goical.CompFreeBusy:
			out = append(out, c)
		}
	}
	return out
}

func uniqueUID(comps []*Component) (string, error) {
	uid := ""
	for _, c := range comps {
		uidProp := c.Props.Get(goical.PropUID)
		if uidProp == nil {
			return "", fmt.Errorf("itip: component missing UID: %w", ErrNoSchedulingInfo)
		}
		if uid == "" {
			uid = uidProp.Value
		} else if uid != uidProp.Value {
			return "", fmt.Errorf("itip: multiple UIDs in one object: %w", ErrMalformed)
		}
	}
	return uid, nil
}

func firstOrganizer(comps []*Component) *goical.Prop {
	for _, c := range comps {
		if p := c.Props.Get(goical.PropOrganizer); p != nil {
			return p
		}
	}
	return nil
}

func checkScheduleAgent(comps []*Component) error {
	for _, c := range comps {
		if p := c.Props.Get(goical.PropOrganizer); p != nil {
			if agent := scheduleAgentOf(p); agent != "" && agent != ScheduleAgentServer {
				return fmt.Errorf("itip: organizer SCHEDULE-AGENT=%s: %w", agent, ErrOtherSchedulingAgent)
			}
		}
		for _, p := range c.Props.Values(goical.PropAttendee) {
			if agent := scheduleAgentOf(&p); agent != "" && agent != ScheduleAgentServer {
				return fmt.Errorf("itip: attendee SCHEDULE-AGENT=%s: %w", agent, ErrOtherSchedulingAgent)
			}
		}
	}
	return nil
}

func scheduleAgentOf(p *goical.Prop) ScheduleAgent {
	v := p.Params.Get("SCHEDULE-AGENT")
	if v == "" {
		return ""
	}
	return ScheduleAgent(strings.ToUpper(v))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseDateTimeValue(p *goical.Prop) (time.Time, bool, error) {
	t, err := p.DateTime(time.UTC)
	if err != nil {
		return time.Time{}, false, err
	}
	isAllDay := len(p.Value) == 8 // YYYYMMDD, no time component
	return t, isAllDay, nil
}

func parseMultiDate(value string) ([]time.Time, error) {
	var out []time.Time
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := parseDateToken(part)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func parseDateToken(value string) (time.Time, error) {
	layouts := []string{"20060102T150405Z", "20060102T150405", "20060102"}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}
