package itip

import (
	"fmt"
	"time"

	goical "github.com/emersion/go-ical"
)

// attendeeWorkflow is the Attendee Workflow (C4, spec §4.4): given
// snapshots where local holds a remote organizer's event, it emits
// REPLY (RSVP, or DECLINED on deletion) and COUNTER messages. REFRESH
// is not produced here; it is built separately by BuildRefresh.
func attendeeWorkflow(oldSnap, newSnap *Snapshot, oldCal, newCal *CalendarObject, identities []string, prodID string, now time.Time) ([]Message, []SequenceBump, error) {
	switch {
	case newSnap == nil:
		msg, err := attendeeDecline(oldSnap, prodID, now, identities)
		if err != nil {
			return nil, nil, err
		}
		return []Message{msg}, nil, nil

	case oldSnap == nil:
		return nil, nil, fmt.Errorf("itip: attendee cannot originate a scheduling object: %w", ErrNotOrganizer)

	default:
		return attendeeUpdate(oldSnap, newSnap, oldCal, newCal, identities, prodID, now)
	}
}

// attendeeDecline handles deletion of the object (newSnap == nil) by
// the local attendee. An update that removes the local attendee from
// the attendee set does not come here: attendeeUpdate rejects it with
// ErrCannotModifyAddress. The result is a REPLY with PARTSTAT=DECLINED for
// every instance the local attendee held a slot in, built per
// instance — grounded in original_source's itip_cancel attendee
// branch, which folds one cancel-reply component per affected
// instance rather than a single flat summary message.
func attendeeDecline(oldSnap *Snapshot, prodID string, now time.Time, identities []string) (Message, error) {
	local := localIdentity(oldSnap, identities)
	if local == "" {
		return Message{}, fmt.Errorf("itip: %w", ErrNotOrganizerNorAttendee)
	}

	var components []*Component
	for _, inst := range oldSnap.Instances {
		if _, ok := inst.Attendees[local]; !ok {
			continue
		}
		comp := buildReplyComponent(oldSnap.UID, oldSnap.Organizer.Email.Address, local, PartStatDeclined, recurrenceIDOrNil(inst.ID), inst.Sequence, now)
		components = append(components, comp)
	}
	if len(components) == 0 {
		return Message{}, fmt.Errorf("itip: %w", ErrNothingToSend)
	}

	body := buildEnvelope(MethodReply, prodID, nil, components...)
	return Message{
		From:          local,
		FromOrganizer: false,
		To:            []string{oldSnap.Organizer.Email.Address},
		Method:        MethodReply,
		Summary:       Summary{Kind: SummaryRSVP, PartStat: PartStatDeclined, Base: instanceChange(oldSnap.MainInstanceOrDefault())},
		Body:          body,
	}, nil
}

func attendeeUpdate(oldSnap, newSnap *Snapshot, oldCal, newCal *CalendarObject, identities []string, prodID string, now time.Time) ([]Message, []SequenceBump, error) {
	if !oldSnap.Organizer.Email.Equal(newSnap.Organizer.Email) {
		return nil, nil, fmt.Errorf("itip: attendee cannot modify organizer: %w", ErrCannotModifyAddress)
	}

	if err := rejectDisallowedEdits(oldSnap, newSnap, oldCal, newCal); err != nil {
		return nil, nil, err
	}

	diffs, err := DiffSnapshots(oldSnap, newSnap)
	if err != nil {
		return nil, nil, err
	}

	// Group PARTSTAT changes (RSVPs) by the local attendee who made
	// them — one REPLY message per distinct `from` (spec §4.4).
	byAttendee := make(map[string][]InstanceDiff)
	var counterDiffs []InstanceDiff

	for _, d := range diffs {
		if d.Kind == DiffAttendeeSetChanged {
			return nil, nil, fmt.Errorf("itip: attendee cannot add/remove attendees: %w", ErrCannotModifyAddress)
		}
		if d.Kind != DiffCosmetic && d.Kind != DiffModified {
			continue
		}

		newInst, hasNew := newSnap.Instances[d.ID]
		oldInst, hasOld := oldSnap.Instances[d.ID]
		if !hasNew || !hasOld {
			continue
		}

		for addr, np := range newInst.Attendees {
			local := identityMatches(addr, identities)
			if !local {
				continue
			}
			op, existed := oldInst.Attendees[addr]
			if existed && op.PartStat != np.PartStat {
				byAttendee[addr] = append(byAttendee[addr], d)
			}
		}

		if d.Kind == DiffModified && significantAttendeeEditableFieldsChanged(oldInst, newInst) {
			counterDiffs = append(counterDiffs, d)
		}
	}

	var messages []Message

	for addr, instDiffs := range byAttendee {
		var components []*Component
		for _, d := range instDiffs {
			inst := newSnap.Instances[d.ID]
			p := inst.Attendees[addr]
			comp := buildReplyComponent(oldSnap.UID, oldSnap.Organizer.Email.Address, addr, p.PartStat, recurrenceIDOrNil(d.ID), inst.Sequence, now)
			components = append(components, comp)
		}
		body := buildEnvelope(MethodReply, prodID, newCal, components...)
		messages = append(messages, Message{
			From:          addr,
			FromOrganizer: false,
			To:            []string{oldSnap.Organizer.Email.Address},
			Method:        MethodReply,
			Summary:       Summary{Kind: SummaryRSVP, PartStat: newSnap.Instances[instDiffs[0].ID].Attendees[addr].PartStat, Base: instanceChange(newSnap.MainInstanceOrDefault())},
			Body:          body,
		})
	}

	for _, d := range counterDiffs {
		local := localIdentity(newSnap, identities)
		if local == "" {
			continue
		}
		comp := findComponent(newCal, d.ID)
		if comp == nil {
			continue
		}
		clone := cloneComponent(comp)
		stampAll([]*Component{clone}, now)
		body := buildEnvelope(MethodCounter, prodID, newCal, clone)
		messages = append(messages, Message{
			From:          local,
			FromOrganizer: false,
			To:            []string{oldSnap.Organizer.Email.Address},
			Method:        MethodCounter,
			Summary:       Summary{Kind: SummaryCounter, Base: instanceChange(newSnap.Instances[d.ID])},
			Body:          body,
		})
	}

	if len(messages) == 0 {
		return nil, nil, fmt.Errorf("itip: %w", ErrNothingToSend)
	}

	// REPLY precedes COUNTER for the same UID (spec §5 ordering): the
	// loop above already appends all REPLYs before any COUNTER.
	return messages, nil, nil
}

// BuildRefresh builds a standalone REFRESH message: an explicit
// caller-initiated request for the organizer to re-send the latest
// REQUEST (spec §4.4). Unlike REPLY/COUNTER, REFRESH does not arise
// from a diff — it's always explicit.
func BuildRefresh(snap *Snapshot, identities []string, prodID string) (Message, error) {
	local := localIdentity(snap, identities)
	if local == "" {
		return Message{}, fmt.Errorf("itip: %w", ErrNotOrganizerNorAttendee)
	}

	comp := goical.NewComponent(string(snap.MainInstanceOrDefault().CompType))
	comp.Props.SetText(goical.PropUID, snap.UID)
	comp.Props.Set(&goical.Prop{Name: goical.PropOrganizer, Value: "mailto:" + snap.Organizer.Email.Address})
	comp.Props.Set(&goical.Prop{Name: goical.PropAttendee, Value: "mailto:" + local})

	body := buildEnvelope(MethodRefresh, prodID, nil, comp)
	return Message{
		From:          local,
		FromOrganizer: false,
		To:            []string{snap.Organizer.Email.Address},
		Method:        MethodRefresh,
		Summary:       Summary{Kind: SummaryRefresh, Base: instanceChange(snap.MainInstanceOrDefault())},
		Body:          body,
	}, nil
}

// rejectDisallowedEdits enforces spec §4.4's disallowed-edit list:
// attendees may not change the UID or RRULE (the attendee set is
// handled separately via DiffAttendeeSetChanged).
func rejectDisallowedEdits(oldSnap, newSnap *Snapshot, oldCal, newCal *CalendarObject) error {
	if oldSnap.UID != newSnap.UID {
		return fmt.Errorf("itip: attendee cannot change UID: %w", ErrCannotModifyProperty)
	}
	oldMain := findComponent(oldCal, MainInstance)
	newMain := findComponent(newCal, MainInstance)
	if oldMain != nil && newMain != nil {
		oldRRule, newRRule := "", ""
		if p := oldMain.Props.Get(goical.PropRecurrenceRule); p != nil {
			oldRRule = p.Value
		}
		if p := newMain.Props.Get(goical.PropRecurrenceRule); p != nil {
			newRRule = p.Value
		}
		if oldRRule != newRRule {
			return fmt.Errorf("itip: attendee cannot change RRULE: %w", ErrCannotModifyProperty)
		}
	}
	return nil
}

// significantAttendeeEditableFieldsChanged reports whether the
// instance's significant-field fingerprint changed — the trigger for a
// COUNTER rather than a silent reject (spec §4.4). It compares the
// whole fingerprint, so an edit to any property in significantProps
// counts, not only DTSTART, DTEND, LOCATION and SUMMARY (DESCRIPTION,
// EXDATE, PRIORITY and the rest do too). An RRULE change never reaches
// here: rejectDisallowedEdits rejects it earlier.
func significantAttendeeEditableFieldsChanged(oldInst, newInst InstanceSnapshot) bool {
	return oldInst.Fingerprint != newInst.Fingerprint
}

func buildReplyComponent(uid, organizer, attendee string, partStat PartStat, recurrenceID *time.Time, sequence int, now time.Time) *Component {
	comp := goical.NewComponent(goical.CompEvent)
	comp.Props.SetText(goical.PropUID, uid)
	setDateTimeStamp(comp, now.UTC().Format("20060102T150405Z"))
	setSequence(comp, sequence)
	comp.Props.Set(&goical.Prop{Name: goical.PropOrganizer, Value: "mailto:" + organizer})

	attProp := &goical.Prop{Name: goical.PropAttendee, Value: "mailto:" + attendee, Params: goical.Params{}}
	attProp.Params.Set(goical.ParamParticipationStatus, string(partStat))
	comp.Props.Set(attProp)

	if recurrenceID != nil {
		comp.Props.Set(&goical.Prop{Name: goical.PropRecurrenceID, Value: recurrenceID.UTC().Format("20060102T150405Z")})
	}

	return comp
}

func localIdentity(snap *Snapshot, identities []string) string {
	for _, inst := range snap.Instances {
		for addr, p := range inst.Attendees {
			if p.Email.IsLocal {
				return addr
			}
		}
	}
	for _, id := range identities {
		n := NormalizeAddress(id)
		for _, inst := range snap.Instances {
			if _, ok := inst.Attendees[n]; ok {
				return n
			}
		}
	}
	return ""
}

func identityMatches(addr string, identities []string) bool {
	for _, id := range identities {
		if NormalizeAddress(id) == addr {
			return true
		}
	}
	return false
}
