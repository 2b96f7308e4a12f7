package itip

import (
	"fmt"
	"time"

	goical "github.com/emersion/go-ical"
)

// organizerWorkflow is the Organizer Workflow (C3, spec §4.3). It
// covers create (oldCal == nil), update (both present) and delete
// (newCal == nil).
func organizerWorkflow(oldSnap, newSnap *Snapshot, oldCal, newCal *CalendarObject, prodID string, now time.Time) ([]Message, []SequenceBump, error) {
	if oldSnap != nil && newSnap != nil {
		if !oldSnap.Organizer.Email.Equal(newSnap.Organizer.Email) {
			return nil, nil, fmt.Errorf("itip: %w", ErrOrganizerMismatch)
		}
	}

	switch {
	case oldSnap == nil && newSnap != nil:
		return organizerCreate(newSnap, newCal, prodID, now)
	case oldSnap != nil && newSnap == nil:
		msg, err := organizerDelete(oldSnap, oldCal, prodID, now)
		if err != nil {
			return nil, nil, err
		}
		return []Message{msg}, nil, nil
	case oldSnap != nil && newSnap != nil:
		return organizerUpdate(oldSnap, newSnap, newCal, prodID, now)
	default:
		return nil, nil, fmt.Errorf("itip: %w", ErrMalformed)
	}
}

func organizerCreate(newSnap *Snapshot, newCal *CalendarObject, prodID string, now time.Time) ([]Message, []SequenceBump, error) {
	recipients := eligibleAddresses(newSnap.UnionAttendees())
	if len(recipients) == 0 {
		return nil, nil, fmt.Errorf("itip: %w", ErrNothingToSend)
	}

	components := cloneSchedulingComponents(newCal)
	stampAll(components, now)

	body := buildEnvelope(MethodRequest, prodID, newCal, components...)
	msg := Message{
		From:          newSnap.Organizer.Email.Address,
		FromOrganizer: true,
		To:            recipients,
		Method:        MethodRequest,
		Summary:       Summary{Kind: SummaryInvite, Base: instanceChange(newSnap.MainInstanceOrDefault())},
		Body:          body,
	}
	return []Message{msg}, nil, nil
}

func organizerDelete(oldSnap *Snapshot, oldCal *CalendarObject, prodID string, now time.Time) (Message, error) {
	main := oldSnap.MainInstanceOrDefault()
	if main.CompType == CompTypeFreeBusy {
		return Message{}, fmt.Errorf("itip: VFREEBUSY cancel: %w", ErrNothingToSend)
	}

	union := oldSnap.UnionAttendees()
	recipients := eligibleAddresses(union)
	if len(recipients) == 0 {
		return Message{}, fmt.Errorf("itip: %w", ErrNothingToSend)
	}

	seq := main.Sequence + 1
	addrs := make([]string, len(union))
	for i, p := range union {
		addrs[i] = p.Email.Address
	}

	cancelComp := buildCancelComponent(oldSnap.UID, oldSnap.Organizer.Email.Address, main.CompType, nil, seq, now, addrs)
	body := buildEnvelope(MethodCancel, prodID, oldCal, cancelComp)

	return Message{
		From:          oldSnap.Organizer.Email.Address,
		FromOrganizer: true,
		To:            recipients,
		Method:        MethodCancel,
		Summary:       Summary{Kind: SummaryCancel, Base: instanceChange(main)},
		Body:          body,
	}, nil
}

func organizerUpdate(oldSnap, newSnap *Snapshot, newCal *CalendarObject, prodID string, now time.Time) ([]Message, []SequenceBump, error) {
	diffs, err := DiffSnapshots(oldSnap, newSnap)
	if err != nil {
		return nil, nil, err
	}

	var (
		requestIDs        = make(map[InstanceID]bool)
		requestRecipients = make(map[string]bool)
		cancelRecipients  = make(map[string]bool)
		cancelComponents  []*Component
		addOnly           *InstanceID // candidate for a standalone ADD
		bumps             []SequenceBump
	)

	addedCount := 0
	for _, d := range diffs {
		if d.Kind == DiffAdded {
			addedCount++
		}
	}
	mainUnchanged := instanceUnchanged(oldSnap, newSnap, MainInstance)

	for _, d := range diffs {
		switch d.Kind {
		case DiffAdded:
			inst := newSnap.Instances[d.ID]
			if addedCount == 1 && mainUnchanged && !d.ID.IsMain() {
				id := d.ID
				addOnly = &id
				continue
			}
			requestIDs[d.ID] = true
			markRecipients(requestRecipients, eligibleAddresses(inst.AttendeeList()))

		case DiffRemoved:
			inst := oldSnap.Instances[d.ID]
			addrs := addressesOf(inst.AttendeeList())
			comp := buildCancelComponent(oldSnap.UID, oldSnap.Organizer.Email.Address, inst.CompType, recurrenceIDOrNil(d.ID), inst.Sequence+1, now, addrs)
			cancelComponents = append(cancelComponents, comp)
			markRecipients(cancelRecipients, eligibleAddresses(inst.AttendeeList()))

		case DiffModified:
			requestIDs[d.ID] = true
			markRecipients(requestRecipients, eligibleAddresses(newSnap.Instances[d.ID].AttendeeList()))
			bumps = append(bumps, SequenceBump{Instance: d.ID, ResetPartStats: true})

		case DiffAttendeeSetChanged:
			newInst := newSnap.Instances[d.ID]
			oldInst := oldSnap.Instances[d.ID]
			if len(d.AddedAttendees) > 0 {
				requestIDs[d.ID] = true
				markRecipients(requestRecipients, eligibleAddresses(attendeesByAddress(newInst, d.AddedAttendees)))
				bumps = append(bumps, SequenceBump{Instance: d.ID, ResetPartStats: true})
			}
			if len(d.RemovedAttendees) > 0 {
				comp := buildCancelComponent(oldSnap.UID, oldSnap.Organizer.Email.Address, oldInst.CompType, recurrenceIDOrNil(d.ID), oldInst.Sequence+1, now, d.RemovedAttendees)
				cancelComponents = append(cancelComponents, comp)
				markRecipients(cancelRecipients, eligibleAddresses(attendeesByAddress(oldInst, d.RemovedAttendees)))
			}
		}
	}

	var messages []Message

	// CANCEL precedes REQUEST/ADD for the same UID (spec §5 ordering).
	if len(cancelComponents) > 0 && len(cancelRecipients) > 0 {
		body := buildEnvelope(MethodCancel, prodID, newCal, cancelComponents...)
		messages = append(messages, Message{
			From:          newSnap.Organizer.Email.Address,
			FromOrganizer: true,
			To:            sortedKeys(cancelRecipients),
			Method:        MethodCancel,
			Summary:       Summary{Kind: SummaryCancel, Base: instanceChange(newSnap.MainInstanceOrDefault())},
			Body:          body,
		})
	}

	if addOnly != nil {
		comp := findComponent(newCal, *addOnly)
		if comp == nil {
			return nil, nil, fmt.Errorf("itip: added instance missing from new object: %w", ErrMalformed)
		}
		clone := cloneComponent(comp)
		stampAll([]*Component{clone}, now)
		inst := newSnap.Instances[*addOnly]
		recipients := eligibleAddresses(inst.AttendeeList())
		if len(recipients) > 0 {
			body := buildEnvelope(MethodAdd, prodID, newCal, clone)
			messages = append(messages, Message{
				From:          newSnap.Organizer.Email.Address,
				FromOrganizer: true,
				To:            recipients,
				Method:        MethodAdd,
				Summary:       Summary{Kind: SummaryUpdate, Base: instanceChange(inst)},
				Body:          body,
			})
		}
	}

	if len(requestIDs) > 0 {
		var components []*Component
		for id := range requestIDs {
			comp := findComponent(newCal, id)
			if comp == nil {
				continue
			}
			clone := cloneComponent(comp)
			if bump := bumpFor(bumps, id); bump {
				setSequence(clone, newSnap.Instances[id].Sequence+1)
			}
			components = append(components, clone)
		}
		stampAll(components, now)

		recipients := sortedKeys(requestRecipients)
		if len(recipients) == 0 {
			return nil, nil, fmt.Errorf("itip: %w", ErrNothingToSend)
		}
		body := buildEnvelope(MethodRequest, prodID, newCal, components...)
		messages = append(messages, Message{
			From:          newSnap.Organizer.Email.Address,
			FromOrganizer: true,
			To:            recipients,
			Method:        MethodRequest,
			Summary:       Summary{Kind: SummaryUpdate, Base: instanceChange(newSnap.MainInstanceOrDefault())},
			Body:          body,
		})
	}

	if len(messages) == 0 {
		return nil, nil, fmt.Errorf("itip: %w", ErrNothingToSend)
	}

	return messages, bumps, nil
}

func bumpFor(bumps []SequenceBump, id InstanceID) bool {
	for _, b := range bumps {
		if b.Instance == id {
			return true
		}
	}
	return false
}

func instanceUnchanged(old, new *Snapshot, id InstanceID) bool {
	oldInst, hasOld := old.Instances[id]
	newInst, hasNew := new.Instances[id]
	if hasOld != hasNew {
		return false
	}
	if !hasOld {
		return true
	}
	return oldInst.Fingerprint == newInst.Fingerprint
}

func attendeesByAddress(inst InstanceSnapshot, addrs []string) []Participant {
	out := make([]Participant, 0, len(addrs))
	for _, a := range addrs {
		if p, ok := inst.Attendees[a]; ok {
			out = append(out, p)
		}
	}
	return out
}

func addressesOf(ps []Participant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Email.Address
	}
	return out
}

func eligibleAddresses(ps []Participant) []string {
	var out []string
	for _, p := range ps {
		if p.SendUpdateEligible() {
			out = append(out, p.Email.Address)
		}
	}
	return out
}

func markRecipients(set map[string]bool, addrs []string) {
	for _, a := range addrs {
		set[a] = true
	}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sortStrings(out)
	return out
}

func recurrenceIDOrNil(id InstanceID) *time.Time {
	if id.IsMain() {
		return nil
	}
	t := id.Time()
	return &t
}

func findComponent(cal *CalendarObject, id InstanceID) *Component {
	for _, c := range cal.Children {
		recID := c.Props.Get(goical.PropRecurrenceID)
		if id.IsMain() {
			if recID == nil {
				return c
			}
			continue
		}
		if recID == nil {
			continue
		}
		t, _, err := parseDateTimeValue(recID)
		if err == nil && RecurrenceInstance(t) == id {
			return c
		}
	}
	return nil
}

func cloneSchedulingComponents(cal *CalendarObject) []*Component {
	var out []*Component
	for _, c := range schedulingComponents(cal) {
		out = append(out, cloneComponent(c))
	}
	return out
}

func stampAll(components []*Component, now time.Time) {
	dtstamp := now.UTC().Format("20060102T150405Z")
	for _, c := range components {
		setDateTimeStamp(c, dtstamp)
	}
}

func instanceChange(inst InstanceSnapshot) InstanceChange {
	return InstanceChange{ID: inst.ID}
}

// buildCancelComponent builds the synthetic CANCEL component from
// spec §4.3: STATUS=CANCELLED, the relevant RECURRENCE-ID (nil for
// the whole object), and ATTENDEE lines for only the named addresses
// — grounded in original_source's build_cancel_component, which scopes
// the ATTENDEE lines to the cancelled subset rather than the full
// attendee list.
func buildCancelComponent(uid, organizer string, compType ComponentType, recurrenceID *time.Time, sequence int, now time.Time, addrs []string) *Component {
	comp := goical.NewComponent(string(compType))
	comp.Props.SetText(goical.PropUID, uid)
	comp.Props.SetText(goical.PropStatus, "CANCELLED")
	setDateTimeStamp(comp, now.UTC().Format("20060102T150405Z"))
	setSequence(comp, sequence)
	comp.Props.Set(&goical.Prop{Name: goical.PropOrganizer, Value: "mailto:" + organizer})

	if recurrenceID != nil {
		comp.Props.Set(&goical.Prop{Name: goical.PropRecurrenceID, Value: recurrenceID.UTC().Format("20060102T150405Z")})
	}

	for _, addr := range addrs {
		comp.Props.Add(&goical.Prop{Name: goical.PropAttendee, Value: "mailto:" + addr})
	}

	return comp
}
