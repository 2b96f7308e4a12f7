package itip

import (
	"fmt"
	"strconv"
	"time"

	goical "github.com/emersion/go-ical"
)

// Notification is what ProcessInbound reports back to the caller for
// a successfully-applied (or explicitly dropped) inbound message —
// the dispatcher's cue for what, if anything, to tell a user.
type Notification struct {
	Instance InstanceID
	Method   Method
	Dropped  bool
	Reason   string
}

// PendingCounter is the persisted-alongside-the-object state spec §9
// calls engine input/output rather than engine-owned: a COUNTER
// proposal waiting on the organizer's accept/decline.
type PendingCounter struct {
	UID      string
	Instance InstanceID
	From     string
	Proposal *Component
}

// DTStampWatermark is the per (UID, RECURRENCE-ID, attendee) state
// spec §9 requires for REPLY monotonicity, supplied and returned by
// the caller rather than owned by the engine.
type DTStampWatermark map[string]time.Time // key: uid|instance|attendee

func watermarkKey(uid string, inst InstanceID, attendee string) string {
	return uid + "|" + inst.String() + "|" + attendee
}

// InboundState is the caller-owned state ProcessInbound reads and
// updates: the stored calendar object (nil if none exists yet),
// pending COUNTER proposals, and REPLY DTSTAMP watermarks.
type InboundState struct {
	Stored      *CalendarObject
	Pending     []PendingCounter
	Watermarks  DTStampWatermark
}

// ProcessInbound applies an incoming iTIP message to the stored
// object (Inbound Processor, C5, spec §4.5). It never returns an error
// for a message that should be silently dropped (stale DTSTAMP,
// unknown REPLY attendee) — those are reported via Notification with
// Dropped=true instead, per spec §7's drop/reject distinction.
func ProcessInbound(incoming *CalendarObject, state *InboundState) (*CalendarObject, []Notification, error) {
	if state == nil {
		state = &InboundState{}
	}
	if state.Watermarks == nil {
		state.Watermarks = DTStampWatermark{}
	}

	methodProp := incoming.Props.Get(goical.PropMethod)
	if methodProp == nil {
		return nil, nil, fmt.Errorf("itip: inbound message missing METHOD: %w", ErrMalformed)
	}
	method := Method(methodProp.Value)

	comps := schedulingComponents(incoming)
	if len(comps) == 0 {
		return nil, nil, fmt.Errorf("itip: inbound message has no components: %w", ErrMalformed)
	}

	uid, err := uniqueUID(comps)
	if err != nil {
		return nil, nil, err
	}

	if state.Stored != nil {
		storedComps := schedulingComponents(state.Stored)
		storedUID, _ := uniqueUID(storedComps)
		if storedUID != uid {
			return nil, nil, fmt.Errorf("itip: %w", ErrUidMismatch)
		}
		if err := checkOrganizerMatches(storedComps, comps); err != nil {
			return nil, nil, err
		}
	}

	switch method {
	case MethodRequest:
		return processRequest(uid, comps, state)
	case MethodCancel:
		return processCancel(uid, comps, state)
	case MethodAdd:
		return processAdd(uid, comps, state)
	case MethodReply:
		return processReply(uid, comps, state)
	case MethodRefresh:
		return state.Stored, []Notification{{Method: MethodRefresh, Dropped: false, Reason: "caller should re-send the latest REQUEST"}}, nil
	case MethodCounter:
		return processCounter(uid, comps, state)
	case MethodDeclineCounter:
		return processDeclineCounter(uid, comps, state)
	default:
		return nil, nil, fmt.Errorf("itip: method %q: %w", method, ErrUnsupportedMethod)
	}
}

func checkOrganizerMatches(storedComps, incomingComps []*Component) error {
	storedOrg := firstOrganizer(storedComps)
	incomingOrg := firstOrganizer(incomingComps)
	if storedOrg == nil || incomingOrg == nil {
		return nil
	}
	if NormalizeAddress(storedOrg.Value) != NormalizeAddress(incomingOrg.Value) {
		return fmt.Errorf("itip: %w", ErrOrganizerMismatch)
	}
	return nil
}

func processRequest(uid string, comps []*Component, state *InboundState) (*CalendarObject, []Notification, error) {
	if state.Stored == nil {
		cal := goical.NewCalendar()
		cal.Children = append(cal.Children, cloneComponents(comps)...)
		state.Stored = cal
		return cal, notifyAll(comps, MethodRequest), nil
	}

	var notes []Notification
	for _, c := range comps {
		instID, err := instanceIDOf(c)
		if err != nil {
			notes = append(notes, Notification{Dropped: true, Reason: err.Error()})
			continue
		}

		existing := findComponent(state.Stored, instID)
		incomingSeq := sequenceOf(c)
		if existing != nil && sequenceOf(existing) > incomingSeq {
			notes = append(notes, Notification{Instance: instID, Method: MethodRequest, Dropped: true, Reason: "stored SEQUENCE is newer"})
			continue
		}

		replaceOrAppendInstance(state.Stored, instID, c)
		notes = append(notes, Notification{Instance: instID, Method: MethodRequest})
	}
	return state.Stored, notes, nil
}

func processCancel(uid string, comps []*Component, state *InboundState) (*CalendarObject, []Notification, error) {
	if state.Stored == nil {
		return nil, nil, fmt.Errorf("itip: CANCEL for unknown object: %w", ErrMalformed)
	}

	var notes []Notification
	for _, c := range comps {
		instID, err := instanceIDOf(c)
		if err != nil {
			notes = append(notes, Notification{Dropped: true, Reason: err.Error()})
			continue
		}

		existing := findComponent(state.Stored, instID)
		if existing == nil {
			notes = append(notes, Notification{Instance: instID, Method: MethodCancel, Dropped: true, Reason: "no such instance"})
			continue
		}
		if sequenceOf(existing) > sequenceOf(c) {
			notes = append(notes, Notification{Instance: instID, Method: MethodCancel, Dropped: true, Reason: "stored SEQUENCE is newer"})
			continue
		}

		if instID.IsMain() {
			state.Stored = nil
			notes = append(notes, Notification{Instance: instID, Method: MethodCancel})
			return nil, notes, nil
		}

		existing.Props.Set(&goical.Prop{Name: goical.PropStatus, Value: "CANCELLED"})
		notes = append(notes, Notification{Instance: instID, Method: MethodCancel})
	}
	return state.Stored, notes, nil
}

func processAdd(uid string, comps []*Component, state *InboundState) (*CalendarObject, []Notification, error) {
	if state.Stored == nil {
		return nil, nil, fmt.Errorf("itip: ADD for unknown object: %w", ErrMalformed)
	}

	var notes []Notification
	for _, c := range comps {
		instID, err := instanceIDOf(c)
		if err != nil || instID.IsMain() {
			notes = append(notes, Notification{Dropped: true, Reason: "ADD requires a RECURRENCE-ID"})
			continue
		}

		existing := findComponent(state.Stored, instID)
		if existing != nil && sequenceOf(existing) >= sequenceOf(c) {
			notes = append(notes, Notification{Instance: instID, Method: MethodAdd, Dropped: true, Reason: "override already exists at >= sequence"})
			continue
		}

		replaceOrAppendInstance(state.Stored, instID, c)
		notes = append(notes, Notification{Instance: instID, Method: MethodAdd})
	}
	return state.Stored, notes, nil
}

func processReply(uid string, comps []*Component, state *InboundState) (*CalendarObject, []Notification, error) {
	if state.Stored == nil {
		return nil, nil, fmt.Errorf("itip: REPLY for unknown object: %w", ErrMalformed)
	}

	var notes []Notification
	for _, c := range comps {
		instID, err := instanceIDOf(c)
		if err != nil {
			notes = append(notes, Notification{Dropped: true, Reason: err.Error()})
			continue
		}

		attProps := c.Props.Values(goical.PropAttendee)
		if len(attProps) == 0 {
			notes = append(notes, Notification{Instance: instID, Method: MethodReply, Dropped: true, Reason: "no attendee in REPLY"})
			continue
		}
		attProp := attProps[0]
		addr := NormalizeAddress(attProp.Value)

		existing := findComponent(state.Stored, instID)
		if existing == nil {
			notes = append(notes, Notification{Instance: instID, Method: MethodReply, Dropped: true, Reason: "no such instance"})
			continue
		}

		existingAttr := findAttendee(existing, addr)
		if existingAttr == nil {
			notes = append(notes, Notification{Instance: instID, Method: MethodReply, Dropped: true, Reason: "unknown attendee"})
			continue
		}

		dtstamp, _, _ := parseDateTimeValue(c.Props.Get(goical.PropDateTimeStamp))
		key := watermarkKey(uid, instID, addr)
		if last, ok := state.Watermarks[key]; ok && dtstamp.Before(last) {
			notes = append(notes, Notification{Instance: instID, Method: MethodReply, Dropped: true, Reason: "stale DTSTAMP"})
			continue
		}
		state.Watermarks[key] = dtstamp

		partstat := attProp.Params.Get(goical.ParamParticipationStatus)
		if partstat != "" {
			setAttendeePartStat(existing, addr, partstat)
		}
		notes = append(notes, Notification{Instance: instID, Method: MethodReply})
	}
	return state.Stored, notes, nil
}

func processCounter(uid string, comps []*Component, state *InboundState) (*CalendarObject, []Notification, error) {
	var notes []Notification
	for _, c := range comps {
		instID, err := instanceIDOf(c)
		if err != nil {
			notes = append(notes, Notification{Dropped: true, Reason: err.Error()})
			continue
		}
		from := ""
		if attProps := c.Props.Values(goical.PropAttendee); len(attProps) > 0 {
			from = NormalizeAddress(attProps[0].Value)
		}
		state.Pending = append(state.Pending, PendingCounter{UID: uid, Instance: instID, From: from, Proposal: cloneComponent(c)})
		notes = append(notes, Notification{Instance: instID, Method: MethodCounter})
	}
	return state.Stored, notes, nil
}

func processDeclineCounter(uid string, comps []*Component, state *InboundState) (*CalendarObject, []Notification, error) {
	var notes []Notification
	for _, c := range comps {
		instID, err := instanceIDOf(c)
		if err != nil {
			continue
		}
		kept := state.Pending[:0]
		cleared := false
		for _, p := range state.Pending {
			if p.UID == uid && p.Instance == instID {
				cleared = true
				continue
			}
			kept = append(kept, p)
		}
		state.Pending = kept
		if cleared {
			notes = append(notes, Notification{Instance: instID, Method: MethodDeclineCounter})
		}
	}
	return state.Stored, notes, nil
}

func instanceIDOf(c *Component) (InstanceID, error) {
	recID := c.Props.Get(goical.PropRecurrenceID)
	if recID == nil {
		return MainInstance, nil
	}
	t, _, err := parseDateTimeValue(recID)
	if err != nil {
		return 0, fmt.Errorf("itip: invalid RECURRENCE-ID: %w", err)
	}
	return RecurrenceInstance(t), nil
}

func sequenceOf(c *Component) int {
	seq := 0
	if p := c.Props.Get(goical.PropSequence); p != nil {
		if v, err := strconv.Atoi(p.Value); err == nil {
			seq = v
		}
	}
	return seq
}

func findAttendee(c *Component, addr string) *goical.Prop {
	for _, p := range c.Props.Values(goical.PropAttendee) {
		if NormalizeAddress(p.Value) == addr {
			cp := p
			return &cp
		}
	}
	return nil
}

// setAttendeePartStat rewrites the PARTSTAT parameter on the ATTENDEE
// prop matching addr, preserving every other attendee untouched.
// Props.Set replaces the *entire* ATTENDEE value set for a component,
// so the matched prop can't be mutated and Set back in isolation —
// the full set is rebuilt via Del+Add instead, the same pattern the
// teacher uses when filtering a component's ATTENDEE list.
func setAttendeePartStat(c *Component, addr, partstat string) {
	attProps := c.Props.Values(goical.PropAttendee)
	c.Props.Del(goical.PropAttendee)
	for _, p := range attProps {
		if NormalizeAddress(p.Value) == addr {
			if p.Params == nil {
				p.Params = goical.Params{}
			}
			p.Params.Set(goical.ParamParticipationStatus, partstat)
		}
		c.Props.Add(&p)
	}
}

func replaceOrAppendInstance(cal *CalendarObject, id InstanceID, newComp *Component) {
	for i, c := range cal.Children {
		recID := c.Props.Get(goical.PropRecurrenceID)
		existingID := MainInstance
		if recID != nil {
			if t, _, err := parseDateTimeValue(recID); err == nil {
				existingID = RecurrenceInstance(t)
			}
		}
		if existingID == id {
			cal.Children[i] = cloneComponent(newComp)
			return
		}
	}
	cal.Children = append(cal.Children, cloneComponent(newComp))
}

func cloneComponents(comps []*Component) []*Component {
	out := make([]*Component, len(comps))
	for i, c := range comps {
		out[i] = cloneComponent(c)
	}
	return out
}

func notifyAll(comps []*Component, method Method) []Notification {
	out := make([]Notification, 0, len(comps))
	for _, c := range comps {
		id, err := instanceIDOf(c)
		if err != nil {
			continue
		}
		out = append(out, Notification{Instance: id, Method: method})
	}
	return out
}
